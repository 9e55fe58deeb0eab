package driven

import (
	"context"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

// ChunkSource is the ingestion pipeline's only view of chunking output.
// It exposes a run's materialised chunks read-only; the pipeline never
// re-chunks and never imports the chunker package.
type ChunkSource interface {
	// HasEnrichedDocs reports whether the run has normalised document
	// text materialised.
	HasEnrichedDocs(ctx context.Context, runID string) (bool, error)

	// ChunkCount returns the number of materialised chunks for a run.
	ChunkCount(ctx context.Context, runID string) (int, error)

	// EmbeddableDocCount returns the number of documents with chunks,
	// excluding the given skip list.
	EmbeddableDocCount(ctx context.Context, runID string, skipList []string) (int, error)

	// BelowThresholdPct returns the percentage of the run's chunks whose
	// token count is below minTokens. Advisory data only.
	BelowThresholdPct(ctx context.Context, runID string, minTokens int) (float64, error)

	// ListChunks returns the run's chunks in document order.
	ListChunks(ctx context.Context, runID string) ([]domain.Chunk, error)
}

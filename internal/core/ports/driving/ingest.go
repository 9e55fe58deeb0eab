package driving

import (
	"context"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

// EmbedRequest parameterises one embedding run.
type EmbedRequest struct {
	// RunID identifies the chunking run whose materialised chunks are
	// embedded.
	RunID string

	// SkipList excludes documents from embedding. Chunks of skipped
	// documents are filtered out before any provider call.
	SkipList []string
}

// IngestService turns a run's materialised chunks into stored vectors.
type IngestService interface {
	// Preflight evaluates structural readiness for the run. It returns
	// a fresh report; it performs no writes.
	Preflight(ctx context.Context, req EmbedRequest) (*domain.PreflightReport, error)

	// Embed runs preflight, then embeds the run's chunks in batches and
	// upserts the vectors. Returns domain.ErrRunBlocked when preflight
	// is BLOCKED and domain.ErrRunActive when another worker holds the
	// run. Batch failures are reported in the summary, not as an error.
	Embed(ctx context.Context, req EmbedRequest) (*domain.RunSummary, error)

	// EmbedRuns processes several runs concurrently, one worker per run.
	EmbedRuns(ctx context.Context, reqs []EmbedRequest) ([]*domain.RunSummary, error)
}

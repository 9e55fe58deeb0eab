package driving

import (
	"context"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

// ChunkBatchResult reports the outcome of chunking a batch of documents.
// A document that cannot be chunked within invariants is skipped and
// recorded; it never aborts the batch.
type ChunkBatchResult struct {
	Chunks  []domain.Chunk
	Skipped []domain.SkippedDocument
}

// ChunkingService splits normalised documents into bounded, addressable
// passages.
type ChunkingService interface {
	// ChunkDocument splits one document into ordered chunks satisfying
	// the hard token cap and coverage invariants. Returns
	// domain.ErrDocumentUnchunkable when the document cannot be split
	// within invariants.
	ChunkDocument(ctx context.Context, doc *domain.Document) ([]domain.Chunk, error)

	// ChunkBatch chunks many documents, skipping failures per document.
	ChunkBatch(ctx context.Context, docs []domain.Document) (*ChunkBatchResult, error)
}

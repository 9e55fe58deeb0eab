package driven

import (
	"context"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

// DocumentStore provides document and chunk persistence.
type DocumentStore interface {
	// SaveDocument stores or updates a document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by ID.
	// Returns domain.ErrNotFound if it does not exist.
	GetDocument(ctx context.Context, docID string) (*domain.Document, error)

	// ListDocuments returns all documents for a run.
	ListDocuments(ctx context.Context, runID string) ([]domain.Document, error)

	// SaveChunks stores a document's materialised chunks atomically.
	SaveChunks(ctx context.Context, runID string, chunks []domain.Chunk) error

	// GetChunk retrieves a chunk by ID.
	// Returns domain.ErrNotFound if it does not exist.
	GetChunk(ctx context.Context, chunkID string) (*domain.Chunk, error)

	// RecordSkip records a document the chunker skipped, with its reason.
	RecordSkip(ctx context.Context, runID string, skip domain.SkippedDocument) error

	// ListSkips returns the skipped documents for a run.
	ListSkips(ctx context.Context, runID string) ([]domain.SkippedDocument, error)
}

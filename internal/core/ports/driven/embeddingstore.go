package driven

import (
	"context"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

// EmbeddingStore provides embedding persistence. The store enforces
// uniqueness on (chunk_id, provider); upserting an existing pair updates
// the row in place and re-running ingestion on an unchanged chunk set
// inserts nothing. This constraint is the sole cross-worker coordination
// mechanism.
type EmbeddingStore interface {
	// ExpectedDimension returns the store's fixed vector dimension, or
	// 0 when the store holds no vectors yet and none was configured.
	ExpectedDimension(ctx context.Context) (int, error)

	// UpsertEmbeddings writes vectors keyed on (chunk_id, provider) and
	// returns the number of rows that were newly inserted.
	UpsertEmbeddings(ctx context.Context, embeddings []domain.Embedding) (int, error)

	// CountEmbeddings returns the number of stored rows for a provider.
	CountEmbeddings(ctx context.Context, provider string) (int, error)
}

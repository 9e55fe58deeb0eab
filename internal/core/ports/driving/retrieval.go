package driving

import (
	"context"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

// RetrievalService serves ranked hybrid retrieval over accumulated
// chunk and embedding state. Queries are independent, stateless and
// read-only; any number of callers may retrieve concurrently.
type RetrievalService interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error)
}

package driven

import (
	"context"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

// RunLog persists ingestion run summaries for later inspection and
// targeted retry. Optional: without one, summaries are only returned
// to the caller.
type RunLog interface {
	// SaveRunSummary stores or updates the summary for its
	// (run_id, provider) pair.
	SaveRunSummary(ctx context.Context, summary *domain.RunSummary) error

	// ListRunSummaries returns stored summaries, newest first. An empty
	// runID returns all runs.
	ListRunSummaries(ctx context.Context, runID string) ([]domain.RunSummary, error)
}

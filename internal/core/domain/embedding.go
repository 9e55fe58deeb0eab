package domain

import "time"

// Embedding is a vector tied to one chunk under one provider/model.
// Rows are unique on (ChunkID, Provider) and the dimension is constant
// per provider across the whole store.
type Embedding struct {
	ChunkID   string
	Provider  string
	Model     string
	Dimension int
	Vector    []float32
	CreatedAt time.Time
}

// BatchFailure records a provider batch that exhausted its retries.
// Failures are surfaced in the run summary for targeted retry; they do
// not abort the remaining batches.
type BatchFailure struct {
	// Batch is the zero-based batch index within the run.
	Batch int `json:"batch"`

	// DocIDs lists the documents whose chunks were in the failed batch.
	DocIDs []string `json:"doc_ids"`

	// ChunkIDs lists the affected chunks.
	ChunkIDs []string `json:"chunk_ids"`

	// Reason is the final error after retry exhaustion.
	Reason string `json:"reason"`
}

// RunSummary reports the outcome of one ingestion run.
type RunSummary struct {
	RunID          string         `json:"run_id"`
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	ChunksTotal    int            `json:"chunks_total"`
	ChunksSkipped  int            `json:"chunks_skipped"`
	ChunksEmbedded int            `json:"chunks_embedded"`
	RowsInserted   int            `json:"rows_inserted"`
	FailedBatches  []BatchFailure `json:"failed_batches,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// Failed reports whether any batch in the run exhausted its retries.
func (s *RunSummary) Failed() bool {
	return len(s.FailedBatches) > 0
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driving"
	"github.com/lodestone-kb/lodestone/internal/retry"
)

// Ensure IngestService implements the interface.
var _ driving.IngestService = (*IngestService)(nil)

// Batch size bounds for provider calls.
const (
	MinBatchSize     = 50
	MaxBatchSize     = 128
	DefaultBatchSize = 64
)

// DefaultMinTokenThreshold feeds the advisory below-threshold metric.
const DefaultMinTokenThreshold = 200

// IngestConfig tunes the embedding pipeline.
type IngestConfig struct {
	// BatchSize is the number of chunks per provider call.
	BatchSize int

	// MinTokenThreshold marks chunks as below-threshold in the
	// preflight report. Advisory only.
	MinTokenThreshold int

	// RequestsPerSecond throttles provider calls. Zero disables the
	// limiter.
	RequestsPerSecond float64

	// MaxWorkers caps concurrent runs in EmbedRuns.
	MaxWorkers int
}

// Validate reports whether the configuration is usable. A failing
// configuration blocks preflight with CONFIG_INVALID.
func (c IngestConfig) Validate() error {
	if c.BatchSize < MinBatchSize || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size %d outside [%d, %d]", c.BatchSize, MinBatchSize, MaxBatchSize)
	}
	if c.MinTokenThreshold < 0 {
		return fmt.Errorf("min token threshold %d is negative", c.MinTokenThreshold)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second %f is negative", c.RequestsPerSecond)
	}
	return nil
}

// DefaultIngestConfig returns the standard pipeline tuning.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		BatchSize:         DefaultBatchSize,
		MinTokenThreshold: DefaultMinTokenThreshold,
		RequestsPerSecond: 4,
		MaxWorkers:        4,
	}
}

// IngestService embeds a run's materialised chunks and persists the
// vectors. Runs are serialised per run ID; distinct runs may proceed
// concurrently through EmbedRuns.
type IngestService struct {
	source    driven.ChunkSource
	embedder  driven.EmbeddingService
	store     driven.EmbeddingStore
	tokenizer driven.Tokenizer
	sink      driven.EventSink
	runLog    driven.RunLog

	cfg     IngestConfig
	cfgErr  error
	policy  retry.Policy
	limiter *rate.Limiter

	mu     sync.Mutex
	active map[string]struct{}
}

// IngestOption configures an IngestService.
type IngestOption func(*IngestService)

// WithIngestConfig replaces the default pipeline tuning.
func WithIngestConfig(cfg IngestConfig) IngestOption {
	return func(s *IngestService) { s.cfg = cfg }
}

// WithRetryPolicy replaces the default per-batch retry policy.
func WithRetryPolicy(p retry.Policy) IngestOption {
	return func(s *IngestService) { s.policy = p }
}

// WithIngestEventSink sets the sink for pipeline events.
func WithIngestEventSink(sink driven.EventSink) IngestOption {
	return func(s *IngestService) { s.sink = sink }
}

// WithRunLog persists run summaries after each Embed. Save failures are
// emitted as events and never fail the run.
func WithRunLog(log driven.RunLog) IngestOption {
	return func(s *IngestService) { s.runLog = log }
}

// NewIngestService creates the embedding pipeline.
// The tokenizer is only consulted for presence; a nil tokenizer blocks
// preflight with TOKENIZER_MISSING rather than failing construction.
func NewIngestService(
	source driven.ChunkSource,
	embedder driven.EmbeddingService,
	store driven.EmbeddingStore,
	tokenizer driven.Tokenizer,
	opts ...IngestOption,
) *IngestService {
	s := &IngestService{
		source:    source,
		embedder:  embedder,
		store:     store,
		tokenizer: tokenizer,
		cfg:       DefaultIngestConfig(),
		policy:    retry.DefaultPolicy(),
		active:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfgErr = s.cfg.Validate()
	if s.cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), 1)
	}
	return s
}

// Embed runs preflight and, when READY, embeds the run's chunks batch
// by batch. Batch failures after retry exhaustion are recorded in the
// summary and do not abort the remaining batches.
func (s *IngestService) Embed(ctx context.Context, req driving.EmbedRequest) (*domain.RunSummary, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("%w: run id required", domain.ErrInvalidInput)
	}
	if s.embedder == nil {
		return nil, errors.New("embedding provider not configured")
	}

	if !s.acquire(req.RunID) {
		return nil, fmt.Errorf("%w: run %s", domain.ErrRunActive, req.RunID)
	}
	defer s.release(req.RunID)

	report, err := s.Preflight(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("preflight %s: %w", req.RunID, err)
	}
	if !report.Ready() {
		s.emit(driven.LevelWarn, "run.blocked", map[string]any{
			"run_id": req.RunID, "reasons": report.Reasons,
		})
		return nil, fmt.Errorf("%w: %s (%v)", domain.ErrRunBlocked, req.RunID, report.Reasons)
	}

	expected, err := s.resolveDimension(ctx)
	if err != nil {
		return nil, err
	}

	chunks, err := s.source.ListChunks(ctx, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("list chunks %s: %w", req.RunID, err)
	}

	summary := &domain.RunSummary{
		RunID:       req.RunID,
		Provider:    s.embedder.ProviderName(),
		Model:       s.embedder.ModelName(),
		ChunksTotal: len(chunks),
		StartedAt:   time.Now().UTC(),
	}

	// Skip-list filtering happens here, before any provider call.
	embeddable := chunks[:0:0]
	for _, chunk := range chunks {
		if report.Skipped(chunk.DocID) {
			summary.ChunksSkipped++
			continue
		}
		embeddable = append(embeddable, chunk)
	}

	s.emit(driven.LevelInfo, "run.started", map[string]any{
		"run_id": req.RunID, "chunks": len(embeddable), "skipped": summary.ChunksSkipped,
	})

	for batchIdx := 0; batchIdx*s.cfg.BatchSize < len(embeddable); batchIdx++ {
		if err := ctx.Err(); err != nil {
			summary.FinishedAt = time.Now().UTC()
			s.logRun(summary)
			return summary, err
		}

		lo := batchIdx * s.cfg.BatchSize
		hi := lo + s.cfg.BatchSize
		if hi > len(embeddable) {
			hi = len(embeddable)
		}
		batch := embeddable[lo:hi]

		inserted, err := s.embedBatch(ctx, batch, expected)
		if err != nil {
			var mismatch *domain.DimensionMismatchError
			if errors.As(err, &mismatch) {
				// A wrong-sized vector poisons the store; abort
				// instead of recording a retryable failure.
				summary.FinishedAt = time.Now().UTC()
				s.logRun(summary)
				return summary, err
			}
			summary.FailedBatches = append(summary.FailedBatches, domain.BatchFailure{
				Batch:    batchIdx,
				DocIDs:   docIDs(batch),
				ChunkIDs: chunkIDs(batch),
				Reason:   err.Error(),
			})
			s.emit(driven.LevelError, "batch.failed", map[string]any{
				"run_id": req.RunID, "batch": batchIdx, "chunks": len(batch), "reason": err.Error(),
			})
			continue
		}

		summary.ChunksEmbedded += len(batch)
		summary.RowsInserted += inserted
	}

	summary.FinishedAt = time.Now().UTC()
	s.emit(driven.LevelInfo, "run.finished", map[string]any{
		"run_id":   req.RunID,
		"embedded": summary.ChunksEmbedded,
		"inserted": summary.RowsInserted,
		"failed":   len(summary.FailedBatches),
	})
	s.logRun(summary)
	return summary, nil
}

// logRun persists the summary when a run log is configured. Uses a
// fresh context so a cancelled run still gets its record written.
func (s *IngestService) logRun(summary *domain.RunSummary) {
	if s.runLog == nil {
		return
	}
	if err := s.runLog.SaveRunSummary(context.Background(), summary); err != nil {
		s.emit(driven.LevelWarn, "summary.save_failed", map[string]any{
			"run_id": summary.RunID, "reason": err.Error(),
		})
	}
}

// EmbedRuns processes several runs concurrently with one worker per
// run. Summaries are returned in request order; a failed run leaves a
// nil summary and contributes to the joined error.
func (s *IngestService) EmbedRuns(ctx context.Context, reqs []driving.EmbedRequest) ([]*domain.RunSummary, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	workers := s.cfg.MaxWorkers
	if workers <= 0 || workers > len(reqs) {
		workers = len(reqs)
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	summaries := make([]*domain.RunSummary, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			summaries[i], errs[i] = s.Embed(ctx, req)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("run %s: %w", req.RunID, errs[i])
			}
		})
		if submitErr != nil {
			errs[i] = fmt.Errorf("submit run %s: %w", req.RunID, submitErr)
			wg.Done()
		}
	}
	wg.Wait()

	return summaries, errors.Join(errs...)
}

// resolveDimension checks the provider's vector size against the
// store's fixed dimension before any write. Providers that do not
// declare a dimension get one trial call.
func (s *IngestService) resolveDimension(ctx context.Context) (int, error) {
	expected, err := s.store.ExpectedDimension(ctx)
	if err != nil {
		return 0, fmt.Errorf("expected dimension: %w", err)
	}

	actual := s.embedder.Dimensions()
	if actual == 0 {
		vec, err := s.embedder.Embed(ctx, "dimension probe")
		if err != nil {
			return 0, fmt.Errorf("dimension probe: %w", err)
		}
		actual = len(vec)
	}

	if expected > 0 && actual != expected {
		return 0, &domain.DimensionMismatchError{
			Expected: expected,
			Actual:   actual,
			Provider: s.embedder.ProviderName(),
			Model:    s.embedder.ModelName(),
		}
	}
	if expected == 0 {
		expected = actual
	}
	return expected, nil
}

// embedBatch embeds one batch with retries and upserts the vectors.
// Returns the number of newly inserted rows.
func (s *IngestService) embedBatch(ctx context.Context, batch []domain.Chunk, expected int) (int, error) {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}

	var vectors [][]float32
	err := s.policy.Do(ctx, func() error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var embedErr error
		vectors, embedErr = s.embedder.EmbedBatch(ctx, texts)
		return embedErr
	})
	if err != nil {
		return 0, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("embed batch: got %d vectors for %d chunks", len(vectors), len(batch))
	}

	now := time.Now().UTC()
	embeddings := make([]domain.Embedding, len(batch))
	for i, vec := range vectors {
		if len(vec) != expected {
			return 0, &domain.DimensionMismatchError{
				Expected: expected,
				Actual:   len(vec),
				Provider: s.embedder.ProviderName(),
				Model:    s.embedder.ModelName(),
			}
		}
		embeddings[i] = domain.Embedding{
			ChunkID:   batch[i].ChunkID,
			Provider:  s.embedder.ProviderName(),
			Model:     s.embedder.ModelName(),
			Dimension: expected,
			Vector:    vec,
			CreatedAt: now,
		}
	}

	inserted, err := s.store.UpsertEmbeddings(ctx, embeddings)
	if err != nil {
		return 0, fmt.Errorf("upsert embeddings: %w", err)
	}
	return inserted, nil
}

// acquire claims exclusive ownership of a run within this process.
func (s *IngestService) acquire(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.active[runID]; held {
		return false
	}
	s.active[runID] = struct{}{}
	return true
}

func (s *IngestService) release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, runID)
}

func (s *IngestService) emit(level driven.EventLevel, name string, fields map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(driven.Event{
		Component: "ingest",
		Name:      name,
		Level:     level,
		Fields:    fields,
		At:        time.Now().UTC(),
	})
}

func docIDs(chunks []domain.Chunk) []string {
	seen := make(map[string]bool, len(chunks))
	var ids []string
	for _, chunk := range chunks {
		if !seen[chunk.DocID] {
			seen[chunk.DocID] = true
			ids = append(ids, chunk.DocID)
		}
	}
	return ids
}

func chunkIDs(chunks []domain.Chunk) []string {
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ChunkID
	}
	return ids
}

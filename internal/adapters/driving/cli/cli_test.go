package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/lodestone-kb/lodestone/internal/adapters/driven/config/file"
	"github.com/lodestone-kb/lodestone/internal/core/domain"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driving"
)

// fakeChunking emits one chunk per document and skips empty bodies.
type fakeChunking struct{}

func (f *fakeChunking) ChunkDocument(_ context.Context, doc *domain.Document) ([]domain.Chunk, error) {
	if doc.BodyText == "" {
		return nil, domain.ErrDocumentUnchunkable
	}
	return []domain.Chunk{{
		ChunkID:    domain.ChunkID(doc.DocID, 0),
		DocID:      doc.DocID,
		Text:       doc.BodyText,
		TokenCount: len(doc.BodyText) / 4,
		CharEnd:    len(doc.BodyText),
		Traceability: domain.Traceability{
			Title: doc.Title, URL: doc.URL, SourceSystem: doc.SourceSystem,
		},
	}}, nil
}

func (f *fakeChunking) ChunkBatch(ctx context.Context, docs []domain.Document) (*driving.ChunkBatchResult, error) {
	result := &driving.ChunkBatchResult{}
	for i := range docs {
		chunks, err := f.ChunkDocument(ctx, &docs[i])
		if err != nil {
			result.Skipped = append(result.Skipped, domain.SkippedDocument{
				DocID: docs[i].DocID, Reason: "unchunkable",
			})
			continue
		}
		result.Chunks = append(result.Chunks, chunks...)
	}
	return result, nil
}

// fakeIngest returns canned reports and records the last request.
type fakeIngest struct {
	report  *domain.PreflightReport
	summary *domain.RunSummary
	lastReq driving.EmbedRequest
	err     error
}

func (f *fakeIngest) Preflight(_ context.Context, req driving.EmbedRequest) (*domain.PreflightReport, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	report := *f.report
	report.RunID = req.RunID
	return &report, nil
}

func (f *fakeIngest) Embed(_ context.Context, req driving.EmbedRequest) (*domain.RunSummary, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	summary := *f.summary
	summary.RunID = req.RunID
	return &summary, nil
}

func (f *fakeIngest) EmbedRuns(ctx context.Context, reqs []driving.EmbedRequest) ([]*domain.RunSummary, error) {
	out := make([]*domain.RunSummary, len(reqs))
	for i, req := range reqs {
		s, err := f.Embed(ctx, req)
		if err != nil {
			return out, err
		}
		out[i] = s
	}
	return out, nil
}

// fakeRetrieval returns canned hits and records the last request.
type fakeRetrieval struct {
	result  *domain.RetrievalResult
	lastReq domain.RetrievalRequest
	err     error
}

func (f *fakeRetrieval) Retrieve(_ context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeDocStore is an in-memory DocumentStore.
type fakeDocStore struct {
	docs   map[string]domain.Document
	chunks map[string]domain.Chunk
	skips  map[string][]domain.SkippedDocument
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{
		docs:   make(map[string]domain.Document),
		chunks: make(map[string]domain.Chunk),
		skips:  make(map[string][]domain.SkippedDocument),
	}
}

func (f *fakeDocStore) SaveDocument(_ context.Context, doc *domain.Document) error {
	f.docs[doc.DocID] = *doc
	return nil
}

func (f *fakeDocStore) GetDocument(_ context.Context, docID string) (*domain.Document, error) {
	doc, ok := f.docs[docID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, domain.ErrNotFound)
	}
	return &doc, nil
}

func (f *fakeDocStore) ListDocuments(_ context.Context, runID string) ([]domain.Document, error) {
	var out []domain.Document
	for _, doc := range f.docs {
		if doc.RunID == runID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeDocStore) SaveChunks(_ context.Context, _ string, chunks []domain.Chunk) error {
	for _, c := range chunks {
		f.chunks[c.ChunkID] = c
	}
	return nil
}

func (f *fakeDocStore) GetChunk(_ context.Context, chunkID string) (*domain.Chunk, error) {
	c, ok := f.chunks[chunkID]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
	}
	return &c, nil
}

func (f *fakeDocStore) RecordSkip(_ context.Context, runID string, skip domain.SkippedDocument) error {
	f.skips[runID] = append(f.skips[runID], skip)
	return nil
}

func (f *fakeDocStore) ListSkips(_ context.Context, runID string) ([]domain.SkippedDocument, error) {
	return f.skips[runID], nil
}

// fakeRunLog holds run summaries in memory.
type fakeRunLog struct {
	summaries []domain.RunSummary
}

func (f *fakeRunLog) SaveRunSummary(_ context.Context, summary *domain.RunSummary) error {
	f.summaries = append(f.summaries, *summary)
	return nil
}

func (f *fakeRunLog) ListRunSummaries(_ context.Context, runID string) ([]domain.RunSummary, error) {
	if runID == "" {
		return f.summaries, nil
	}
	var out []domain.RunSummary
	for _, s := range f.summaries {
		if s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}

// setupTestServices installs fakes and returns the store plus a cleanup
// restoring the package state and per-command flag defaults.
func setupTestServices() (*fakeDocStore, *fakeIngest, *fakeRetrieval, func()) {
	store := newFakeDocStore()
	ingest := &fakeIngest{
		report: &domain.PreflightReport{
			Status:         domain.PreflightReady,
			EmbeddableDocs: 3,
		},
		summary: &domain.RunSummary{
			Provider:       "mock",
			Model:          "mock-embed",
			ChunksTotal:    10,
			ChunksEmbedded: 10,
			RowsInserted:   10,
			StartedAt:      time.Now(),
			FinishedAt:     time.Now().Add(time.Second),
		},
	}
	retrieval := &fakeRetrieval{
		result: &domain.RetrievalResult{
			Hits: []domain.RetrievalHit{{
				ChunkID:    "doc-1#0000",
				DocID:      "doc-1",
				Title:      "Deployment Guide",
				URL:        "https://kb.example.com/doc-1",
				Snippet:    "Deployments roll out in waves.",
				FusedScore: 0.0325,
			}},
		},
	}

	SetServices(Services{
		Config:    file.Default(),
		Chunking:  &fakeChunking{},
		Ingest:    ingest,
		Retrieval: retrieval,
		Documents: store,
		Runs: &fakeRunLog{summaries: []domain.RunSummary{{
			RunID:          "run-1",
			Provider:       "mock",
			Model:          "mock-embed",
			ChunksTotal:    10,
			ChunksEmbedded: 10,
			RowsInserted:   10,
			FinishedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}}},
	})

	cleanup := func() {
		SetServices(Services{Config: file.Default()})
		chunkRunID, chunkExport, chunkJSON, chunkDryRun = "", "", false, false
		preflightSkip, preflightJSON = nil, false
		embedSkip, embedJSON = nil, false
		runsJSON = false
		searchLimit, searchJSON = 0, false
		searchSpaces, searchExpand, searchContext = nil, false, false
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}
	return store, ingest, retrieval, cleanup
}

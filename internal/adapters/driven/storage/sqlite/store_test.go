package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), WithVectorDimension(4))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testDocument(docID, runID string) *domain.Document {
	return &domain.Document{
		DocID:        docID,
		RunID:        runID,
		Title:        "Title of " + docID,
		URL:          "https://wiki.example.com/" + docID,
		SourceSystem: "wiki",
		Space:        "ENG",
		DocClass:     "runbook",
		BodyText:     "Body text for " + docID,
		Sections: []domain.Section{
			{Heading: "Intro", Level: 1, Offset: 0},
		},
	}
}

func testChunk(docID string, ordinal int, text string) domain.Chunk {
	return domain.Chunk{
		ChunkID:       domain.ChunkID(docID, ordinal),
		DocID:         docID,
		Ordinal:       ordinal,
		Text:          text,
		TokenCount:    len(text) / 4,
		CharStart:     ordinal * 100,
		CharEnd:       ordinal*100 + len(text),
		ChunkType:     domain.ChunkTypeParagraph,
		SplitStrategy: domain.SplitNone,
		Traceability: domain.Traceability{
			Title:        "Title of " + docID,
			URL:          "https://wiki.example.com/" + docID,
			SourceSystem: "wiki",
		},
	}
}

func TestDocumentStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	ctx := context.Background()

	doc := testDocument("doc-1", "run-1")
	require.NoError(t, docs.SaveDocument(ctx, doc))

	got, err := docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.DocID, got.DocID)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.Space, got.Space)
	assert.Equal(t, doc.DocClass, got.DocClass)
	assert.Equal(t, doc.BodyText, got.BodyText)
	require.Len(t, got.Sections, 1)
	assert.Equal(t, "Intro", got.Sections[0].Heading)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestDocumentStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.DocumentStore().GetDocument(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_SaveDocumentUpsert(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	ctx := context.Background()

	doc := testDocument("doc-1", "run-1")
	require.NoError(t, docs.SaveDocument(ctx, doc))
	doc.Title = "Renamed"
	require.NoError(t, docs.SaveDocument(ctx, doc))

	got, err := docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	listed, err := docs.ListDocuments(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestDocumentStore_ChunkRoundTrip(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, testDocument("doc-1", "run-1")))
	chunks := []domain.Chunk{
		testChunk("doc-1", 0, "First chunk about deployment procedures."),
		testChunk("doc-1", 1, "Second chunk about rollback steps."),
	}
	chunks[1].UndersizeReason = "no adjacent chunk with capacity"
	require.NoError(t, docs.SaveChunks(ctx, "run-1", chunks))

	got, err := docs.GetChunk(ctx, "doc-1#0001")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.DocID)
	assert.Equal(t, 1, got.Ordinal)
	assert.Equal(t, domain.ChunkTypeParagraph, got.ChunkType)
	assert.Equal(t, "Title of doc-1", got.Traceability.Title)
	assert.Equal(t, "no adjacent chunk with capacity", got.UndersizeReason)

	_, err = docs.GetChunk(ctx, "doc-1#0099")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_Skips(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	ctx := context.Background()

	skip := domain.SkippedDocument{DocID: "doc-bad", Reason: "empty body"}
	require.NoError(t, docs.RecordSkip(ctx, "run-1", skip))
	// Re-recording updates rather than duplicating.
	skip.Reason = "incomplete traceability"
	require.NoError(t, docs.RecordSkip(ctx, "run-1", skip))

	skips, err := docs.ListSkips(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, skips, 1)
	assert.Equal(t, "incomplete traceability", skips[0].Reason)
}

func TestChunkSource_PreflightQueries(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	source := store.ChunkSource()
	ctx := context.Background()

	enriched, err := source.HasEnrichedDocs(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, enriched)

	count, err := source.ChunkCount(ctx, "run-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, docs.SaveDocument(ctx, testDocument("doc-1", "run-1")))
	require.NoError(t, docs.SaveDocument(ctx, testDocument("doc-2", "run-1")))
	require.NoError(t, docs.SaveChunks(ctx, "run-1", []domain.Chunk{
		testChunk("doc-1", 0, "Long enough content that counts plenty of tokens for the threshold check."),
		testChunk("doc-1", 1, "tiny"),
		testChunk("doc-2", 0, "Another chunk with a reasonable amount of content in it for tokens."),
	}))

	enriched, err = source.HasEnrichedDocs(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, enriched)

	count, err = source.ChunkCount(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	embeddable, err := source.EmbeddableDocCount(ctx, "run-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, embeddable)

	embeddable, err = source.EmbeddableDocCount(ctx, "run-1", []string{"doc-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, embeddable)

	// One of three chunks is below a 5-token threshold.
	pct, err := source.BelowThresholdPct(ctx, "run-1", 5)
	require.NoError(t, err)
	assert.InDelta(t, 100.0/3.0, pct, 0.01)

	chunks, err := source.ListChunks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "doc-1#0000", chunks[0].ChunkID)
	assert.Equal(t, "doc-1#0001", chunks[1].ChunkID)
	assert.Equal(t, "doc-2#0000", chunks[2].ChunkID)
}

func TestEmbeddingStore_UpsertCountsInserts(t *testing.T) {
	store := newTestStore(t)
	embeds := store.EmbeddingStore()
	ctx := context.Background()

	dim, err := embeds.ExpectedDimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, dim)

	batch := []domain.Embedding{
		{ChunkID: "doc-1#0000", Provider: "openai", Model: "te3s", Dimension: 4, Vector: []float32{1, 0, 0, 0}, CreatedAt: time.Now().UTC()},
		{ChunkID: "doc-1#0001", Provider: "openai", Model: "te3s", Dimension: 4, Vector: []float32{0, 1, 0, 0}, CreatedAt: time.Now().UTC()},
	}

	inserted, err := embeds.UpsertEmbeddings(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Same pairs again: updated in place, nothing inserted.
	batch[0].Vector = []float32{0.5, 0.5, 0, 0}
	inserted, err = embeds.UpsertEmbeddings(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	// Same chunk under a different provider is a fresh row.
	inserted, err = embeds.UpsertEmbeddings(ctx, []domain.Embedding{
		{ChunkID: "doc-1#0000", Provider: "ollama", Model: "nomic", Dimension: 4, Vector: []float32{0, 0, 1, 0}, CreatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	count, err := embeds.CountEmbeddings(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = embeds.CountEmbeddings(ctx, "ollama")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEmbeddingStore_ExpectedDimensionFallback(t *testing.T) {
	// No configured dimension: the first stored vector sets the standard.
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	embeds := store.EmbeddingStore()
	ctx := context.Background()

	dim, err := embeds.ExpectedDimension(ctx)
	require.NoError(t, err)
	assert.Zero(t, dim)

	_, err = embeds.UpsertEmbeddings(ctx, []domain.Embedding{
		{ChunkID: "doc-1#0000", Provider: "openai", Model: "te3s", Dimension: 4, Vector: []float32{1, 0, 0, 0}, CreatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)

	dim, err = embeds.ExpectedDimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, dim)

	// A failing query surfaces instead of reading as an empty store.
	require.NoError(t, store.Close())
	_, err = embeds.ExpectedDimension(ctx)
	assert.Error(t, err)
}

func TestRunLog_SaveAndList(t *testing.T) {
	store := newTestStore(t)
	runs := store.RunLog()
	ctx := context.Background()

	first := &domain.RunSummary{
		RunID: "run-1", Provider: "openai", Model: "te3s",
		ChunksTotal: 10, ChunksEmbedded: 8, ChunksSkipped: 2, RowsInserted: 8,
		FailedBatches: []domain.BatchFailure{
			{Batch: 1, DocIDs: []string{"doc-3"}, ChunkIDs: []string{"doc-3#0000"}, Reason: "rate limited"},
		},
		StartedAt:  time.Now().UTC().Add(-time.Minute),
		FinishedAt: time.Now().UTC().Add(-30 * time.Second),
	}
	second := &domain.RunSummary{
		RunID: "run-2", Provider: "openai", Model: "te3s",
		ChunksTotal: 5, ChunksEmbedded: 5, RowsInserted: 5,
		StartedAt:  time.Now().UTC().Add(-10 * time.Second),
		FinishedAt: time.Now().UTC(),
	}
	require.NoError(t, runs.SaveRunSummary(ctx, first))
	require.NoError(t, runs.SaveRunSummary(ctx, second))

	all, err := runs.ListRunSummaries(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-2", all[0].RunID)
	assert.Equal(t, "run-1", all[1].RunID)
	require.Len(t, all[1].FailedBatches, 1)
	assert.Equal(t, "rate limited", all[1].FailedBatches[0].Reason)
	assert.Equal(t, []string{"doc-3#0000"}, all[1].FailedBatches[0].ChunkIDs)

	// Re-running the same (run_id, provider) replaces the record.
	first.RowsInserted = 10
	first.FailedBatches = nil
	require.NoError(t, runs.SaveRunSummary(ctx, first))

	only, err := runs.ListRunSummaries(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, 10, only[0].RowsInserted)
	assert.Empty(t, only[0].FailedBatches)
}

func TestLexicalIndex_SearchText(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, testDocument("doc-1", "run-1")))
	doc2 := testDocument("doc-2", "run-1")
	doc2.Space = "OPS"
	require.NoError(t, docs.SaveDocument(ctx, doc2))

	require.NoError(t, docs.SaveChunks(ctx, "run-1", []domain.Chunk{
		testChunk("doc-1", 0, "Kubernetes deployment rollout procedure for the api service."),
		testChunk("doc-1", 1, "Unrelated notes about quarterly planning."),
		testChunk("doc-2", 0, "Deployment checklist for the batch pipeline."),
	}))

	hits, err := store.LexicalIndex().SearchText(ctx, "deployment rollout", 10, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(hits), 2)
	assert.Equal(t, "doc-1#0000", hits[0].ChunkID, "chunk matching both terms ranks first")
	assert.Greater(t, hits[0].Score, hits[1].Score)

	// Space whitelist restricts candidates.
	hits, err = store.LexicalIndex().SearchText(ctx, "deployment", 10, []string{"OPS"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-2#0000", hits[0].ChunkID)

	// Punctuation in the query never breaks match syntax.
	_, err = store.LexicalIndex().SearchText(ctx, `how do I "deploy" (fast)?`, 10, nil)
	assert.NoError(t, err)
}

func TestVectorSearcher_CosineOrder(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	embeds := store.EmbeddingStore()
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, testDocument("doc-1", "run-1")))
	var chunks []domain.Chunk
	for i := 0; i < 3; i++ {
		chunks = append(chunks, testChunk("doc-1", i, fmt.Sprintf("chunk %d", i)))
	}
	require.NoError(t, docs.SaveChunks(ctx, "run-1", chunks))

	_, err := embeds.UpsertEmbeddings(ctx, []domain.Embedding{
		{ChunkID: "doc-1#0000", Provider: "mock", Model: "m", Dimension: 4, Vector: []float32{1, 0, 0, 0}, CreatedAt: time.Now().UTC()},
		{ChunkID: "doc-1#0001", Provider: "mock", Model: "m", Dimension: 4, Vector: []float32{0.9, 0.1, 0, 0}, CreatedAt: time.Now().UTC()},
		{ChunkID: "doc-1#0002", Provider: "mock", Model: "m", Dimension: 4, Vector: []float32{0, 0, 1, 0}, CreatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)

	hits, err := store.VectorSearcher().SearchVectors(ctx, []float32{1, 0, 0, 0}, "mock", 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-1#0000", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "doc-1#0001", hits[1].ChunkID)

	// Vectors from other providers are invisible.
	hits, err = store.VectorSearcher().SearchVectors(ctx, []float32{1, 0, 0, 0}, "other", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorSearcher_SpaceFilter(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	ctx := context.Background()

	engDoc := testDocument("doc-eng", "run-1")
	opsDoc := testDocument("doc-ops", "run-1")
	opsDoc.Space = "OPS"
	require.NoError(t, docs.SaveDocument(ctx, engDoc))
	require.NoError(t, docs.SaveDocument(ctx, opsDoc))
	require.NoError(t, docs.SaveChunks(ctx, "run-1", []domain.Chunk{
		testChunk("doc-eng", 0, "eng content"),
		testChunk("doc-ops", 0, "ops content"),
	}))

	_, err := store.EmbeddingStore().UpsertEmbeddings(ctx, []domain.Embedding{
		{ChunkID: "doc-eng#0000", Provider: "mock", Model: "m", Dimension: 4, Vector: []float32{1, 0, 0, 0}, CreatedAt: time.Now().UTC()},
		{ChunkID: "doc-ops#0000", Provider: "mock", Model: "m", Dimension: 4, Vector: []float32{1, 0, 0, 0}, CreatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)

	hits, err := store.VectorSearcher().SearchVectors(ctx, []float32{1, 0, 0, 0}, "mock", 10, []string{"OPS"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-ops#0000", hits[0].ChunkID)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, WithVectorDimension(4))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.DocumentStore().SaveDocument(ctx, testDocument("doc-1", "run-1")))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir, WithVectorDimension(4))
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.DocumentStore().GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Title of doc-1", got.Title)
}

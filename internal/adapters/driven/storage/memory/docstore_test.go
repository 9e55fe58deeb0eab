package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

func testChunk(docID string, ordinal, tokens int) domain.Chunk {
	return domain.Chunk{
		ChunkID:    domain.ChunkID(docID, ordinal),
		DocID:      docID,
		Ordinal:    ordinal,
		Text:       "chunk text",
		TokenCount: tokens,
		Traceability: domain.Traceability{
			Title: "Title", URL: "https://kb.example.com/" + docID,
		},
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	doc := &domain.Document{DocID: "doc-1", Title: "Guide", RunID: "run-1", BodyText: "body"}
	require.NoError(t, store.SaveDocument(ctx, doc))

	got, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Guide", got.Title)

	_, err = store.GetDocument(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListDocuments_FiltersByRunAndSorts(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	require.NoError(t, store.SaveDocument(ctx, &domain.Document{DocID: "doc-b", RunID: "run-1"}))
	require.NoError(t, store.SaveDocument(ctx, &domain.Document{DocID: "doc-a", RunID: "run-1"}))
	require.NoError(t, store.SaveDocument(ctx, &domain.Document{DocID: "doc-c", RunID: "run-2"}))

	docs, err := store.ListDocuments(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-a", docs[0].DocID)
	assert.Equal(t, "doc-b", docs[1].DocID)
}

func TestChunkLookupAndSkips(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	require.NoError(t, store.SaveChunks(ctx, "run-1", []domain.Chunk{testChunk("doc-1", 0, 100)}))

	chunk, err := store.GetChunk(ctx, "doc-1#0000")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", chunk.DocID)

	_, err = store.GetChunk(ctx, "doc-9#0000")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.RecordSkip(ctx, "run-1", domain.SkippedDocument{DocID: "doc-2", Reason: "empty body"}))
	skips, err := store.ListSkips(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, skips, 1)
	assert.Equal(t, "doc-2", skips[0].DocID)
}

func TestChunkSourceView(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	require.NoError(t, store.SaveDocument(ctx, &domain.Document{DocID: "doc-1", RunID: "run-1", BodyText: "body"}))
	require.NoError(t, store.SaveChunks(ctx, "run-1", []domain.Chunk{
		testChunk("doc-1", 1, 300),
		testChunk("doc-1", 0, 50),
		testChunk("doc-2", 0, 400),
	}))

	enriched, err := store.HasEnrichedDocs(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, enriched)

	count, err := store.ChunkCount(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	embeddable, err := store.EmbeddableDocCount(ctx, "run-1", []string{"doc-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, embeddable)

	pct, err := store.BelowThresholdPct(ctx, "run-1", 200)
	require.NoError(t, err)
	assert.InDelta(t, 100.0/3.0, pct, 0.01)

	chunks, err := store.ListChunks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "doc-1#0000", chunks[0].ChunkID)
	assert.Equal(t, "doc-1#0001", chunks[1].ChunkID)
	assert.Equal(t, "doc-2#0000", chunks[2].ChunkID)
}

func TestEmptyRunIsCold(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	enriched, err := store.HasEnrichedDocs(ctx, "run-none")
	require.NoError(t, err)
	assert.False(t, enriched)

	pct, err := store.BelowThresholdPct(ctx, "run-none", 200)
	require.NoError(t, err)
	assert.Zero(t, pct)
}

// Package memory provides in-memory driven port implementations.
// They back dry runs and tests where persistence is unwanted.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
)

// Ensure DocumentStore implements the interfaces.
var (
	_ driven.DocumentStore = (*DocumentStore)(nil)
	_ driven.ChunkSource   = (*DocumentStore)(nil)
)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
// It also serves as a ChunkSource so a dry run can go through preflight.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	chunks    map[string][]domain.Chunk // keyed by run ID
	skips     map[string][]domain.SkippedDocument
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]domain.Document),
		chunks:    make(map[string][]domain.Chunk),
		skips:     make(map[string][]domain.SkippedDocument),
	}
}

// SaveDocument stores or updates a document.
func (s *DocumentStore) SaveDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.DocID] = *doc
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, docID string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[docID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, domain.ErrNotFound)
	}
	return &doc, nil
}

// ListDocuments returns the documents belonging to a run.
func (s *DocumentStore) ListDocuments(_ context.Context, runID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Document
	for id := range s.documents {
		doc := s.documents[id]
		if doc.RunID == runID {
			result = append(result, doc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DocID < result[j].DocID })
	return result, nil
}

// SaveChunks appends the chunks to the run.
func (s *DocumentStore) SaveChunks(_ context.Context, runID string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[runID] = append(s.chunks[runID], chunks...)
	return nil
}

// GetChunk retrieves a chunk by ID.
func (s *DocumentStore) GetChunk(_ context.Context, chunkID string) (*domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, chunks := range s.chunks {
		for _, chunk := range chunks {
			if chunk.ChunkID == chunkID {
				return &chunk, nil
			}
		}
	}
	return nil, fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
}

// RecordSkip records a skipped document for the run.
func (s *DocumentStore) RecordSkip(_ context.Context, runID string, skip domain.SkippedDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips[runID] = append(s.skips[runID], skip)
	return nil
}

// ListSkips returns the skipped documents for a run.
func (s *DocumentStore) ListSkips(_ context.Context, runID string) ([]domain.SkippedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SkippedDocument(nil), s.skips[runID]...), nil
}

// HasEnrichedDocs reports whether the run holds any document with body
// text.
func (s *DocumentStore) HasEnrichedDocs(_ context.Context, runID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.documents {
		if doc.RunID == runID && doc.BodyText != "" {
			return true, nil
		}
	}
	return false, nil
}

// ChunkCount returns the number of chunks materialised for the run.
func (s *DocumentStore) ChunkCount(_ context.Context, runID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[runID]), nil
}

// EmbeddableDocCount counts distinct chunked documents outside the
// skip list.
func (s *DocumentStore) EmbeddableDocCount(_ context.Context, runID string, skipList []string) (int, error) {
	skipped := make(map[string]struct{}, len(skipList))
	for _, id := range skipList {
		skipped[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make(map[string]struct{})
	for _, chunk := range s.chunks[runID] {
		if _, skip := skipped[chunk.DocID]; skip {
			continue
		}
		docs[chunk.DocID] = struct{}{}
	}
	return len(docs), nil
}

// BelowThresholdPct returns the percentage of chunks under minTokens.
func (s *DocumentStore) BelowThresholdPct(_ context.Context, runID string, minTokens int) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := s.chunks[runID]
	if len(chunks) == 0 {
		return 0, nil
	}
	below := 0
	for _, chunk := range chunks {
		if chunk.TokenCount < minTokens {
			below++
		}
	}
	return 100 * float64(below) / float64(len(chunks)), nil
}

// ListChunks returns the run's chunks ordered by document and ordinal.
func (s *DocumentStore) ListChunks(_ context.Context, runID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.Chunk(nil), s.chunks[runID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocID != out[j].DocID {
			return out[i].DocID < out[j].DocID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out, nil
}

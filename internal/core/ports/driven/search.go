package driven

import "context"

// LexicalHit is a full-text search result.
type LexicalHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Score is the BM25 relevance score (higher is better).
	Score float64
}

// LexicalIndex provides full-text BM25 search over chunk text.
type LexicalIndex interface {
	// SearchText performs a keyword search and returns up to k matching
	// chunks ranked by relevance. When spaces is non-empty, candidates
	// are restricted to documents in those content spaces.
	SearchText(ctx context.Context, query string, k int, spaces []string) ([]LexicalHit, error)
}

// VectorHit is a similarity search result.
type VectorHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Similarity is the cosine similarity score.
	Similarity float64
}

// VectorSearcher provides cosine similarity search over stored vectors.
type VectorSearcher interface {
	// SearchVectors finds the k nearest chunks to the query vector among
	// embeddings stored under the given provider. When spaces is
	// non-empty, candidates are restricted to those content spaces.
	SearchVectors(ctx context.Context, query []float32, provider string, k int, spaces []string) ([]VectorHit, error)
}

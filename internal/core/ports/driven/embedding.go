package driven

import "context"

// EmbeddingService generates vector embeddings from text.
// This is an optional service - when nil, ingestion and the dense
// retrieval leg are disabled.
//
// Implementations may include:
//   - OpenAI (text-embedding-3-small, text-embedding-3-large)
//   - Ollama (nomic-embed-text, all-minilm)
//   - Local models via inference servers
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	// This is more efficient than calling Embed in a loop for large batches.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g. 768, 1536).
	// Returns 0 when the provider does not declare its dimension; the
	// dimension guard then issues one trial call before any write.
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// ProviderName identifies the provider for the (chunk_id, provider)
	// uniqueness key.
	ProviderName() string

	// Ping validates the service is reachable with a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

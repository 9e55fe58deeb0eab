// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - DocumentStore: Document and chunk persistence
//   - ChunkSource: Narrow read-only view of a run's materialised chunks.
//     The ingestion pipeline depends on this interface only, never on the
//     chunker implementation package.
//   - EmbeddingStore: Embedding persistence with the (chunk_id, provider)
//     uniqueness constraint
//   - Tokenizer: Token counting for the chunker and preflight
//   - EventSink: Structured event reporting, injected rather than global
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - EmbeddingService: Generates vector embeddings. Without it, ingestion
//     and the dense retrieval leg are disabled.
//   - LexicalIndex: Full-text BM25 search. Without it, retrieval runs the
//     dense leg only.
//   - VectorSearcher: Cosine similarity search over stored vectors.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or chunker package
package driven

// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements multiple store interfaces
// through a single database connection:
//
//   - DocumentStore: Document, chunk and skip persistence
//   - ChunkSource: Read-only chunk view for the ingestion pipeline
//   - EmbeddingStore: Vector persistence keyed on (chunk_id, provider)
//   - LexicalIndex: BM25 full-text search over chunk text via FTS5
//   - VectorSearcher: Brute-force cosine similarity over stored vectors
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory.
//
// # Data Location
//
// By default, the database is stored at ~/.lodestone/data/knowledge.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode.
package sqlite

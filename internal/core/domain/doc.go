// Package domain defines the core business entities for Lodestone.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: A normalised source unit ready for chunking
//   - Chunk: A bounded, addressable passage of a document
//   - Embedding: A vector tied to one chunk under one provider
//   - PreflightReport: Per-run readiness verdict for embedding
//   - RetrievalHit: A single ranked result from hybrid retrieval
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain

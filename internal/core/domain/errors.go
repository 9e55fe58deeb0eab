package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRunBlocked indicates preflight refused the run for a
	// structural reason.
	ErrRunBlocked = errors.New("run blocked by preflight")

	// ErrRunActive indicates an embedding run is already being
	// processed by a worker.
	ErrRunActive = errors.New("run already active")

	// ErrTokenizerUnavailable indicates no tokenizer is configured.
	// Chunking and preflight cannot proceed without token counts.
	ErrTokenizerUnavailable = errors.New("tokenizer unavailable")

	// ErrEmbeddingUnavailable indicates the embedding provider is not
	// configured. The dense retrieval leg is disabled without it.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrLexicalUnavailable indicates the full-text index is not
	// configured. The lexical retrieval leg is disabled.
	ErrLexicalUnavailable = errors.New("lexical index unavailable")

	// ErrRateLimited indicates the provider rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrDocumentUnchunkable indicates a document could not be split
	// within chunking invariants. The document is skipped; the run
	// continues.
	ErrDocumentUnchunkable = errors.New("document cannot be chunked within invariants")
)

// DimensionMismatchError is raised before any database write when the
// provider's output dimension differs from the store's fixed dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	Provider string
	Model    string
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d (provider %q, model %q)",
		e.Expected, e.Actual, e.Provider, e.Model)
}

// IsDimensionMismatch reports whether err is a dimension guard failure.
func IsDimensionMismatch(err error) bool {
	var dm *DimensionMismatchError
	return errors.As(err, &dm)
}

package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures, distinct from
// infrastructure errors. Callers match them with errors.Is.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidParameters indicates a caller bug such as a chunk overlap
	// that is not smaller than the chunk size. Never retried.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrModelMismatch indicates configuration drift: the query embedding
	// model differs from the model the stored vectors were produced with.
	// Fatal to the query, not retried.
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrIngestionInProgress indicates another ingestion generation for the
	// same document is already in flight. The caller may retry later.
	ErrIngestionInProgress = errors.New("ingestion already in progress")

	// ErrEmbeddingUnavailable indicates the embedding service could not be
	// reached within the retry budget.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrGenerationUnavailable indicates evidence was found but the
	// completion service failed after retry. Distinct from the insufficient
	// context answer so callers can tell "no evidence" from "could not
	// generate".
	ErrGenerationUnavailable = errors.New("generation service unavailable")
)

// ChunkError reports a failure isolated to a single chunk ordinal, leaving
// sibling chunks unaffected.
type ChunkError struct {
	// Ordinal is the 0-based position of the failed chunk.
	Ordinal int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Ordinal, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ChunkError) Unwrap() error {
	return e.Err
}

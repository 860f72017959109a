package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers classify failures with errors.Is.
var (
	// ErrMalformedFilename means a corpus filename does not encode
	// lat/lon/heading. Recoverable: the indexer skips the file.
	ErrMalformedFilename = errors.New("malformed filename")

	// ErrInvalidInput is a caller error (unsupported image format, empty
	// text). Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidQuery is an empty/whitespace-only query or a non-positive
	// top_k. Rejected before any outbound call.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrEmbedUnavailable is a transient embedding-service failure
	// (network, 5xx, rate limit). Safe to retry with backoff.
	ErrEmbedUnavailable = errors.New("embedding service unavailable")

	// ErrQueryFailed is a vector-store query or upsert failure. The search
	// path surfaces it to the caller; the indexer retries per batch.
	ErrQueryFailed = errors.New("vector store query failed")
)

// ValidationError wraps a sentinel with the field and value that failed.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

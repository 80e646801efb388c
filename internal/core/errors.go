package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals an unknown job id or content hash on lookup.
	ErrNotFound = errors.New("not found")

	// ErrEmptyDocument signals a document with no extractable text.
	// Retrying brings no benefit unless the source changes.
	ErrEmptyDocument = errors.New("document contains no extractable text")

	// ErrInvalidJobState signals a retry on a job that is still queued or active.
	ErrInvalidJobState = errors.New("job is not in a terminal state")
)

// ValidationError reports a bad or missing request field. No state is mutated
// when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EmbeddingError wraps transport or model failures from the embedding service.
// The worker, not the client, decides the fallback policy.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StorageError wraps content-store failures. Download failures are fatal to a
// job; delete failures are logged and swallowed at the call site.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

package models

import "errors"

// Classified failures shared across the store and pipeline. Callers decide
// retry vs. abort with errors.Is; the orchestrating layer owns retry policy.
var (
	// ErrInvalidArgument covers caller mistakes such as non-positive top_k or
	// limit values and empty required fields. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDimensionMismatch is returned when a vector's length does not match
	// the collection's configured dimension. The write is rejected before
	// anything reaches the backend.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrStoreUnavailable indicates the vector backend could not be reached
	// or answered with a server-side failure.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrNotFound is reserved for lookups of records that must exist, such as
	// job ids. Deleting a nonexistent source is success-with-zero, not this.
	ErrNotFound = errors.New("not found")
)

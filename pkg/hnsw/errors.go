package hnsw

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrInvalidOptions is returned by New for out-of-range construction parameters.
	ErrInvalidOptions = errors.New("invalid hnsw options")

	// ErrZeroVector is returned for vectors that cannot be L2-normalized.
	ErrZeroVector = errors.New("cannot normalize zero vector")

	// ErrDuplicateID is returned when inserting an id that is already in the graph.
	ErrDuplicateID = errors.New("id already present")

	// ErrCorrupt is returned when a persisted graph fails integrity checks.
	ErrCorrupt = errors.New("corrupt hnsw file")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

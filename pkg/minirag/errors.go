package minirag

import (
	"context"
	"errors"
	"fmt"

	"github.com/perbu/policynav/pkg/embedder"
	"github.com/perbu/policynav/pkg/generator"
	"github.com/perbu/policynav/pkg/hnsw"
	"github.com/perbu/policynav/pkg/loader"
	"github.com/perbu/policynav/pkg/store"
)

var (
	// ErrInvalidArgument covers malformed chunk windows, non-positive k and
	// dimension mismatches. It is never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned for a metadata id outside the store.
	ErrNotFound = errors.New("not found")

	// ErrCorruptIndex is returned when the persisted index pair fails
	// integrity checks. A serving process must not start with it.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrUpstreamUnavailable is returned when the embedding or generative
	// model call fails or times out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamMalformed is returned when an upstream model answered with
	// something that cannot be used.
	ErrUpstreamMalformed = errors.New("upstream response malformed")
)

var taxonomy = []error{
	ErrInvalidArgument,
	ErrNotFound,
	ErrCorruptIndex,
	ErrUpstreamUnavailable,
	ErrUpstreamMalformed,
}

// translateError wraps package-level errors with the matching taxonomy
// sentinel so callers classify with errors.Is and still reach the cause.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	for _, t := range taxonomy {
		if errors.Is(err, t) {
			return err
		}
	}

	// Argument normalization.
	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) ||
		errors.Is(err, hnsw.ErrInvalidK) ||
		errors.Is(err, hnsw.ErrInvalidOptions) ||
		errors.Is(err, hnsw.ErrZeroVector) ||
		errors.Is(err, hnsw.ErrDuplicateID) ||
		errors.Is(err, loader.ErrInvalidWindow) ||
		errors.Is(err, store.ErrInvalidRecord) ||
		errors.Is(err, embedder.ErrEmptyText) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, hnsw.ErrCorrupt) || errors.Is(err, store.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}

	// Malformed before unavailable: a malformed response is a reachable model.
	if errors.Is(err, embedder.ErrMalformed) || errors.Is(err, generator.ErrMalformed) {
		return fmt.Errorf("%w: %w", ErrUpstreamMalformed, err)
	}
	if errors.Is(err, embedder.ErrUnavailable) ||
		errors.Is(err, generator.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	return err
}

// Package embedder turns text into fixed-dimension vectors.
package embedder

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the embedding backend cannot be reached
	// or answers with a failure status.
	ErrUnavailable = errors.New("embedding backend unavailable")

	// ErrMalformed is returned when the backend answers with vectors that do
	// not match the request.
	ErrMalformed = errors.New("malformed embedding response")

	// ErrEmptyText is returned for empty input.
	ErrEmptyText = errors.New("cannot embed empty text")
)

// Embedder interface for generating embeddings
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelInfo() string
}

// ProgressFunc is called with (completed, total) as a batch makes progress
type ProgressFunc func(completed, total int)

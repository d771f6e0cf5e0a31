// Package generator calls a generative language model with an assembled prompt.
package generator

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned when the model cannot be reached, times out,
	// or answers with a non-success status.
	ErrUnavailable = errors.New("generative model unavailable")

	// ErrMalformed is returned when the model answered but no text could be
	// extracted from the response.
	ErrMalformed = errors.New("malformed model response")
)

// Prompt is the input to a single generation call.
type Prompt struct {
	System string
	User   string
}

// Params controls sampling for one call.
type Params struct {
	MaxTokens   int
	Temperature float32
}

// DefaultParams match deterministic, short answers.
var DefaultParams = Params{MaxTokens: 512, Temperature: 0}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt, params Params) (string, error)
	Name() string
}

// retryDelay is exponential backoff capped at 5s.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

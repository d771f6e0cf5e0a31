package minirag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/perbu/policynav/pkg/generator"
)

const (
	// SystemPrompt instructs the model to stay within the retrieved context.
	SystemPrompt = "You are a helpful internal policy assistant. Use only the provided context to answer. If answer not present, say 'I don't know - consult the policies.'"

	// NoAnswerText is returned, flagged with NoAnswer, when the model's
	// response held no extractable answer.
	NoAnswerText = "Could not parse a valid answer from the model's response."

	// DefaultAnswerTimeout bounds one call to the generative model.
	DefaultAnswerTimeout = 20 * time.Second
)

// BuildPrompt numbers the snippets as citable context and appends the question.
func BuildPrompt(question string, snippets []Snippet) generator.Prompt {
	blocks := make([]string, len(snippets))
	for i, s := range snippets {
		blocks[i] = fmt.Sprintf("[%d] [%s] %s", i+1, s.Source.Source, s.Text)
	}

	user := fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer concisely and cite sources like [filename].",
		strings.Join(blocks, "\n\n"), question)

	return generator.Prompt{System: SystemPrompt, User: user}
}

// Answerer forwards assembled context to a generative model.
type Answerer struct {
	gen     generator.Generator
	params  generator.Params
	timeout time.Duration
	logger  *Logger
}

// AnswererOption configures an Answerer.
type AnswererOption func(*Answerer)

// WithParams sets sampling parameters.
func WithParams(p generator.Params) AnswererOption {
	return func(a *Answerer) { a.params = p }
}

// WithTimeout bounds each model call; 0 keeps the default.
func WithTimeout(d time.Duration) AnswererOption {
	return func(a *Answerer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAnswererLogger sets the logger.
func WithAnswererLogger(l *Logger) AnswererOption {
	return func(a *Answerer) { a.logger = l }
}

// NewAnswerer creates an Answerer around gen.
func NewAnswerer(gen generator.Generator, opts ...AnswererOption) *Answerer {
	a := &Answerer{
		gen:     gen,
		params:  generator.DefaultParams,
		timeout: DefaultAnswerTimeout,
		logger:  NoopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Answer asks the model to answer question from snippets. A model that
// cannot be reached or times out yields ErrUpstreamUnavailable; a response
// without an answer yields an Answer with NoAnswer set and a nil error.
func (a *Answerer) Answer(ctx context.Context, question string, snippets []Snippet) (*Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	text, err := a.gen.Generate(ctx, BuildPrompt(question, snippets), a.params)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, generator.ErrMalformed) {
			a.logger.LogAnswer(ctx, a.gen.Name(), true, elapsed, nil)
			return &Answer{
				Answer:   NoAnswerText,
				NoAnswer: true,
				Sources:  sourcesOf(snippets),
			}, nil
		}

		err = translateError(err)
		if !errors.Is(err, ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		a.logger.LogAnswer(ctx, a.gen.Name(), false, elapsed, err)
		return nil, err
	}

	a.logger.LogAnswer(ctx, a.gen.Name(), false, elapsed, nil)
	return &Answer{
		Answer:  text,
		Sources: sourcesOf(snippets),
	}, nil
}

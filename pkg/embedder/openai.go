package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/perbu/policynav/pkg/distance"
)

const (
	// DefaultOpenAIModel is used when no model is configured
	DefaultOpenAIModel = "text-embedding-3-small"

	defaultBatchSize   = 64
	defaultConcurrency = 4
)

// OpenAIConfig configures an OpenAIEmbedder
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty uses the OpenAI endpoint; any compatible server works
	Model   string

	// Dimension overrides the dimension implied by the model name
	Dimension int

	// BatchSize is the number of texts per request
	BatchSize int

	// Concurrency limits the number of requests in flight
	Concurrency int

	// RequestsPerSecond throttles requests; 0 means unlimited
	RequestsPerSecond float64
}

// OpenAIEmbedder uses OpenAI API for embeddings
type OpenAIEmbedder struct {
	client      *openai.Client
	model       string
	dim         int
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
}

// NewOpenAIEmbedder creates an OpenAI embedder
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	// Set dimension based on model
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536 // default for text-embedding-3-small
		if cfg.Model == "text-embedding-3-large" {
			dim = 3072
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		dim:         dim,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		limiter:     limiter,
	}, nil
}

// Embed generates an embedding for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.embedRequest(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch generates embeddings for multiple texts with parallel processing
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.EmbedBatchWithProgress(ctx, texts, nil)
}

// EmbedBatchWithProgress generates embeddings with optional progress callback.
// Texts are split into requests of BatchSize; at most Concurrency requests
// run at once.
func (e *OpenAIEmbedder) EmbedBatchWithProgress(ctx context.Context, texts []string, progressFn ProgressFunc) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	var completed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		g.Go(func() error {
			vecs, err := e.embedRequest(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			copy(embeddings[start:end], vecs)

			done := completed.Add(int64(end - start))
			if progressFn != nil {
				progressFn(int(done), len(texts))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// Dimension returns the embedding dimension
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

// ModelInfo returns model information
func (e *OpenAIEmbedder) ModelInfo() string {
	return "openai-" + e.model
}

func (e *OpenAIEmbedder) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		// Validate input
		if len(t) == 0 {
			return nil, ErrEmptyText
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: %d embeddings for %d inputs", ErrMalformed, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || out[d.Index] != nil {
			return nil, fmt.Errorf("%w: bad embedding index %d", ErrMalformed, d.Index)
		}
		if len(d.Embedding) != e.dim {
			return nil, fmt.Errorf("%w: dimension %d, expected %d", ErrMalformed, len(d.Embedding), e.dim)
		}

		// L2 normalize (important for cosine similarity)
		v, ok := distance.NormalizeL2Copy(d.Embedding)
		if !ok {
			return nil, fmt.Errorf("%w: zero embedding at index %d", ErrMalformed, d.Index)
		}
		out[d.Index] = v
	}

	return out, nil
}

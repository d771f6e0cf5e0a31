package config

import (
	"fmt"
	"os"
	"time"

	"github.com/perbu/policynav/pkg/embedder"
	"github.com/perbu/policynav/pkg/generator"
	"github.com/perbu/policynav/pkg/hnsw"
	"github.com/perbu/policynav/pkg/minirag"
)

// Compression parses hnsw.compression.
func (c *Config) Compression() (hnsw.Compression, error) {
	return hnsw.ParseCompression(c.HNSW.Compression)
}

// NewEmbedder constructs the configured embedder.
func (c *Config) NewEmbedder() (embedder.Embedder, error) {
	switch c.Embedder.Type {
	case "hash":
		return embedder.NewHashEmbedder(c.Embedder.Dimension), nil
	case "openai":
		key := os.Getenv(c.Embedder.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", c.Embedder.APIKeyEnv)
		}
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			APIKey:            key,
			BaseURL:           c.Embedder.BaseURL,
			Model:             c.Embedder.Model,
			Dimension:         c.Embedder.Dimension,
			BatchSize:         c.Embedder.BatchSize,
			Concurrency:       c.Embedder.Concurrency,
			RequestsPerSecond: c.Embedder.RequestsPerSecond,
		})
	default:
		return nil, fmt.Errorf("unknown embedder.type %q", c.Embedder.Type)
	}
}

// NewGenerator constructs the configured generative model client.
func (c *Config) NewGenerator() (generator.Generator, error) {
	keyEnv := c.Generator.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "GOOGLE_API_KEY"
		if c.Generator.Type == "openai" {
			keyEnv = "OPENAI_API_KEY"
		}
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", keyEnv)
	}

	switch c.Generator.Type {
	case "gemini":
		return generator.NewGemini(generator.GeminiConfig{
			BaseURL:    c.Generator.BaseURL,
			APIKey:     key,
			Model:      c.Generator.Model,
			Timeout:    c.AnswerTimeout(),
			MaxRetries: c.Generator.MaxRetries,
		})
	case "openai":
		return generator.NewOpenAI(generator.OpenAIConfig{
			APIKey:  key,
			BaseURL: c.Generator.BaseURL,
			Model:   c.Generator.Model,
		})
	default:
		return nil, fmt.Errorf("unknown generator.type %q", c.Generator.Type)
	}
}

// AnswerTimeout is the hard bound on one generative model call.
func (c *Config) AnswerTimeout() time.Duration {
	return time.Duration(c.Generator.TimeoutSecs) * time.Second
}

// NewLogger constructs the configured logger.
func (c *Config) NewLogger() (*minirag.Logger, error) {
	level, err := c.LogLevel()
	if err != nil {
		return nil, err
	}
	switch c.Log.Format {
	case "json":
		return minirag.NewJSONLogger(level), nil
	case "text", "":
		return minirag.NewTextLogger(level), nil
	default:
		return nil, fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
}

// BuildOptions maps the configuration onto minirag.BuildOptions.
func (c *Config) BuildOptions() (minirag.BuildOptions, error) {
	compression, err := c.Compression()
	if err != nil {
		return minirag.BuildOptions{}, err
	}

	opts := minirag.DefaultBuildOptions()
	opts.DocsDir = c.DocsDir
	opts.OutputDir = c.IndexDir
	opts.ChunkSize = c.Chunk.Size
	opts.ChunkOverlap = c.Chunk.Overlap
	opts.M = c.HNSW.M
	opts.EFConstruction = c.HNSW.EFConstruction
	opts.EFSearch = c.HNSW.EFSearch
	opts.Compression = compression
	opts.Seed = c.HNSW.Seed
	opts.BatchSize = c.Embedder.BatchSize
	opts.Concurrency = c.Embedder.Concurrency
	return opts, nil
}

// RetrieverOptions maps the retrieval settings onto minirag options.
func (c *Config) RetrieverOptions(logger *minirag.Logger) []minirag.RetrieverOption {
	return []minirag.RetrieverOption{
		minirag.WithEFSearch(c.HNSW.EFSearch),
		minirag.WithDefaultK(c.Retrieval.DefaultK),
		minirag.WithSnippetChars(c.Retrieval.SnippetChars),
		minirag.WithRetrieverLogger(logger),
	}
}

// AnswererOptions maps the generator settings onto minirag options.
func (c *Config) AnswererOptions(logger *minirag.Logger) []minirag.AnswererOption {
	return []minirag.AnswererOption{
		minirag.WithParams(generator.Params{
			MaxTokens:   c.Generator.MaxTokens,
			Temperature: c.Generator.Temperature,
		}),
		minirag.WithTimeout(c.AnswerTimeout()),
		minirag.WithAnswererLogger(logger),
	}
}

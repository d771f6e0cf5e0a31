// Package config loads the YAML configuration shared by the policynav binaries.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChunkConfig controls how documents are split.
type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// HNSWConfig holds the vector index construction and search parameters.
type HNSWConfig struct {
	M              int    `yaml:"m"`
	EFConstruction int    `yaml:"ef_construction"`
	EFSearch       int    `yaml:"ef_search"`
	Compression    string `yaml:"compression"`
	Seed           int64  `yaml:"seed"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type              string  `yaml:"type"` // openai | hash
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Dimension         int     `yaml:"dimension"`
	BatchSize         int     `yaml:"batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// GeneratorConfig selects and configures the generative model.
type GeneratorConfig struct {
	Type        string  `yaml:"type"` // gemini | openai
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RetrievalConfig configures the query pipeline.
type RetrievalConfig struct {
	DefaultK     int `yaml:"default_k"`
	SnippetChars int `yaml:"snippet_chars"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Config is the root application configuration structure.
type Config struct {
	DocsDir   string          `yaml:"docs_dir"`
	IndexDir  string          `yaml:"index_dir"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	HNSW      HNSWConfig      `yaml:"hnsw"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Server    ServerConfig    `yaml:"server"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads a config from path. Keys absent from the file keep their
// defaults; a missing file yields the defaults. Environment overrides are
// applied in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DocsDir:  "data/docs",
		IndexDir: "data/index",
		Chunk:    ChunkConfig{Size: 800, Overlap: 200},
		HNSW: HNSWConfig{
			M:              32,
			EFConstruction: 200,
			EFSearch:       64,
			Compression:    "zstd",
		},
		Embedder: EmbedderConfig{
			Type:        "openai",
			APIKeyEnv:   "OPENAI_API_KEY",
			BatchSize:   64,
			Concurrency: 4,
		},
		Generator: GeneratorConfig{
			Type:        "gemini",
			MaxTokens:   512,
			TimeoutSecs: 20,
			MaxRetries:  2,
		},
		Server:    ServerConfig{Addr: ":8001"},
		Retrieval: RetrievalConfig{DefaultK: 3, SnippetChars: 800},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("INDEX_DIR"); v != "" {
		cfg.IndexDir = v
	}
	if v := os.Getenv("DOCS_DIR"); v != "" {
		cfg.DocsDir = v
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		cfg.Generator.Model = v
	}
	if v := os.Getenv("POLICYNAV_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Chunk.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk.size must be positive, got %d", c.Chunk.Size))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		errs = append(errs, fmt.Errorf("chunk.overlap must be in [0, %d), got %d", c.Chunk.Size, c.Chunk.Overlap))
	}
	if c.HNSW.M < 2 {
		errs = append(errs, fmt.Errorf("hnsw.m must be at least 2, got %d", c.HNSW.M))
	}
	if c.HNSW.EFConstruction <= 0 || c.HNSW.EFSearch <= 0 {
		errs = append(errs, errors.New("hnsw ef values must be positive"))
	}
	if _, err := c.Compression(); err != nil {
		errs = append(errs, err)
	}
	switch c.Embedder.Type {
	case "openai", "hash":
	default:
		errs = append(errs, fmt.Errorf("unknown embedder.type %q", c.Embedder.Type))
	}
	switch c.Generator.Type {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown generator.type %q", c.Generator.Type))
	}
	if c.Retrieval.DefaultK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.default_k must be positive, got %d", c.Retrieval.DefaultK))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	return level, nil
}

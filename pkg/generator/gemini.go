package generator

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultGeminiBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

	// DefaultGeminiModel is used when no model is configured.
	DefaultGeminiModel = "gemini-1.5-flash"
)

// GeminiConfig configures a Gemini client.
type GeminiConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration // per HTTP attempt; 0 means no client-side limit
	MaxRetries int
}

// Gemini calls Gemini through its OpenAI-compatible chat completions API.
type Gemini struct {
	client     *openai.Client
	model      string
	maxRetries int
	baseDelay  time.Duration
}

// NewGemini creates a Gemini client.
func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Gemini{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		baseDelay:  200 * time.Millisecond,
	}, nil
}

// Name returns the identifier of this generator.
func (g *Gemini) Name() string { return "gemini-" + g.model }

// Generate sends the system instruction and user message as a single user
// turn, retrying on rate limits, server errors and transport failures.
func (g *Gemini) Generate(ctx context.Context, p Prompt, params Params) (string, error) {
	text := p.User
	if p.System != "" {
		text = p.System + "\n\n" + p.User
	}
	req := chatRequest(g.model, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: text},
	}, params)

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return completionText(resp)
		}
		lastErr = chatError(ctx, err)

		if attempt == g.maxRetries || !retryable(ctx, lastErr) {
			break
		}
		if err := sleep(ctx, retryDelay(g.baseDelay, attempt)); err != nil {
			return "", chatError(ctx, err)
		}
	}

	return "", lastErr
}

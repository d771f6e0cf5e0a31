package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIConfig configures an OpenAI chat client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty uses the OpenAI endpoint; any compatible server works
	Model   string
}

// OpenAI calls the chat completions endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI chat generator.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Name returns the identifier of this generator.
func (o *OpenAI) Name() string { return "openai-" + o.model }

// Generate sends the prompt as a system and a user message.
func (o *OpenAI) Generate(ctx context.Context, p Prompt, params Params) (string, error) {
	var messages []openai.ChatCompletionMessage
	if p.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	resp, err := o.client.CreateChatCompletion(ctx, chatRequest(o.model, messages, params))
	if err != nil {
		return "", chatError(ctx, err)
	}
	return completionText(resp)
}

func chatRequest(model string, messages []openai.ChatCompletionMessage, params Params) openai.ChatCompletionRequest {
	temperature := params.Temperature
	if temperature == 0 {
		// The client omits a zero temperature from the request.
		temperature = math.SmallestNonzeroFloat32
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: temperature,
	}
}

// completionText extracts the answer. A response without choices, or an
// empty choice the model did not finish normally, is malformed.
func completionText(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformed)
	}
	c := resp.Choices[0]
	text := strings.TrimSpace(c.Message.Content)
	if text == "" && c.FinishReason != "" && c.FinishReason != openai.FinishReasonStop {
		return "", fmt.Errorf("%w: empty choice, finish reason %q", ErrMalformed, c.FinishReason)
	}
	return text, nil
}

// statusCode returns the HTTP status carried by a client error, or 0.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// chatError maps a client error onto ErrUnavailable or ErrMalformed.
// Non-success statuses are checked first: their wrapped cause may itself be
// a decode error of the error body.
func chatError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
	if statusCode(err) != 0 {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// retryable reports whether a failed call is worth repeating: rate limits,
// server errors and transport failures.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrMalformed) {
		return false
	}
	code := statusCode(err)
	return code == 0 || code == http.StatusTooManyRequests || code >= 500
}

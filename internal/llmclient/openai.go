// internal/llmclient/openai.go
package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/json-iterator/go"
	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/internal/config"
)

const (
	// DefaultOpenAIEndpoint is the public chat completions endpoint.
	DefaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	// DefaultOllamaEndpoint is a local Ollama server's OpenAI compatible endpoint.
	DefaultOllamaEndpoint = "http://localhost:11434/v1/chat/completions"
)

// APIError is a non-2xx reply from a chat endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPCompleter talks to an OpenAI compatible chat completions endpoint.
// The three supported flavors differ only in authentication and whether a model is sent.
type HTTPCompleter struct {
	endpoint    string
	model       string
	authorize   func(h http.Header)
	temperature float32
	maxTokens   int
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewOpenAICompleter uses Bearer authentication and sends the model name.
func NewOpenAICompleter(cfg config.LLMConfig, logger *zap.Logger) *HTTPCompleter {
	endpoint := cfg.Endpoint
	if endpoint == "" || endpoint == DefaultOllamaEndpoint {
		endpoint = DefaultOpenAIEndpoint
	}
	key := cfg.APIKey
	return newHTTPCompleter(cfg, endpoint, cfg.Model, func(h http.Header) {
		h.Set("Authorization", "Bearer "+key)
	}, logger.Named("openai"))
}

// NewAzureCompleter uses the api-key header. The deployment in the endpoint selects the model.
func NewAzureCompleter(cfg config.LLMConfig, logger *zap.Logger) *HTTPCompleter {
	key := cfg.APIKey
	return newHTTPCompleter(cfg, cfg.Endpoint, "", func(h http.Header) {
		h.Set("api-key", key)
	}, logger.Named("azure"))
}

// NewOllamaCompleter sends the model name without authentication.
func NewOllamaCompleter(cfg config.LLMConfig, logger *zap.Logger) *HTTPCompleter {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	return newHTTPCompleter(cfg, endpoint, cfg.Model, func(http.Header) {}, logger.Named("ollama"))
}

func newHTTPCompleter(cfg config.LLMConfig, endpoint, model string, authorize func(http.Header), logger *zap.Logger) *HTTPCompleter {
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPCompleter{
		endpoint:    endpoint,
		model:       model,
		authorize:   authorize,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

type completionRequest struct {
	Model       string                                   `json:"model,omitempty"`
	Messages    []openai.ChatCompletionMessageParamUnion `json:"messages"`
	Temperature *float32                                 `json:"temperature,omitempty"`
	MaxTokens   int                                      `json:"max_tokens,omitempty"`
}

// Complete posts the conversation and returns the first choice's content.
func (c *HTTPCompleter) Complete(ctx context.Context, entries []Entry) (string, error) {
	payload := completionRequest{
		Model:     c.model,
		Messages:  toOpenAIMessages(entries),
		MaxTokens: c.maxTokens,
	}
	if c.temperature > 0 {
		t := c.temperature
		payload.Temperature = &t
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req.Header)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Chat endpoint returned error status", zap.Int("status", resp.StatusCode))
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var completion openai.ChatCompletion
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", fmt.Errorf("failed to decode response payload: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat endpoint returned no choices")
	}

	c.logger.Debug("Chat completion received.",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("prompt_tokens", completion.Usage.PromptTokens),
		zap.Int64("completion_tokens", completion.Usage.CompletionTokens),
	)
	return completion.Choices[0].Message.Content, nil
}

func toOpenAIMessages(entries []Entry) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(e.Message.Text))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(e.Message.Text))
		default:
			if len(e.Message.Images) == 0 {
				out = append(out, openai.UserMessage(e.Message.Text))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(e.Message.Text)}
			for _, img := range e.Message.Images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: img.DataURL(),
				}))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

// internal/llmclient/gemini.go
package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/bidi-pilot/internal/config"
)

// GeminiCompleter talks to the Gemini API through the genai SDK.
type GeminiCompleter struct {
	client *genai.Client
	model  string
	config genai.GenerateContentConfig
	logger *zap.Logger
}

// NewGeminiCompleter initializes the client. cfg.Endpoint, when set, replaces the API base URL.
func NewGeminiCompleter(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if cfg.Endpoint != "" && cfg.Endpoint != DefaultOllamaEndpoint {
		clientConfig.HTTPOptions.BaseURL = cfg.Endpoint
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	genConfig := genai.GenerateContentConfig{}
	if cfg.Temperature > 0 {
		genConfig.Temperature = genai.Ptr(cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	return &GeminiCompleter{
		client: client,
		model:  cfg.Model,
		config: genConfig,
		logger: logger.Named("gemini"),
	}, nil
}

// Complete sends the conversation and returns the text of the first candidate.
func (c *GeminiCompleter) Complete(ctx context.Context, entries []Entry) (string, error) {
	genConfig := c.config
	contents := make([]*genai.Content, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case RoleSystem:
			genConfig.SystemInstruction = genai.NewContentFromText(e.Message.Text, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(e.Message.Text, genai.RoleModel))
		default:
			parts := []*genai.Part{genai.NewPartFromText(e.Message.Text)}
			for _, img := range e.Message.Images {
				data, err := img.Decode()
				if err != nil {
					return "", fmt.Errorf("failed to decode %s image: %w", img.Format, err)
				}
				parts = append(parts, genai.NewPartFromBytes(data, img.MIMEType()))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
		}
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini API returned no candidates")
	}
	if resp.UsageMetadata != nil {
		c.logger.Debug("LLM generation complete (Gemini)",
			zap.Duration("duration", time.Since(start)),
			zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
			zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount),
		)
	}
	return resp.Text(), nil
}

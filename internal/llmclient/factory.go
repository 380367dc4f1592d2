// -- internal/llmclient/factory.go --
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/internal/config"
)

// NewCompleter creates the Completer for the configured provider.
func NewCompleter(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("llm_client")

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAICompleter(cfg, logger), nil
	case config.ProviderAzure:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("azure provider requires an endpoint")
		}
		return NewAzureCompleter(cfg, logger), nil
	case config.ProviderOllama:
		return NewOllamaCompleter(cfg, logger), nil
	case config.ProviderGemini:
		return NewGeminiCompleter(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s %s %s %s]",
			cfg.Provider, config.ProviderOpenAI, config.ProviderAzure, config.ProviderOllama, config.ProviderGemini)
	}
}

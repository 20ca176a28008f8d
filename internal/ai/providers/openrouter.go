package providers

import (
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterConfig configures the OpenRouter provider.
type OpenRouterConfig struct {
	// APIKey is required.
	APIKey string

	// DefaultModel uses OpenRouter's provider/model form, e.g.
	// "openai/gpt-4o" or "meta-llama/llama-3.1-8b-instruct:free".
	DefaultModel string

	MaxRetries int
	RetryDelay time.Duration
}

// NewOpenRouter creates a provider speaking OpenRouter's OpenAI-compatible
// API. Models with a ":free" suffix are billed at zero by the usage ledger.
func NewOpenRouter(cfg OpenRouterConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4o"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = openRouterBaseURL

	return newOpenAICompatible("openrouter", openai.NewClientWithConfig(clientConfig), OpenAIConfig{
		APIKey:       cfg.APIKey,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		DefaultModel: cfg.DefaultModel,
	}), nil
}

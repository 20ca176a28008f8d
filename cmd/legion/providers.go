package main

import (
	"fmt"

	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/internal/ai/providers"
	"github.com/legionruntime/legion/internal/config"
)

// buildProbeProviders constructs one client per configured provider for the
// doctor's reachability probe.
func buildProbeProviders(cfg *config.Config) (map[string]ai.Provider, error) {
	out := make(map[string]ai.Provider, len(cfg.AI.Providers))
	for name, pc := range cfg.AI.Providers {
		var (
			p   ai.Provider
			err error
		)
		switch name {
		case "anthropic":
			p, err = providers.NewAnthropic(providers.AnthropicConfig{
				APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
			})
		case "openai":
			p, err = providers.NewOpenAI(providers.OpenAIConfig{
				APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
			})
		case "openrouter":
			p, err = providers.NewOpenRouter(providers.OpenRouterConfig{
				APIKey: pc.APIKey, DefaultModel: pc.DefaultModel,
			})
		case "ollama":
			p = providers.NewOllama(providers.OllamaConfig{
				BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
			})
		default:
			return nil, fmt.Errorf("unknown AI provider %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/legionruntime/legion/pkg/models"
)

// Route pins a tier to a provider and model.
type Route struct {
	Provider string
	Model    string
}

// TierRouter resolves routing directives to a provider chain and walks it
// until one provider answers. Providers are tried in registration order
// after the primary candidate; each fallback runs on its own default model.
type TierRouter struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	order           []string
	routes          map[models.Tier]Route
	defaultProvider string
	logger          *slog.Logger
}

// NewTierRouter builds a router with the built-in tier table. Routes can be
// overridden per tier before the first call.
func NewTierRouter(defaultProvider string, logger *slog.Logger) *TierRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TierRouter{
		providers:       make(map[string]Provider),
		routes:          defaultRoutes(defaultProvider),
		defaultProvider: defaultProvider,
		logger:          logger.With("component", "ai_router"),
	}
}

// defaultRoutes maps tiers onto the default provider: cheap models for the
// low tiers, the strongest for critical work.
func defaultRoutes(provider string) map[models.Tier]Route {
	switch provider {
	case "openai":
		return map[models.Tier]Route{
			models.TierTrivial:  {Provider: provider, Model: "gpt-4o-mini"},
			models.TierSimple:   {Provider: provider, Model: "gpt-4o-mini"},
			models.TierModerate: {Provider: provider, Model: "gpt-4o"},
			models.TierComplex:  {Provider: provider, Model: "gpt-4o"},
			models.TierCritical: {Provider: provider, Model: "gpt-4o"},
		}
	default:
		return map[models.Tier]Route{
			models.TierTrivial:  {Provider: provider, Model: "claude-3-5-haiku-20241022"},
			models.TierSimple:   {Provider: provider, Model: "claude-3-5-haiku-20241022"},
			models.TierModerate: {Provider: provider, Model: "claude-sonnet-4-20250514"},
			models.TierComplex:  {Provider: provider, Model: "claude-sonnet-4-20250514"},
			models.TierCritical: {Provider: provider, Model: "claude-opus-4-20250514"},
		}
	}
}

// Register adds a provider to the failover chain. Registration order is the
// fallback order.
func (r *TierRouter) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// SetRoute overrides the model routing for one tier.
func (r *TierRouter) SetRoute(tier models.Tier, route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[tier] = route
}

// Providers returns the registered provider names in chain order.
func (r *TierRouter) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// candidate is one provider/model pair in the resolved chain.
type candidate struct {
	provider Provider
	model    string
}

// Process resolves the request to a candidate chain and walks it. A forced
// provider is honored strictly and never fails over.
func (r *TierRouter) Process(ctx context.Context, req *Request, opts *Options) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("ai: nil request")
	}
	if opts == nil {
		opts = &Options{}
	}

	candidates, forced, err := r.resolve(req, opts)
	if err != nil {
		return nil, err
	}

	system, history := splitSystem(req.Messages)

	var lastErr error
	for i, c := range candidates {
		creq := &CompletionRequest{
			Model:       c.model,
			System:      system,
			Messages:    history,
			Tools:       req.Tools,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		}

		res, err := c.provider.Complete(ctx, creq)
		if err == nil {
			return r.toResponse(c.provider.Name(), c.model, res), nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if forced || !ShouldFailover(err) {
			return nil, err
		}
		if i < len(candidates)-1 {
			r.logger.Warn("provider failed, trying next",
				"provider", c.provider.Name(),
				"model", c.model,
				"error", err)
		}
	}

	return nil, fmt.Errorf("ai: %w: %w", ErrAllProvidersFailed, lastErr)
}

// resolve orders the candidate chain for one request. Precedence:
// forceProvider, then an explicit model, then the tier route, then the
// default provider. Fallback providers run with their own default model.
func (r *TierRouter) resolve(req *Request, opts *Options) ([]candidate, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.providers) == 0 {
		return nil, false, fmt.Errorf("ai: no providers registered")
	}

	if req.ForceProvider != "" {
		p, ok := r.providers[req.ForceProvider]
		if !ok {
			return nil, false, fmt.Errorf("ai: forced provider %q not registered", req.ForceProvider)
		}
		return []candidate{{provider: p, model: opts.Model}}, true, nil
	}

	primaryName := r.defaultProvider
	primaryModel := opts.Model

	if primaryModel == "" {
		tier := req.ForceTier
		if tier == "" {
			tier = models.TierModerate
		}
		if route, ok := r.routes[tier]; ok {
			if route.Provider != "" {
				primaryName = route.Provider
			}
			primaryModel = route.Model
		}
	}

	var chain []candidate
	if p, ok := r.providers[primaryName]; ok {
		chain = append(chain, candidate{provider: p, model: primaryModel})
	}
	for _, name := range r.order {
		if name == primaryName {
			continue
		}
		chain = append(chain, candidate{provider: r.providers[name]})
	}
	if len(chain) == 0 {
		return nil, false, fmt.Errorf("ai: provider %q not registered", primaryName)
	}
	return chain, false, nil
}

func (r *TierRouter) toResponse(provider, model string, res *CompletionResult) *Response {
	if res.Model != "" {
		model = res.Model
	}
	finish := res.FinishReason
	if finish == "" {
		if len(res.ToolCalls) > 0 {
			finish = FinishToolCalls
		} else {
			finish = FinishStop
		}
	}
	return &Response{
		Content:         res.Content,
		NativeToolCalls: res.ToolCalls,
		UsedNativeTools: len(res.ToolCalls) > 0,
		FinishReason:    finish,
		Usage: Usage{
			PromptTokens:     res.InputTokens,
			CompletionTokens: res.OutputTokens,
			TotalTokens:      res.InputTokens + res.OutputTokens,
		},
		Provider: provider,
		Model:    model,
	}
}

// splitSystem pulls system turns out of the history; providers receive the
// system prompt through their own channel.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

package doctor

import (
	"context"
	"sort"
	"time"

	"github.com/legionruntime/legion/internal/ai"
)

// ProviderProbe captures one provider reachability check.
type ProviderProbe struct {
	Provider string
	OK       bool
	Latency  time.Duration
	Error    string
}

const probeTimeout = 5 * time.Second

// ProbeProviders sends a minimal completion to each provider and reports
// reachability. Probes run sequentially, alphabetically by provider name.
func ProbeProviders(ctx context.Context, byName map[string]ai.Provider) []ProviderProbe {
	if len(byName) == 0 {
		return nil
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]ProviderProbe, 0, len(names))
	for _, name := range names {
		p := byName[name]
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		start := time.Now()
		_, err := p.Complete(probeCtx, &ai.CompletionRequest{
			Messages:  []ai.Message{{Role: "user", Content: "ping"}},
			MaxTokens: 1,
		})
		cancel()

		probe := ProviderProbe{Provider: name, OK: err == nil, Latency: time.Since(start)}
		if err != nil {
			probe.Error = err.Error()
		}
		results = append(results, probe)
	}
	return results
}

package doctor

import (
	"context"
	"errors"
	"testing"

	"github.com/legionruntime/legion/internal/ai"
)

type stubProvider struct {
	name string
	err  error
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) Complete(context.Context, *ai.CompletionRequest) (*ai.CompletionResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &ai.CompletionResult{Content: "pong"}, nil
}

func TestProbeProviders(t *testing.T) {
	probes := ProbeProviders(context.Background(), map[string]ai.Provider{
		"openai":    &stubProvider{name: "openai", err: errors.New("401 unauthorized")},
		"anthropic": &stubProvider{name: "anthropic"},
	})
	if len(probes) != 2 {
		t.Fatalf("probes = %d, want 2", len(probes))
	}
	// Sorted by name.
	if probes[0].Provider != "anthropic" || !probes[0].OK {
		t.Fatalf("unexpected first probe: %+v", probes[0])
	}
	if probes[1].Provider != "openai" || probes[1].OK || probes[1].Error == "" {
		t.Fatalf("unexpected second probe: %+v", probes[1])
	}
}

func TestProbeProviders_Empty(t *testing.T) {
	if got := ProbeProviders(context.Background(), nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

package usage

import (
	"math"
	"testing"
)

func TestPriceFor(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		wantIn   float64
		wantOut  float64
	}{
		{"opus 4", "anthropic", "claude-opus-4-20250514", 15, 75},
		{"sonnet 4", "anthropic", "claude-sonnet-4-20250514", 3, 15},
		{"haiku 3.5", "anthropic", "claude-3-5-haiku-20241022", 1, 5},
		{"haiku 3", "anthropic", "claude-3-haiku-20240307", 0.25, 1.25},
		{"gpt-4o-mini before gpt-4o", "openai", "gpt-4o-mini-2024-07-18", 0.15, 0.60},
		{"gpt-4o", "openai", "gpt-4o-2024-08-06", 2.50, 10},
		{"gpt-4-turbo before gpt-4", "openai", "gpt-4-turbo-preview", 10, 30},
		{"o1-mini before o1", "openai", "o1-mini", 3, 12},
		{"gemini flash", "openrouter", "google/gemini-2.0-flash-exp", 0.10, 0.40},
		{"mistral small", "openrouter", "mistralai/mistral-small-latest", 0.2, 0.6},
		{"unknown model falls back", "openai", "gpt-9-experimental", 1, 3},
		{"ollama provider is free", "ollama", "llama3.1", 0, 0},
		{"openrouter free suffix", "openrouter", "meta-llama/llama-3.1-8b:free", 0, 0},
		{"cli-backed provider is free", "claude-cli", "claude-sonnet-4", 0, 0},
		{"case insensitive", "Anthropic", "Claude-3-Opus-20240229", 15, 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PriceFor(tt.provider, tt.model)
			if p.InputPer1M != tt.wantIn || p.OutputPer1M != tt.wantOut {
				t.Errorf("PriceFor(%q, %q) = (%v, %v), want (%v, %v)",
					tt.provider, tt.model, p.InputPer1M, p.OutputPer1M, tt.wantIn, tt.wantOut)
			}
		})
	}
}

func TestModelPriceCost(t *testing.T) {
	p := ModelPrice{InputPer1M: 3, OutputPer1M: 15}

	// 1M input and 100k output at sonnet rates is $3 + $1.50.
	got := p.Cost(1_000_000, 100_000)
	if math.Abs(got-4.5) > 1e-9 {
		t.Errorf("Cost(1M, 100k) = %v, want 4.5", got)
	}
	if got := p.Cost(0, 0); got != 0 {
		t.Errorf("Cost(0, 0) = %v, want 0", got)
	}
}

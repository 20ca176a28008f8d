package ai

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/legionruntime/legion/pkg/models"
)

// scriptedProvider answers with a fixed result or error and records every
// request it sees.
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	result   *CompletionResult
	err      error
	requests []*CompletionRequest
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	res := *p.result
	if res.Model == "" {
		res.Model = req.Model
	}
	return &res, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) lastRequest() *CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

func okResult(content string) *CompletionResult {
	return &CompletionResult{
		Content:      content,
		FinishReason: FinishStop,
		InputTokens:  10,
		OutputTokens: 5,
	}
}

func TestTierRouter_RoutesByTier(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", result: okResult("hi")}
	router := NewTierRouter("anthropic", nil)
	router.Register(primary)

	tests := []struct {
		tier      models.Tier
		wantModel string
	}{
		{models.TierTrivial, "claude-3-5-haiku-20241022"},
		{models.TierSimple, "claude-3-5-haiku-20241022"},
		{models.TierModerate, "claude-sonnet-4-20250514"},
		{models.TierComplex, "claude-sonnet-4-20250514"},
		{models.TierCritical, "claude-opus-4-20250514"},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			resp, err := router.Process(context.Background(), &Request{
				Messages:  []Message{{Role: "user", Content: "hello"}},
				ForceTier: tt.tier,
			}, nil)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if resp.Model != tt.wantModel {
				t.Errorf("model = %q, want %q", resp.Model, tt.wantModel)
			}
			if resp.Provider != "anthropic" {
				t.Errorf("provider = %q, want anthropic", resp.Provider)
			}
		})
	}
}

func TestTierRouter_OptionsModelOverridesTier(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", result: okResult("hi")}
	router := NewTierRouter("anthropic", nil)
	router.Register(primary)

	resp, err := router.Process(context.Background(), &Request{
		Messages:  []Message{{Role: "user", Content: "hello"}},
		ForceTier: models.TierCritical,
	}, &Options{Model: "claude-3-5-haiku-20241022"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("model = %q, want explicit override", resp.Model)
	}
}

func TestTierRouter_ForceProviderIsStrict(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", result: okResult("hi")}
	forced := &scriptedProvider{name: "ollama", err: NewProviderError("ollama", "llama3", errors.New("503 service unavailable"))}
	router := NewTierRouter("anthropic", nil)
	router.Register(primary)
	router.Register(forced)

	_, err := router.Process(context.Background(), &Request{
		Messages:      []Message{{Role: "user", Content: "hello"}},
		ForceProvider: "ollama",
	}, nil)
	if err == nil {
		t.Fatal("expected error from forced provider")
	}
	if errors.Is(err, ErrAllProvidersFailed) {
		t.Error("forced provider must not report all-providers-failed")
	}
	if primary.calls() != 0 {
		t.Errorf("default provider called %d times, want 0", primary.calls())
	}
}

func TestTierRouter_UnknownForcedProvider(t *testing.T) {
	router := NewTierRouter("anthropic", nil)
	router.Register(&scriptedProvider{name: "anthropic", result: okResult("hi")})

	_, err := router.Process(context.Background(), &Request{
		Messages:      []Message{{Role: "user", Content: "hello"}},
		ForceProvider: "nope",
	}, nil)
	if err == nil {
		t.Fatal("expected error for unregistered forced provider")
	}
}

func TestTierRouter_FailsOverToNextProvider(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", err: NewProviderError("anthropic", "claude", errors.New("overloaded")).WithStatus(529)}
	fallback := &scriptedProvider{name: "openai", result: okResult("saved")}
	router := NewTierRouter("anthropic", nil)
	router.Register(primary)
	router.Register(fallback)

	resp, err := router.Process(context.Background(), &Request{
		Messages:  []Message{{Role: "user", Content: "hello"}},
		ForceTier: models.TierModerate,
	}, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.Provider != "openai" {
		t.Errorf("provider = %q, want fallback openai", resp.Provider)
	}
	if resp.Content != "saved" {
		t.Errorf("content = %q, want %q", resp.Content, "saved")
	}
	// Fallbacks run on their own default model.
	if got := fallback.lastRequest().Model; got != "" {
		t.Errorf("fallback request model = %q, want empty (provider default)", got)
	}
}

func TestTierRouter_NoFailoverOnInvalidRequest(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", err: NewProviderError("anthropic", "claude", errors.New("bad request")).WithStatus(400)}
	fallback := &scriptedProvider{name: "openai", result: okResult("saved")}
	router := NewTierRouter("anthropic", nil)
	router.Register(primary)
	router.Register(fallback)

	_, err := router.Process(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if fallback.calls() != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.calls())
	}
}

func TestTierRouter_AllProvidersFailed(t *testing.T) {
	a := &scriptedProvider{name: "anthropic", err: NewProviderError("anthropic", "claude", errors.New("500 internal server error"))}
	b := &scriptedProvider{name: "openai", err: NewProviderError("openai", "gpt-4o", errors.New("503 service unavailable"))}
	router := NewTierRouter("anthropic", nil)
	router.Register(a)
	router.Register(b)

	_, err := router.Process(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	}, nil)
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("error = %v, want ErrAllProvidersFailed", err)
	}
	if a.calls() != 1 || b.calls() != 1 {
		t.Errorf("calls = (%d, %d), want (1, 1)", a.calls(), b.calls())
	}
}

func TestTierRouter_NoProviders(t *testing.T) {
	router := NewTierRouter("anthropic", nil)
	if _, err := router.Process(context.Background(), &Request{}, nil); err == nil {
		t.Fatal("expected error with no providers registered")
	}
}

func TestTierRouter_SetRoute(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", result: okResult("hi")}
	local := &scriptedProvider{name: "ollama", result: okResult("local")}
	router := NewTierRouter("anthropic", nil)
	router.Register(primary)
	router.Register(local)
	router.SetRoute(models.TierTrivial, Route{Provider: "ollama", Model: "llama3.1"})

	resp, err := router.Process(context.Background(), &Request{
		Messages:  []Message{{Role: "user", Content: "hi"}},
		ForceTier: models.TierTrivial,
	}, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.Provider != "ollama" || resp.Model != "llama3.1" {
		t.Errorf("routed to %s/%s, want ollama/llama3.1", resp.Provider, resp.Model)
	}
}

func TestTierRouter_SplitsSystemMessages(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", result: okResult("hi")}
	router := NewTierRouter("anthropic", nil)
	router.Register(primary)

	_, err := router.Process(context.Background(), &Request{
		Messages: []Message{
			{Role: "system", Content: "you are terse"},
			{Role: "user", Content: "hello"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	req := primary.lastRequest()
	if req.System != "you are terse" {
		t.Errorf("system = %q, want %q", req.System, "you are terse")
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Errorf("messages = %+v, want single user turn", req.Messages)
	}
}

func TestTierRouter_ResponseShape(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", result: &CompletionResult{
		ToolCalls:    []NativeToolCall{{ID: "tc1", Name: "searchWeb", Arguments: []byte(`{"query":"go"}`)}},
		FinishReason: FinishToolCalls,
		InputTokens:  120,
		OutputTokens: 30,
	}}
	router := NewTierRouter("anthropic", nil)
	router.Register(primary)

	resp, err := router.Process(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "search go"}},
	}, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !resp.UsedNativeTools {
		t.Error("UsedNativeTools = false, want true")
	}
	if len(resp.NativeToolCalls) != 1 || resp.NativeToolCalls[0].ID != "tc1" {
		t.Errorf("native tool calls = %+v, want preserved tc1", resp.NativeToolCalls)
	}
	if resp.Usage.TotalTokens != 150 {
		t.Errorf("total tokens = %d, want 150", resp.Usage.TotalTokens)
	}
}

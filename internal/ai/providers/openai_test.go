package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/legionruntime/legion/internal/ai"
	openai "github.com/sashabaranov/go-openai"
)

func TestNewOpenAI(t *testing.T) {
	tests := []struct {
		name    string
		config  OpenAIConfig
		wantErr bool
	}{
		{
			name:   "valid config",
			config: OpenAIConfig{APIKey: "sk-test", DefaultModel: "gpt-4o-mini"},
		},
		{
			name:    "missing API key",
			config:  OpenAIConfig{},
			wantErr: true,
		},
		{
			name:   "custom base URL",
			config: OpenAIConfig{APIKey: "sk-test", BaseURL: "https://proxy.example.com/v1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewOpenAI(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewOpenAI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if provider.Name() != "openai" {
				t.Errorf("Name() = %q, want openai", provider.Name())
			}
			if provider.maxRetries <= 0 || provider.retryDelay <= 0 {
				t.Errorf("retry defaults not applied: %d/%v", provider.maxRetries, provider.retryDelay)
			}
		})
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []ai.Message
		system   string
		wantLen  int
	}{
		{
			name: "basic text messages",
			messages: []ai.Message{
				{Role: "user", Content: "Hello"},
				{Role: "assistant", Content: "Hi there!"},
			},
			system:  "You are a helpful assistant",
			wantLen: 3,
		},
		{
			name: "assistant with tool calls",
			messages: []ai.Message{
				{Role: "user", Content: "What's the weather?"},
				{
					Role: "assistant",
					ToolCalls: []ai.NativeToolCall{
						{ID: "call_123", Name: "get_weather", Arguments: json.RawMessage(`{"location":"NYC"}`)},
					},
				},
			},
			wantLen: 2,
		},
		{
			name: "tool results become tool-role messages",
			messages: []ai.Message{
				{
					Role: "tool",
					ToolResults: []ai.ToolResultMessage{
						{ToolCallID: "call_1", Content: "Result 1"},
						{ToolCallID: "call_2", Content: "Result 2"},
					},
				},
			},
			wantLen: 2,
		},
		{
			name: "system turns in history are dropped",
			messages: []ai.Message{
				{Role: "system", Content: "stale"},
				{Role: "user", Content: "Hello"},
			},
			system:  "fresh",
			wantLen: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertOpenAIMessages(tt.messages, tt.system)
			if len(got) != tt.wantLen {
				t.Errorf("convertOpenAIMessages() got %d messages, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestConvertOpenAIMessages_ToolCallShape(t *testing.T) {
	messages := []ai.Message{
		{
			Role: "assistant",
			ToolCalls: []ai.NativeToolCall{
				{ID: "call_9", Name: "lookup", Arguments: json.RawMessage(`{"q":"go"}`)},
			},
		},
	}

	got := convertOpenAIMessages(messages, "")
	if len(got) != 1 {
		t.Fatalf("messages = %d, want 1", len(got))
	}
	if len(got[0].ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(got[0].ToolCalls))
	}
	tc := got[0].ToolCalls[0]
	if tc.ID != "call_9" || tc.Type != openai.ToolTypeFunction {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Name != "lookup" || tc.Function.Arguments != `{"q":"go"}` {
		t.Errorf("function = %+v", tc.Function)
	}
}

func TestConvertOpenAITools(t *testing.T) {
	tools := []ai.ToolDef{
		{
			Name:        "test_tool",
			Description: "A test tool",
			Schema:      json.RawMessage(`{"type":"object","properties":{"arg":{"type":"string"}}}`),
		},
		{
			Name:   "broken_tool",
			Schema: json.RawMessage(`not json`),
		},
	}

	got := convertOpenAITools(tools)
	if len(got) != 2 {
		t.Fatalf("convertOpenAITools() got %d tools, want 2", len(got))
	}
	if got[0].Function.Name != "test_tool" {
		t.Errorf("name = %q, want test_tool", got[0].Function.Name)
	}
	if got[0].Function.Description != "A test tool" {
		t.Errorf("description = %q", got[0].Function.Description)
	}

	// A broken schema degrades to an empty object declaration.
	params, ok := got[1].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters type = %T", got[1].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Errorf("degraded schema = %+v", params)
	}
}

func TestOpenAIFinishReason(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"stop", ai.FinishStop},
		{"", ai.FinishStop},
		{"tool_calls", ai.FinishToolCalls},
		{"function_call", ai.FinishToolCalls},
		{"length", ai.FinishLength},
		{"content_filter", "content_filter"},
	}
	for _, tt := range tests {
		if got := openAIFinishReason(tt.in); got != tt.want {
			t.Errorf("openAIFinishReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpenAIWrapError(t *testing.T) {
	provider := &OpenAIProvider{name: "openai"}

	apiErr := &openai.APIError{
		HTTPStatusCode: 429,
		Message:        "rate limit exceeded",
		Type:           "rate_limit_error",
	}
	wrapped := provider.wrapError(apiErr, "gpt-4o")
	providerErr, ok := ai.GetProviderError(wrapped)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", wrapped)
	}
	if providerErr.Status != 429 {
		t.Errorf("status = %d, want 429", providerErr.Status)
	}
	if providerErr.Reason != ai.FailoverRateLimit {
		t.Errorf("reason = %v, want %v", providerErr.Reason, ai.FailoverRateLimit)
	}
	if providerErr.Code != "rate_limit_error" {
		t.Errorf("code = %q, want rate_limit_error", providerErr.Code)
	}

	reqErr := &openai.RequestError{
		HTTPStatusCode: 503,
		Err:            errors.New("upstream unavailable"),
	}
	wrapped = provider.wrapError(reqErr, "gpt-4o")
	providerErr, ok = ai.GetProviderError(wrapped)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", wrapped)
	}
	if providerErr.Status != 503 {
		t.Errorf("status = %d, want 503", providerErr.Status)
	}
	if providerErr.Reason != ai.FailoverServerError {
		t.Errorf("reason = %v, want %v", providerErr.Reason, ai.FailoverServerError)
	}
}

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}

		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("model = %q, want gpt-4o", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v, want system then user", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o-2024-08-06",
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "Hello back"},
					FinishReason: openai.FinishReasonStop,
				},
			},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16},
		})
	}))
	defer server.Close()

	provider, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	result, err := provider.Complete(context.Background(), &ai.CompletionRequest{
		Model:  "gpt-4o",
		System: "be brief",
		Messages: []ai.Message{
			{Role: "user", Content: "Hello"},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Content != "Hello back" {
		t.Errorf("content = %q", result.Content)
	}
	if result.FinishReason != ai.FinishStop {
		t.Errorf("finish reason = %q, want stop", result.FinishReason)
	}
	if result.InputTokens != 12 || result.OutputTokens != 4 {
		t.Errorf("tokens = (%d, %d), want (12, 4)", result.InputTokens, result.OutputTokens)
	}
	if result.Model != "gpt-4o-2024-08-06" {
		t.Errorf("model = %q, want server-reported model", result.Model)
	}
}

func TestOpenAIComplete_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-2",
			Model: "gpt-4o",
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role: "assistant",
						ToolCalls: []openai.ToolCall{
							{
								ID:   "call_abc",
								Type: openai.ToolTypeFunction,
								Function: openai.FunctionCall{
									Name:      "searchWeb",
									Arguments: `{"query":"go generics"}`,
								},
							},
						},
					},
					FinishReason: openai.FinishReasonToolCalls,
				},
			},
			Usage: openai.Usage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40},
		})
	}))
	defer server.Close()

	provider, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	result, err := provider.Complete(context.Background(), &ai.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []ai.Message{{Role: "user", Content: "search go generics"}},
		Tools: []ai.ToolDef{
			{Name: "searchWeb", Description: "Search the web", Schema: json.RawMessage(`{"type":"object"}`)},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.FinishReason != ai.FinishToolCalls {
		t.Errorf("finish reason = %q, want tool_calls", result.FinishReason)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(result.ToolCalls))
	}
	tc := result.ToolCalls[0]
	if tc.ID != "call_abc" || tc.Name != "searchWeb" {
		t.Errorf("tool call = %+v", tc)
	}
	if string(tc.Arguments) != `{"query":"go generics"}` {
		t.Errorf("arguments = %s", tc.Arguments)
	}
}

func TestOpenAIComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{ID: "chatcmpl-3", Model: "gpt-4o"})
	}))
	defer server.Close()

	provider, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	_, err = provider.Complete(context.Background(), &ai.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []ai.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
	if _, ok := ai.GetProviderError(err); !ok {
		t.Errorf("error type = %T, want ProviderError", err)
	}
}

func TestNewOpenRouter(t *testing.T) {
	provider, err := NewOpenRouter(OpenRouterConfig{APIKey: "sk-or-test"})
	if err != nil {
		t.Fatalf("NewOpenRouter() error = %v", err)
	}
	if provider.Name() != "openrouter" {
		t.Errorf("Name() = %q, want openrouter", provider.Name())
	}
	if provider.defaultModel != "openai/gpt-4o" {
		t.Errorf("default model = %q", provider.defaultModel)
	}

	if _, err := NewOpenRouter(OpenRouterConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
}

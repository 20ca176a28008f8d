package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/legionruntime/legion/internal/ai"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements ai.Provider for OpenAI's chat completions API.
// The same adapter backs any OpenAI-compatible endpoint via BaseURL.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey is required. Format: sk-...
	APIKey string

	// BaseURL overrides the default API endpoint for compatible servers.
	BaseURL string

	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return newOpenAICompatible("openai", openai.NewClientWithConfig(clientConfig), cfg), nil
}

func newOpenAICompatible(name string, client *openai.Client, cfg OpenAIConfig) *OpenAIProvider {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &OpenAIProvider{
		client:       client,
		name:         name,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Complete performs one exchange, retrying transient failures with
// exponential backoff.
func (p *OpenAIProvider) Complete(ctx context.Context, req *ai.CompletionRequest) (*ai.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var resp openai.ChatCompletionResponse
	err := retry(ctx, p.maxRetries, p.retryDelay, ai.IsRetryable, func() error {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return p.wrapError(err, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, ai.NewProviderError(p.name, model, errors.New("empty response: no choices"))
	}

	choice := resp.Choices[0]
	result := &ai.CompletionResult{
		Content:      choice.Message.Content,
		FinishReason: openAIFinishReason(string(choice.FinishReason)),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}
	if result.Model == "" {
		result.Model = model
	}

	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		result.ToolCalls = append(result.ToolCalls, ai.NativeToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	if len(result.ToolCalls) > 0 && result.FinishReason == ai.FinishStop {
		result.FinishReason = ai.FinishToolCalls
	}

	return result, nil
}

func openAIFinishReason(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return ai.FinishToolCalls
	case "length":
		return ai.FinishLength
	case "stop", "":
		return ai.FinishStop
	default:
		return reason
	}
}

// convertOpenAIMessages maps history turns onto the chat completions format.
// The system prompt is injected as the first message; each tool result
// becomes its own tool-role message keyed by ToolCallID.
func convertOpenAIMessages(messages []ai.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		if len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				continue
			}
		}

		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
		}
		result = append(result, oaiMsg)
	}

	return result
}

// convertOpenAITools maps tool definitions onto function declarations. A bad
// schema degrades to an empty object so one tool cannot break the request.
func convertOpenAITools(tools []ai.ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil || schemaMap == nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}

	return result
}

// wrapError lifts SDK errors into ai.ProviderError. go-openai surfaces HTTP
// failures as *openai.APIError or *openai.RequestError.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := ai.GetProviderError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := &ai.ProviderError{
			Provider: p.name,
			Model:    model,
			Cause:    err,
			Reason:   ai.FailoverUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ai.NewProviderError(p.name, model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return ai.NewProviderError(p.name, model, err)
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/legionruntime/legion/internal/ai"
)

// maxEmptyStreamEvents bounds consecutive no-op stream events before the
// stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements ai.Provider for Anthropic's Claude API.
// Responses are streamed from the API and accumulated into one result.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey is required. Format: sk-ant-api03-...
	APIKey string

	// BaseURL overrides the default API endpoint.
	BaseURL string

	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete performs one exchange, retrying transient failures with
// exponential backoff.
func (p *AnthropicProvider) Complete(ctx context.Context, req *ai.CompletionRequest) (*ai.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	var result *ai.CompletionResult
	err = retry(ctx, p.maxRetries, p.retryDelay, ai.IsRetryable, func() error {
		stream := p.client.Messages.NewStreaming(ctx, params)
		res, err := p.collect(stream, model)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *AnthropicProvider) buildParams(req *ai.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return params, nil
}

// collect drains the SSE stream into a single result. Tool input JSON
// arrives as partial fragments and is assembled per content block.
func (p *AnthropicProvider) collect(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], model string) (*ai.CompletionResult, error) {
	var content strings.Builder
	var toolCalls []ai.NativeToolCall
	var currentTool *ai.NativeToolCall
	var currentInput strings.Builder

	var inputTokens, outputTokens int
	var stopReason string
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlockStart := event.AsContentBlockStart()
			if contentBlockStart.ContentBlock.Type == "tool_use" {
				toolUse := contentBlockStart.ContentBlock.AsToolUse()
				currentTool = &ai.NativeToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				currentInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					content.WriteString(delta.Text)
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentTool != nil {
				args := currentInput.String()
				if args == "" {
					args = "{}"
				}
				currentTool.Arguments = json.RawMessage(args)
				toolCalls = append(toolCalls, *currentTool)
				currentTool = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			if messageDelta.Delta.StopReason != "" {
				stopReason = string(messageDelta.Delta.StopReason)
			}
			eventProcessed = true

		case "message_stop":
			return &ai.CompletionResult{
				Content:      content.String(),
				ToolCalls:    toolCalls,
				FinishReason: anthropicFinishReason(stopReason, len(toolCalls)),
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
				Model:        model,
			}, nil

		case "error":
			return nil, p.wrapError(errors.New("anthropic stream error"), model)
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				return nil, p.wrapError(
					fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount),
					model,
				)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, p.wrapError(err, model)
	}
	return nil, p.wrapError(errors.New("stream ended without message_stop"), model)
}

func anthropicFinishReason(stopReason string, toolCalls int) string {
	switch stopReason {
	case "tool_use":
		return ai.FinishToolCalls
	case "max_tokens":
		return ai.FinishLength
	case "end_turn", "stop_sequence":
		return ai.FinishStop
	}
	if toolCalls > 0 {
		return ai.FinishToolCalls
	}
	return ai.FinishStop
}

// convertMessages maps history turns onto Anthropic content blocks. System
// turns never reach this path; the router routes them to params.System.
func (p *AnthropicProvider) convertMessages(messages []ai.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		// Tool results must precede text in a user turn.
		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID,
				toolResult.Content,
				toolResult.IsError,
			))
		}

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, toolCall := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(toolCall.Arguments, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(
				toolCall.ID,
				input,
				toolCall.Name,
			))
		}

		if len(content) == 0 {
			continue
		}

		var message anthropic.MessageParam
		if msg.Role == "assistant" {
			message = anthropic.NewAssistantMessage(content...)
		} else {
			message = anthropic.NewUserMessage(content...)
		}
		result = append(result, message)
	}

	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []ai.ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)

		result = append(result, toolParam)
	}

	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError lifts SDK errors into ai.ProviderError, pulling the structured
// payload out of the raw response body when present.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := ai.GetProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ai.ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   ai.FailoverUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		message := ""
		code := ""
		requestID := apiErr.RequestID

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				message = payload.Error.Message
				code = payload.Error.Type
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}

		if message != "" {
			providerErr = providerErr.WithMessage(message)
		} else if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return ai.NewProviderError("anthropic", model, err)
}

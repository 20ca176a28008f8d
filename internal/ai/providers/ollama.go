package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/legionruntime/legion/internal/ai"
	openai "github.com/sashabaranov/go-openai"
)

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// OllamaProvider implements ai.Provider against a local Ollama server.
// Requests run with stream disabled; usage comes from the eval counts, and
// the ledger prices ollama models at zero.
type OllamaProvider struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

var _ ai.Provider = (*OllamaProvider)(nil)

// NewOllama creates an Ollama provider. An empty BaseURL targets the local
// default, http://localhost:11434.
func NewOllama(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaProvider{
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

// Name returns "ollama".
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Complete sends a single chat request.
func (p *OllamaProvider) Complete(ctx context.Context, req *ai.CompletionRequest) (*ai.CompletionResult, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, ai.NewProviderError("ollama", req.Model, errors.New("model is required"))
	}

	payload := ollamaChatRequest{
		Model:    model,
		Stream:   false,
		Messages: buildOllamaMessages(req),
	}
	if len(req.Tools) > 0 {
		payload.Tools = convertOpenAITools(req.Tools)
	}
	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if len(options) > 0 {
		payload.Options = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, ai.NewProviderError("ollama", model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, ai.NewProviderError("ollama", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, ai.NewProviderError("ollama", model, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusBadRequest {
		errBody, readErr := io.ReadAll(io.LimitReader(httpResp.Body, 8<<10))
		if readErr != nil {
			return nil, ai.NewProviderError("ollama", model,
				fmt.Errorf("ollama status %d (read body failed: %w)", httpResp.StatusCode, readErr)).WithStatus(httpResp.StatusCode)
		}
		return nil, ai.NewProviderError("ollama", model,
			fmt.Errorf("ollama status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(httpResp.StatusCode)
	}

	var resp ollamaChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, ai.NewProviderError("ollama", model, fmt.Errorf("decode response: %w", err))
	}
	if resp.Error != "" {
		return nil, ai.NewProviderError("ollama", model, errors.New(resp.Error))
	}

	result := &ai.CompletionResult{
		FinishReason: ai.FinishStop,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
		Model:        model,
	}
	if resp.DoneReason == "length" {
		result.FinishReason = ai.FinishLength
	}
	if resp.Message != nil {
		result.Content = resp.Message.Content
		for _, tc := range resp.Message.ToolCalls {
			callID := strings.TrimSpace(tc.ID)
			if callID == "" {
				callID = uuid.NewString()
			}
			args := tc.Function.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			result.ToolCalls = append(result.ToolCalls, ai.NativeToolCall{
				ID:        callID,
				Name:      strings.TrimSpace(tc.Function.Name),
				Arguments: args,
			})
		}
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = ai.FinishToolCalls
	}

	return result, nil
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []openai.Tool       `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	DoneReason      string             `json:"done_reason"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// buildOllamaMessages flattens history into Ollama's chat shape. Tool
// results carry the tool name, resolved from the originating call ID.
func buildOllamaMessages(req *ai.CompletionRequest) []ollamaChatMessage {
	messages := make([]ollamaChatMessage, 0, len(req.Messages)+1)

	toolNames := map[string]string{}
	for _, msg := range req.Messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" && tc.Name != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}

	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: system})
	}

	for _, msg := range req.Messages {
		role := msg.Role
		if role == "" {
			role = "user"
		}
		switch {
		case role == "assistant":
			ollamaMsg := ollamaChatMessage{Role: role, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				ollamaMsg.ToolCalls = append(ollamaMsg.ToolCalls, ollamaToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ollamaToolFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			messages = append(messages, ollamaMsg)
		case len(msg.ToolResults) > 0:
			for _, tr := range msg.ToolResults {
				messages = append(messages, ollamaChatMessage{
					Role:     "tool",
					Content:  tr.Content,
					ToolName: toolNames[tr.ToolCallID],
				})
			}
		default:
			messages = append(messages, ollamaChatMessage{Role: role, Content: msg.Content})
		}
	}

	return messages
}

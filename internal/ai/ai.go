// Package ai routes model requests to LLM providers. The reasoning loop,
// classifier, planner and scheduler all go through the Router interface;
// concrete providers live in internal/ai/providers and are registered at
// startup. Routing picks a provider and model from the task tier unless the
// caller pins one explicitly.
package ai

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/legionruntime/legion/pkg/models"
)

// ErrAllProvidersFailed is returned when every candidate in the failover
// chain was tried and none produced a response. On the first iteration of an
// incoming_message run this is the only AI error treated as fatal.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Router is the narrow interface the rest of the runtime sees.
type Router interface {
	Process(ctx context.Context, req *Request, opts *Options) (*Response, error)
}

// Request is one routed model call.
type Request struct {
	// Task is the short task description used for routing decisions and
	// request logging. It is not sent to the model.
	Task     string    `json:"task,omitempty"`
	Messages []Message `json:"messages"`
	UserID   string    `json:"userId,omitempty"`
	Tools    []ToolDef `json:"tools,omitempty"`

	// ForceTier and ForceProvider are routing directives. ForceProvider wins
	// when both are set.
	ForceTier     models.Tier `json:"forceTier,omitempty"`
	ForceProvider string      `json:"forceProvider,omitempty"`

	// Attribution for the usage ledger. One UsageRecord is written per
	// request by the recording decorator.
	AgentID        string `json:"agentId,omitempty"`
	RequestType    string `json:"requestType,omitempty"` // reasoning | classify | reflect | collab | scheduler | plan
	TaskID         string `json:"taskId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Source         string `json:"source,omitempty"`
}

// Options tune a single call without changing what is asked.
type Options struct {
	IsAgentic   bool    `json:"isAgentic,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Model       string  `json:"model,omitempty"`
}

// Response is the routed result.
type Response struct {
	Content         string           `json:"content"`
	NativeToolCalls []NativeToolCall `json:"nativeToolCalls,omitempty"`
	UsedNativeTools bool             `json:"usedNativeTools"`
	FinishReason    string           `json:"finishReason"`
	Usage           Usage            `json:"usage"`
	Provider        string           `json:"provider"`
	Model           string           `json:"model"`

	// OutputFiles are produced by file-generating providers and are
	// auto-delivered unless the caller suppresses delivery.
	OutputFiles []OutputFile `json:"outputFiles,omitempty"`
}

// Usage is the token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OutputFile describes a file a provider wrote to the workspace.
type OutputFile struct {
	Name      string `json:"name"`
	FullPath  string `json:"fullPath"`
	SizeHuman string `json:"sizeHuman,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
}

// Finish reasons, normalized across providers.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Message is one turn of conversation history sent to a provider.
type Message struct {
	Role        string              `json:"role"` // system | user | assistant | tool
	Content     string              `json:"content,omitempty"`
	ToolCalls   []NativeToolCall    `json:"toolCalls,omitempty"`
	ToolResults []ToolResultMessage `json:"toolResults,omitempty"`
}

// NativeToolCall is a function call emitted by a native function-calling
// provider. ID is preserved so the result can be threaded back in the
// provider's expected tool-result format.
type NativeToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultMessage threads a tool outcome back to the provider.
type ToolResultMessage struct {
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	IsError    bool   `json:"isError,omitempty"`
}

// ToolDef is a native tool schema handed to providers that support
// function calling.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Provider is a single LLM backend. Implementations own their retry policy
// for transient failures; the router owns failover across providers.
type Provider interface {
	// Name returns the stable lowercase provider identifier.
	Name() string

	// Complete performs one full (non-streaming) exchange. An empty
	// req.Model selects the provider's default model.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
}

// CompletionRequest is the provider-level request, already resolved from
// routing directives.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDef
	Temperature float64
	MaxTokens   int
}

// CompletionResult is a provider's completed exchange.
type CompletionResult struct {
	Content      string
	ToolCalls    []NativeToolCall
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}

package models

import (
	"encoding/json"
	"time"
)

// ToolCall is a structured invocation the AI asked for: a tool ID, loose
// parameters, and optionally the model's stated reasoning.
type ToolCall struct {
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`

	// NativeToolCallID is preserved for native function-calling providers so
	// the result can be threaded back in the provider's tool-result format.
	NativeToolCallID string `json:"native_tool_call_id,omitempty"`
}

// ToolResult is the uniform outcome of a tool execution.
type ToolResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AsyncHandle is the shape tools return inside Result to signal deferred
// completion; the loop records the call and moves on without awaiting.
type AsyncHandle struct {
	Async      bool   `json:"async"`
	TrackingID string `json:"trackingId"`
}

// AsyncTracking extracts an async handle from a tool result, if present.
func (r *ToolResult) AsyncTracking() (string, bool) {
	if r == nil || !r.Success {
		return "", false
	}
	switch v := r.Result.(type) {
	case AsyncHandle:
		if v.Async {
			return v.TrackingID, true
		}
	case *AsyncHandle:
		if v != nil && v.Async {
			return v.TrackingID, true
		}
	case map[string]any:
		async, _ := v["async"].(bool)
		if !async {
			return "", false
		}
		id, _ := v["trackingId"].(string)
		return id, true
	}
	return "", false
}

// ResultMessage extracts the "message" field from a tool result object, used
// by the respond tool's incremental delivery path.
func (r *ToolResult) ResultMessage() (string, bool) {
	if r == nil || r.Result == nil {
		return "", false
	}
	switch v := r.Result.(type) {
	case string:
		return v, v != ""
	case map[string]any:
		msg, _ := v["message"].(string)
		return msg, msg != ""
	}
	return "", false
}

// ActionStatus is the persisted outcome of one tool call inside a run.
type ActionStatus string

const (
	ActionExecuted           ActionStatus = "executed"
	ActionFailed             ActionStatus = "failed"
	ActionQueuedForApproval  ActionStatus = "queued_for_approval"
	ActionAsyncStarted       ActionStatus = "async_started"
	ActionBlockedError       ActionStatus = "blocked_error_content"
	ActionBlockedPlaceholder ActionStatus = "blocked_placeholder_text"
)

// NormalizeActionStatus maps legacy emissions onto canonical values for audit
// queries. "success" is an alias of "executed"; emission is never rewritten.
func NormalizeActionStatus(s string) ActionStatus {
	if s == "success" {
		return ActionExecuted
	}
	return ActionStatus(s)
}

// ActionRecord is one entry in a run's action trail.
type ActionRecord struct {
	Tool            string         `json:"tool"`
	Params          map[string]any `json:"params,omitempty"`
	Status          ActionStatus   `json:"status"`
	Result          string         `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	Reasoning       string         `json:"reasoning,omitempty"`
	TrackingID      string         `json:"tracking_id,omitempty"`
	ApprovalID      string         `json:"approval_id,omitempty"`
	SentImmediately bool           `json:"sent_immediately,omitempty"`
	Iteration       int            `json:"iteration"`
	At              time.Time      `json:"at"`
}

// RunResult is what a completed reasoning run reports back to its caller.
type RunResult struct {
	Actions      []ActionRecord `json:"actions"`
	Iterations   int            `json:"iterations"`
	TokensUsed   int64          `json:"tokens_used"`
	FinalThought string         `json:"final_thought,omitempty"`
	Silent       bool           `json:"silent,omitempty"`
	PlanID       string         `json:"plan_id,omitempty"`
}

// ExecutedToolIDs returns the distinct tools that actually ran.
func (r *RunResult) ExecutedToolIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range r.Actions {
		if a.Status != ActionExecuted {
			continue
		}
		if _, ok := seen[a.Tool]; ok {
			continue
		}
		seen[a.Tool] = struct{}{}
		out = append(out, a.Tool)
	}
	return out
}

// ToolContext is handed to every tool execution.
type ToolContext struct {
	AgentID            string          `json:"agent_id"`
	UserID             string          `json:"user_id"`
	ConversationID     string          `json:"conversation_id,omitempty"`
	AccountID          string          `json:"account_id,omitempty"`
	ExternalID         string          `json:"external_id,omitempty"`
	Platform           string          `json:"platform,omitempty"`
	Sender             string          `json:"sender,omitempty"`
	OrchestrationDepth int             `json:"_orchestrationDepth"`
	Trigger            *TriggerContext `json:"trigger,omitempty"`
}

// ToolExecution is the audit row for one tool invocation.
type ToolExecution struct {
	ID         string          `json:"id"`
	AgentID    string          `json:"agent_id"`
	UserID     string          `json:"user_id"`
	Tool       string          `json:"tool"`
	Params     json.RawMessage `json:"params,omitempty"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Package audit records every consequential agent action as a structured
// event stream. Events are buffered and written asynchronously as JSON
// lines, with privacy controls for tool parameters.
package audit

import (
	"time"
)

// EventType identifies the kind of audited action.
type EventType string

const (
	// Reasoning lifecycle
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunSkipped   EventType = "run.skipped"

	// Tool execution
	EventToolExecuted EventType = "tool.executed"
	EventToolFailed   EventType = "tool.failed"
	EventToolBlocked  EventType = "tool.blocked"

	// Approval flow
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"
	EventApprovalExpired   EventType = "approval.expired"

	// Scheduler
	EventScheduleFired   EventType = "schedule.fired"
	EventScheduleSkipped EventType = "schedule.skipped"

	// Messaging and collaboration
	EventAgentMessage      EventType = "agent.message"
	EventCollabEvent       EventType = "collab.event"
	EventNotificationSent  EventType = "notification.sent"
	EventNotificationError EventType = "notification.error"

	// Budget and limits
	EventBudgetThreshold EventType = "budget.threshold"
	EventRateLimited     EventType = "rate.limited"
)

// Level is the audit severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config controls the audit logger.
type Config struct {
	// Enabled turns auditing on. A disabled logger accepts events and
	// drops them.
	Enabled bool

	// Level is the minimum severity recorded.
	Level Level

	// Format is the output encoding; JSON emits one object per line.
	Format Format

	// Output selects the sink: "stdout", "stderr", or "file:<path>".
	Output string

	// EventTypes, when non-empty, restricts recording to these types.
	EventTypes []EventType

	// SampleRate records a fraction of events (1.0 = all).
	SampleRate float64

	// BufferSize is the async channel capacity.
	BufferSize int

	// FlushInterval is how often buffered events are drained.
	FlushInterval time.Duration

	// IncludeParams writes tool parameters verbatim. When false only a
	// hash is recorded.
	IncludeParams bool

	// IncludeResults writes tool results verbatim. When false only the
	// size is recorded.
	IncludeResults bool

	// MaxFieldSize truncates recorded params and results.
	MaxFieldSize int
}

// DefaultConfig returns a disabled logger configuration with sane limits.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Level:         LevelInfo,
		Format:        FormatJSON,
		Output:        "stdout",
		SampleRate:    1.0,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		MaxFieldSize:  1024,
	}
}

// Event is one audited action.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`

	RunID      string `json:"run_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Trigger    string `json:"trigger,omitempty"`
	ToolID     string `json:"tool_id,omitempty"`
	ApprovalID string `json:"approval_id,omitempty"`
	ScheduleID string `json:"schedule_id,omitempty"`

	Action   string         `json:"action"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Package hooks provides an event-driven hook system for runtime events.
// The reasoning loop, scheduler, and approval service publish here; the
// websocket gateway and audit trail subscribe.
package hooks

import (
	"context"
	"time"
)

// EventType identifies the category of hook event.
type EventType string

const (
	// Reasoning run events
	EventRunStarted   EventType = "run.started"
	EventRunIteration EventType = "run.iteration"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	// Tool events
	EventToolCalled    EventType = "tool.called"
	EventToolCompleted EventType = "tool.completed"

	// Approval events
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"

	// Plan events
	EventPlanCreated   EventType = "plan.created"
	EventPlanStep      EventType = "plan.step"
	EventPlanCompleted EventType = "plan.completed"

	// Scheduler events
	EventScheduleFired EventType = "schedule.fired"

	// Agent-to-agent and collaboration events
	EventAgentMessage   EventType = "agent.message"
	EventCollabStarted  EventType = "collab.started"
	EventCollabResolved EventType = "collab.resolved"

	// Notification events
	EventNotificationSent EventType = "notification.sent"

	// Runtime lifecycle events
	EventRuntimeStartup  EventType = "runtime.startup"
	EventRuntimeShutdown EventType = "runtime.shutdown"
)

// Event is one runtime occurrence with its correlation fields.
type Event struct {
	// Type is the event category
	Type EventType `json:"type"`

	// Action is the specific action within the type (optional)
	Action string `json:"action,omitempty"`

	// RunID correlates events belonging to one reasoning run
	RunID string `json:"run_id,omitempty"`

	// AgentID is the agent this event concerns
	AgentID string `json:"agent_id,omitempty"`

	// UserID is the owning user
	UserID string `json:"user_id,omitempty"`

	// Trigger is the trigger type of the run, when applicable
	Trigger string `json:"trigger,omitempty"`

	// Timestamp when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Context holds additional event-specific data
	Context map[string]any `json:"context,omitempty"`

	// Error if this is an error event
	Error    error  `json:"-"`
	ErrorMsg string `json:"error,omitempty"`
}

// NewEvent builds an event with the timestamp and context initialized.
func NewEvent(eventType EventType, action string) *Event {
	return &Event{
		Type:      eventType,
		Action:    action,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
}

// WithRun sets run correlation fields on the event.
func (e *Event) WithRun(runID, agentID string) *Event {
	e.RunID = runID
	e.AgentID = agentID
	return e
}

// WithContext adds a key to the event context.
func (e *Event) WithContext(key string, value any) *Event {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithError attaches an error to the event.
func (e *Event) WithError(err error) *Event {
	e.Error = err
	if err != nil {
		e.ErrorMsg = err.Error()
	}
	return e
}

// Handler is a function that processes hook events. Handlers should be
// fast and non-blocking; long-running work belongs in goroutines.
type Handler func(ctx context.Context, event *Event) error

// Priority determines the order handlers are called.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration is a registered hook handler.
type Registration struct {
	// ID is a unique identifier for this registration
	ID string

	// EventKey is the event type or type:action this handler listens for
	EventKey string

	// Handler is the function to call
	Handler Handler

	// Priority determines call order (lower = earlier)
	Priority Priority

	// Name is a human-readable name for debugging
	Name string

	// Source identifies where this handler came from
	Source string
}

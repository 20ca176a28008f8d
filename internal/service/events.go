package service

import (
	"context"
	"errors"
	"time"

	"github.com/legionruntime/legion/internal/audit"
	"github.com/legionruntime/legion/internal/hooks"
)

// streamSink is the dashboard-facing slice of the websocket hub.
type streamSink interface {
	Emit(event string, payload map[string]any)
}

// eventFan forwards reasoning loop events to the websocket hub, writes the
// matching audit records, and dispatches hook handlers. It is the single Events
// sink the loop sees, so each of the three consumers stays decoupled from it.
type eventFan struct {
	stream streamSink
	audit  *audit.Logger
	hooks  *hooks.Registry
}

func newEventFan(stream streamSink, auditLog *audit.Logger, registry *hooks.Registry) *eventFan {
	return &eventFan{stream: stream, audit: auditLog, hooks: registry}
}

func (f *eventFan) Emit(event string, payload map[string]any) {
	if f.stream != nil {
		f.stream.Emit(event, payload)
	}

	// Emit carries no context; audit writes and hook dispatch are
	// fire-and-forget against the background context.
	ctx := context.Background()

	agentID := payloadString(payload, "agent_id")
	runID := payloadString(payload, "run_id")

	switch event {
	case "reasoning:start":
		trigger := payloadString(payload, "trigger")
		if f.audit != nil {
			f.audit.LogRunStarted(ctx, runID, agentID, trigger)
		}
		f.trigger(ctx, hooks.NewEvent(hooks.EventRunStarted, "").
			WithRun(runID, agentID).
			WithContext("trigger", trigger).
			WithContext("tier", payloadString(payload, "tier")))

	case "reasoning:step":
		f.trigger(ctx, hooks.NewEvent(hooks.EventRunIteration, "").
			WithRun(runID, agentID).
			WithContext("iteration", payload["iteration"]))

	case "reasoning:complete":
		iterations := payloadInt(payload, "iterations")
		if f.audit != nil {
			f.audit.LogRunCompleted(ctx, runID, agentID, "", iterations, 0, 0)
		}
		f.trigger(ctx, hooks.NewEvent(hooks.EventRunCompleted, "").
			WithRun(runID, agentID).
			WithContext("iterations", iterations).
			WithContext("tool_calls", payload["tool_calls"]).
			WithContext("silent", payload["silent"]))

	case "agentic:error":
		errMsg := payloadString(payload, "error")
		trigger := payloadString(payload, "trigger")
		if f.audit != nil {
			f.audit.LogRunFailed(ctx, runID, agentID, trigger, errors.New(errMsg))
		}
		f.trigger(ctx, hooks.NewEvent(hooks.EventRunFailed, "").
			WithRun(runID, agentID).
			WithContext("trigger", trigger).
			WithError(errors.New(errMsg)))

	case "tool:start":
		f.trigger(ctx, hooks.NewEvent(hooks.EventToolCalled, payloadString(payload, "tool")).
			WithRun(runID, agentID))

	case "tool:result":
		tool := payloadString(payload, "tool")
		status := payloadString(payload, "status")
		if f.audit != nil {
			f.audit.LogToolExecution(ctx, runID, agentID, tool, status, nil, "", time.Duration(0))
		}
		f.trigger(ctx, hooks.NewEvent(hooks.EventToolCompleted, tool).
			WithRun(runID, agentID).
			WithContext("status", status))
	}
}

func (f *eventFan) trigger(ctx context.Context, ev *hooks.Event) {
	if f.hooks != nil {
		f.hooks.TriggerAsync(ctx, ev)
	}
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func payloadInt(payload map[string]any, key string) int {
	n, _ := payload[key].(int)
	return n
}

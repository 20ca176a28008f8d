package reasoning

import (
	"sync"
	"testing"
)

// sinkEvent is one captured Emit call.
type sinkEvent struct {
	Event   string
	Payload map[string]any
}

// pauseFakeSink records emitted events for assertions.
type pauseFakeSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *pauseFakeSink) Emit(event string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{Event: event, Payload: payload})
}

func (s *pauseFakeSink) all() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *pauseFakeSink) named(event string) []sinkEvent {
	var out []sinkEvent
	for _, e := range s.all() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func TestControls_PauseResume(t *testing.T) {
	sink := &pauseFakeSink{}
	c := NewControls(sink)

	if c.Paused("a1") {
		t.Fatal("fresh agent should not be paused")
	}
	c.Pause("a1")
	if !c.Paused("a1") {
		t.Fatal("agent should be paused")
	}
	if c.Paused("a2") {
		t.Fatal("pause must not leak to other agents")
	}
	c.Resume("a1")
	if c.Paused("a1") {
		t.Fatal("resume should lift the pause")
	}

	events := sink.named("agentic:status:changed")
	if len(events) != 2 {
		t.Fatalf("got %d status events, want 2", len(events))
	}
	if events[0].Payload["state"] != "paused" || events[1].Payload["state"] != "active" {
		t.Fatalf("bad state sequence: %v, %v", events[0].Payload["state"], events[1].Payload["state"])
	}
	if events[0].Payload["agent_id"] != "a1" {
		t.Fatalf("bad agent id: %v", events[0].Payload["agent_id"])
	}
}

func TestControls_InterruptIsOneShot(t *testing.T) {
	sink := &pauseFakeSink{}
	c := NewControls(sink)

	if c.TakeInterrupt("a1") {
		t.Fatal("no interrupt pending")
	}
	c.Interrupt("a1")
	if !c.TakeInterrupt("a1") {
		t.Fatal("first take should consume the interrupt")
	}
	if c.TakeInterrupt("a1") {
		t.Fatal("interrupt must be one-shot")
	}

	events := sink.named("agentic:status:changed")
	if len(events) != 1 || events[0].Payload["state"] != "interrupted" {
		t.Fatalf("bad events: %+v", events)
	}
}

func TestControls_InterruptLiftsPause(t *testing.T) {
	c := NewControls(nil)

	c.Pause("a1")
	c.Interrupt("a1")
	if c.Paused("a1") {
		t.Fatal("interrupt should lift the pause so the loop can exit")
	}
	if !c.TakeInterrupt("a1") {
		t.Fatal("interrupt should be pending")
	}
}

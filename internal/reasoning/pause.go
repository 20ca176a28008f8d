package reasoning

import "sync"

// Controls are the external pause, resume, and interrupt switches. Running
// loops poll them between iterations; a paused loop busy-waits, an
// interrupted loop exits with a final thought saying so.
type Controls struct {
	mu          sync.Mutex
	paused      map[string]bool
	interrupted map[string]bool
	events      EventSink
}

func NewControls(events EventSink) *Controls {
	return &Controls{
		paused:      make(map[string]bool),
		interrupted: make(map[string]bool),
		events:      events,
	}
}

// Pause suspends the agent's loops at the next iteration boundary.
func (c *Controls) Pause(agentID string) {
	c.mu.Lock()
	c.paused[agentID] = true
	c.mu.Unlock()
	c.emit(agentID, "paused")
}

// Resume lifts a pause.
func (c *Controls) Resume(agentID string) {
	c.mu.Lock()
	delete(c.paused, agentID)
	c.mu.Unlock()
	c.emit(agentID, "active")
}

// Interrupt makes the agent's running loop exit at the next iteration
// boundary. It also lifts any pause so the loop can reach that boundary.
func (c *Controls) Interrupt(agentID string) {
	c.mu.Lock()
	c.interrupted[agentID] = true
	delete(c.paused, agentID)
	c.mu.Unlock()
	c.emit(agentID, "interrupted")
}

// Paused reports whether the agent is currently paused.
func (c *Controls) Paused(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused[agentID]
}

// TakeInterrupt consumes a pending interrupt. The flag is one-shot: the
// first caller sees true and later callers false until Interrupt runs again.
func (c *Controls) TakeInterrupt(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.interrupted[agentID] {
		return false
	}
	delete(c.interrupted, agentID)
	return true
}

func (c *Controls) emit(agentID, state string) {
	if c.events == nil {
		return
	}
	c.events.Emit("agentic:status:changed", map[string]any{
		"agent_id": agentID,
		"state":    state,
	})
}

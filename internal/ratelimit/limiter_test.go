package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// stepClock is a controllable clock for window tests.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiter_Allow(t *testing.T) {
	clock := newStepClock()
	limiter := NewLimiter(Config{CyclesPerHour: 20, Window: time.Hour, Enabled: true},
		WithNow(clock.Now))

	// Should allow the full cap
	for i := 0; i < 20; i++ {
		if !limiter.Allow("agent-1") {
			t.Errorf("cycle %d should be allowed", i)
		}
	}

	// 21st cycle in the same window should be denied
	if limiter.Allow("agent-1") {
		t.Error("cycle past the cap should be denied")
	}

	// Other agents have independent windows
	if !limiter.Allow("agent-2") {
		t.Error("other agent should not be affected")
	}
}

func TestLimiter_WindowReset(t *testing.T) {
	clock := newStepClock()
	limiter := NewLimiter(Config{CyclesPerHour: 2, Window: time.Hour, Enabled: true},
		WithNow(clock.Now))

	limiter.Allow("agent-1")
	limiter.Allow("agent-1")
	if limiter.Allow("agent-1") {
		t.Error("should be denied after exhausting the window")
	}

	// 59 minutes in, still the same window
	clock.Advance(59 * time.Minute)
	if limiter.Allow("agent-1") {
		t.Error("should still be denied inside the window")
	}

	// Past the hour the window resets to (1, now)
	clock.Advance(2 * time.Minute)
	if !limiter.Allow("agent-1") {
		t.Error("should be allowed after the window expires")
	}
	status := limiter.GetStatus("agent-1")
	if status.Used != 1 {
		t.Errorf("Used after reset = %d, want 1", status.Used)
	}
}

func TestLimiter_GetStatus(t *testing.T) {
	clock := newStepClock()
	limiter := NewLimiter(Config{CyclesPerHour: 20, Window: time.Hour, Enabled: true},
		WithNow(clock.Now))

	// Fresh agent reports zero usage and no reset time
	status := limiter.GetStatus("agent-1")
	if status.Used != 0 || status.Max != 20 {
		t.Errorf("fresh status = {used:%d max:%d}, want {0 20}", status.Used, status.Max)
	}
	if !status.ResetsAt.IsZero() {
		t.Errorf("fresh ResetsAt = %v, want zero", status.ResetsAt)
	}

	start := clock.Now()
	for i := 0; i < 3; i++ {
		limiter.Allow("agent-1")
	}

	status = limiter.GetStatus("agent-1")
	if status.Used != 3 {
		t.Errorf("Used = %d, want 3", status.Used)
	}
	if want := start.Add(time.Hour); !status.ResetsAt.Equal(want) {
		t.Errorf("ResetsAt = %v, want %v", status.ResetsAt, want)
	}

	// Status is read-only
	if limiter.GetStatus("agent-1").Used != 3 {
		t.Error("GetStatus must not consume a slot")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(Config{CyclesPerHour: 1, Window: time.Hour, Enabled: false})

	for i := 0; i < 100; i++ {
		if !limiter.Allow("agent-1") {
			t.Fatal("disabled limiter should always allow")
		}
	}
}

func TestLimiter_Reset(t *testing.T) {
	clock := newStepClock()
	limiter := NewLimiter(Config{CyclesPerHour: 1, Window: time.Hour, Enabled: true},
		WithNow(clock.Now))

	limiter.Allow("agent-1")
	if limiter.Allow("agent-1") {
		t.Error("should be denied at the cap")
	}

	limiter.Reset("agent-1")
	if !limiter.Allow("agent-1") {
		t.Error("should be allowed after reset")
	}
}

func TestLimiter_Remaining(t *testing.T) {
	clock := newStepClock()
	limiter := NewLimiter(Config{CyclesPerHour: 5, Window: time.Hour, Enabled: true},
		WithNow(clock.Now))

	if got := limiter.Remaining("agent-1"); got != 5 {
		t.Errorf("Remaining = %d, want 5", got)
	}
	for i := 0; i < 5; i++ {
		limiter.Allow("agent-1")
	}
	if got := limiter.Remaining("agent-1"); got != 0 {
		t.Errorf("Remaining at cap = %d, want 0", got)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	clock := newStepClock()
	limiter := NewLimiter(Config{CyclesPerHour: 100, Window: time.Hour, Enabled: true},
		WithNow(clock.Now))

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- limiter.Allow("agent-1")
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 100 {
		t.Errorf("allowed %d cycles concurrently, want exactly 100", count)
	}
}

func TestLimiter_ManyAgents(t *testing.T) {
	clock := newStepClock()
	limiter := NewLimiter(Config{CyclesPerHour: 2, Window: time.Hour, Enabled: true},
		WithNow(clock.Now))

	for i := 0; i < 50; i++ {
		agentID := fmt.Sprintf("agent-%d", i)
		if !limiter.Allow(agentID) || !limiter.Allow(agentID) {
			t.Errorf("agent %s should get its full window", agentID)
		}
		if limiter.Allow(agentID) {
			t.Errorf("agent %s should be capped independently", agentID)
		}
	}
}

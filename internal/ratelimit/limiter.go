// Package ratelimit caps autonomous reasoning cycles per agent.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures the per-agent cycle cap.
type Config struct {
	// CyclesPerHour is the number of reasoning cycles allowed per window.
	CyclesPerHour int `yaml:"cycles_per_hour"`
	// Window is the counting window. Defaults to one hour.
	Window time.Duration `yaml:"window"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		CyclesPerHour: 20,
		Window:        time.Hour,
		Enabled:       true,
	}
}

// entry tracks one agent's window. The window starts at the first cycle
// after an idle or expired period and resets fully once it ages out.
type entry struct {
	count       int
	windowStart time.Time
}

// Limiter counts reasoning cycles per agent. Allow consumes a slot; use
// Status for read-only inspection.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	maxKeys int
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithNow injects a clock. Tests use this to step time deterministically.
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a new cycle limiter.
func NewLimiter(config Config, opts ...Option) *Limiter {
	if config.CyclesPerHour <= 0 {
		config.CyclesPerHour = 20
	}
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	l := &Limiter{
		entries: make(map[string]*entry),
		config:  config,
		maxKeys: 10000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether the agent may start another cycle and counts it.
// The first request, or any request after the window expired, resets the
// window to (1, now).
func (l *Limiter) Allow(agentID string) bool {
	if !l.config.Enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, exists := l.entries[agentID]
	if !exists || now.Sub(e.windowStart) >= l.config.Window {
		if !exists && len(l.entries) >= l.maxKeys {
			l.prune(now)
		}
		l.entries[agentID] = &entry{count: 1, windowStart: now}
		return true
	}
	if e.count >= l.config.CyclesPerHour {
		return false
	}
	e.count++
	return true
}

// prune removes expired windows (must be called with lock held).
func (l *Limiter) prune(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.windowStart) >= l.config.Window {
			delete(l.entries, key)
		}
	}
}

// Reset clears the agent's window.
func (l *Limiter) Reset(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, agentID)
}

// Status is the read-only view of an agent's window.
type Status struct {
	AgentID  string    `json:"agent_id"`
	Used     int       `json:"used"`
	Max      int       `json:"max"`
	ResetsAt time.Time `json:"resets_at"`
}

// GetStatus returns the agent's current usage without consuming a slot.
func (l *Limiter) GetStatus(agentID string) Status {
	status := Status{
		AgentID: agentID,
		Max:     l.config.CyclesPerHour,
	}
	if !l.config.Enabled {
		return status
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, exists := l.entries[agentID]
	if !exists || now.Sub(e.windowStart) >= l.config.Window {
		return status
	}
	status.Used = e.count
	status.ResetsAt = e.windowStart.Add(l.config.Window)
	return status
}

// Remaining returns how many cycles the agent has left in the window.
func (l *Limiter) Remaining(agentID string) int {
	status := l.GetStatus(agentID)
	remaining := status.Max - status.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/legionruntime/legion/internal/toolcall"
	"github.com/legionruntime/legion/pkg/models"
)

const (
	// MaxToolIDLength bounds registered tool IDs.
	MaxToolIDLength = 256
	// MaxParamsSize bounds the serialized params accepted by Execute.
	MaxParamsSize = 10 * 1024 * 1024
)

// Registry holds every registered tool. Registration order is preserved so
// prompt listings stay stable across runs.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. IDs must be unique, non-empty, and bounded.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	id := t.Describe().ID
	if id == "" {
		return fmt.Errorf("cannot register tool with empty id")
	}
	if len(id) > MaxToolIDLength {
		return fmt.Errorf("tool id exceeds %d characters: %s", MaxToolIDLength, id[:32])
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[id]; exists {
		return fmt.Errorf("tool already registered: %s", id)
	}
	r.tools[id] = t
	r.order = append(r.order, id)
	return nil
}

// Get returns the tool registered under id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Descriptor returns the descriptor registered under id.
func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	t, ok := r.Get(id)
	if !ok {
		return Descriptor{}, false
	}
	return t.Describe(), true
}

// List returns every descriptor in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tools[id].Describe())
	}
	return out
}

// IDs returns every registered tool ID in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Schemas returns the parameter-name schemas the validator corrects against.
func (r *Registry) Schemas() map[string]toolcall.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]toolcall.Schema, len(r.order))
	for _, id := range r.order {
		d := r.tools[id].Describe()
		out[id] = toolcall.Schema{Required: d.Required, Optional: d.Optional}
	}
	return out
}

// Execute runs the named tool. An unknown tool is a result the AI can react
// to, not a Go error.
func (r *Registry) Execute(ctx context.Context, id string, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
	t, ok := r.Get(id)
	if !ok {
		return errResult("tool not found: %s", id), nil
	}
	if len(params) > 0 {
		if raw, err := json.Marshal(params); err == nil && len(raw) > MaxParamsSize {
			return errResult("tool params too large: %d bytes (max %d)", len(raw), MaxParamsSize), nil
		}
	}

	start := time.Now()
	res, err := t.Execute(ctx, params, tctx)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		r.logger.Warn("tool execution error", "tool", id, "duration", elapsed, "error", err)
	case res != nil && !res.Success:
		r.logger.Debug("tool reported failure", "tool", id, "duration", elapsed, "error", res.Error)
	default:
		r.logger.Debug("tool executed", "tool", id, "duration", elapsed)
	}
	return res, err
}

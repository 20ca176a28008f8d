// Package checkpoint saves and restores reasoning positions so a run that
// was killed mid-iteration can continue instead of starting over.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// Manager owns the checkpoint lifecycle around the reasoning loop. All of
// its operations are best-effort from the loop's point of view: callers log
// failures and keep going.
type Manager struct {
	store  store.CheckpointStore
	logger *slog.Logger
	now    func() time.Time
}

// NewManager wires the checkpoint manager.
func NewManager(st store.CheckpointStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		logger: logger.With("component", "checkpoint"),
		now:    time.Now,
	}
}

// Save upserts the agent's active checkpoint. A missing ID gets one; the ID
// is kept across saves of the same run so the final Complete matches.
func (m *Manager) Save(ctx context.Context, cp *models.Checkpoint) error {
	if cp == nil || cp.AgentID == "" {
		return fmt.Errorf("checkpoint: agent id is required")
	}
	now := m.now().UTC()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
		cp.CreatedAt = now
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Status = models.CheckpointActive
	if err := m.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	return nil
}

// Resume returns the checkpoint a new run should continue from, or nil when
// the run starts fresh. A new incoming message clears any active checkpoint
// and never resumes: each message is an independent task, and replaying old
// iterations against it would answer the wrong question.
func (m *Manager) Resume(ctx context.Context, agentID string, trigger models.TriggerType) (*models.Checkpoint, error) {
	if trigger == models.TriggerIncomingMessage {
		if err := m.store.ClearActive(ctx, agentID); err != nil {
			return nil, fmt.Errorf("checkpoint: clear: %w", err)
		}
		return nil, nil
	}
	cp, err := m.store.GetActive(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load: %w", err)
	}
	m.logger.Info("resuming from checkpoint",
		"agent_id", agentID, "checkpoint_id", cp.ID, "iteration", cp.Iteration, "trigger", cp.Trigger)
	return cp, nil
}

// Complete marks the agent's active checkpoint done. No active checkpoint
// is not an error.
func (m *Manager) Complete(ctx context.Context, agentID string) error {
	return m.finish(ctx, agentID, m.store.Complete)
}

// Fail marks the agent's active checkpoint failed so a later run does not
// resume a position that already went wrong twice.
func (m *Manager) Fail(ctx context.Context, agentID string) error {
	return m.finish(ctx, agentID, m.store.Fail)
}

func (m *Manager) finish(ctx context.Context, agentID string, op func(context.Context, string) error) error {
	cp, err := m.store.GetActive(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checkpoint: load: %w", err)
	}
	if err := op(ctx, cp.ID); err != nil {
		return fmt.Errorf("checkpoint: finish: %w", err)
	}
	return nil
}

package models

import "time"

// CheckpointStatus is the state of a saved reasoning position.
type CheckpointStatus string

const (
	CheckpointActive    CheckpointStatus = "active"
	CheckpointCompleted CheckpointStatus = "completed"
	CheckpointFailed    CheckpointStatus = "failed"
)

// Checkpoint captures where a reasoning run left off so a later trigger can
// resume instead of starting over. At most one active checkpoint exists per
// agent; an incoming user message clears it because each new message is an
// independent task. Checkpoints are not transactional with tool side
// effects: a tool may have run even though the checkpoint missed it, and
// the resume path accepts that.
type Checkpoint struct {
	ID      string           `json:"id"`
	AgentID string           `json:"agent_id"`
	UserID  string           `json:"user_id"`
	Status  CheckpointStatus `json:"status"`

	Trigger        TriggerType     `json:"trigger"`
	TriggerContext *TriggerContext `json:"trigger_context,omitempty"`
	Tier           Tier            `json:"tier,omitempty"`

	Iteration  int            `json:"iteration"`
	TokensUsed int64          `json:"tokens_used"`
	Actions    []ActionRecord `json:"actions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

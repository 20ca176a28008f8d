package models

import "time"

// TaskStatus is the lifecycle state of a unit of work.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
	TaskCancelled  TaskStatus = "cancelled"
	TaskFailed     TaskStatus = "failed"
)

// TaskType distinguishes regular tasks from plan scaffolding.
type TaskType string

const (
	TaskTypeStandard  TaskType = "standard"
	TaskTypeDelegated TaskType = "delegated"
	TaskTypePlanRoot  TaskType = "plan_root"
	TaskTypePlanStep  TaskType = "plan_step"
)

// Task is a unit of work owned by a user and worked by an agent or a human
// team member. Plan steps are tasks linked to a root plan task.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        TaskType   `json:"type"`
	Status      TaskStatus `json:"status"`
	Priority    string     `json:"priority,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`

	// Assignee is either an agent ID or a team member ID.
	AssigneeID   string `json:"assignee_id,omitempty"`
	AssigneeKind string `json:"assignee_kind,omitempty"` // agent | member

	ParentTaskID string `json:"parent_task_id,omitempty"`
	AISummary    string `json:"ai_summary,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskCancelled, TaskFailed:
		return true
	}
	return false
}

// Goal is a standing objective shown to the agent in its context.
type Goal struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivityEntry is one row of the activity log written at run completion and
// by the scheduler.
type ActivityEntry struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	UserID    string         `json:"user_id"`
	Kind      string         `json:"kind"`
	Summary   string         `json:"summary"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

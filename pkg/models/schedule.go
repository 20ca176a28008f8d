package models

import "time"

// ScheduleType selects how next_run_at is derived.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleOnce     ScheduleType = "once"
	ScheduleEvent    ScheduleType = "event"
)

// Schedule action types handled by the scheduler's action registry.
const (
	ActionCheckMessages       = "check_messages"
	ActionSendReport          = "send_report"
	ActionReviewTasks         = "review_tasks"
	ActionUpdateKnowledge     = "update_knowledge"
	ActionCustomPrompt        = "custom_prompt"
	ActionSelfReflect         = "self_reflect"
	ActionHealthSummary       = "health_summary"
	ActionReasoningCycle      = "reasoning_cycle"
	ActionFollowUpCheckIn     = "follow_up_check_in"
	ActionProactiveOutreach   = "proactive_outreach"
	ActionMemoryConsolidation = "memory_consolidation"
	ActionBudgetReset         = "budget_reset"
)

// Schedule is a persistent trigger for autonomous agent work.
//
// Invariants: cron schedules carry a cron expression, interval schedules a
// positive minute count, once schedules a run_at timestamp. A once schedule
// deactivates after it fires; once and event schedules have no next_run_at
// after firing.
type Schedule struct {
	ID      string       `json:"id"`
	AgentID string       `json:"agent_id"`
	UserID  string       `json:"user_id"`
	Name    string       `json:"name"`
	Type    ScheduleType `json:"type"`

	CronExpression  string     `json:"cron_expression,omitempty"`
	IntervalMinutes int        `json:"interval_minutes,omitempty"`
	RunAt           *time.Time `json:"run_at,omitempty"`
	EventName       string     `json:"event_name,omitempty"`

	ActionType   string         `json:"action_type"`
	ActionParams map[string]any `json:"action_params,omitempty"`
	CustomPrompt string         `json:"custom_prompt,omitempty"`

	Active    bool       `json:"active"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recurring reports whether the schedule fires more than once.
func (s *Schedule) Recurring() bool {
	return s.Type == ScheduleCron || s.Type == ScheduleInterval
}

// JobStatus is the outcome of one schedule firing.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSuccess   JobStatus = "success"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
	JobCancelled JobStatus = "cancelled"
)

// JobHistory records one execution of a schedule. Rows stuck in running
// across a restart are rewritten to failed during scheduler recovery.
type JobHistory struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	AgentID    string    `json:"agent_id"`
	ActionType string    `json:"action_type"`
	Status     JobStatus `json:"status"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`

	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	TokensUsed int64  `json:"tokens_used,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
}

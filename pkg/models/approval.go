package models

import "time"

// ApprovalStatus is the lifecycle of a human approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
	ApprovalModified ApprovalStatus = "modified"
)

// ApprovalPriority orders pending requests for the master.
type ApprovalPriority string

const (
	PriorityLow    ApprovalPriority = "low"
	PriorityNormal ApprovalPriority = "normal"
	PriorityHigh   ApprovalPriority = "high"
	PriorityUrgent ApprovalPriority = "urgent"
)

// ApprovalRequest is a tool call held for a human decision. The run that
// queued it ends; an approved request resumes the agent via an
// approval_resume trigger carrying the stored tool and params.
type ApprovalRequest struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	UserID     string         `json:"user_id"`
	ActionType string         `json:"action_type"` // usually "tool_call"
	ToolID     string         `json:"tool_id"`
	Params     map[string]any `json:"params"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`

	// TriggeredBy records the trigger type of the run that queued this.
	TriggeredBy TriggerType `json:"triggered_by,omitempty"`
	// Confidence is the agent's own estimate that the action is wanted.
	Confidence float64 `json:"confidence,omitempty"`

	Priority ApprovalPriority `json:"priority"`
	Status   ApprovalStatus   `json:"status"`

	// MasterContact and NotificationChannel record where the approval
	// request was sent so replies can be matched back.
	MasterContact       string `json:"master_contact,omitempty"`
	NotificationChannel string `json:"notification_channel,omitempty"`

	// ModifiedParams holds master-edited parameters when the decision is
	// "approve with changes"; execution uses these over Params.
	ModifiedParams map[string]any `json:"modified_params,omitempty"`

	ResolvedBy   string     `json:"resolved_by,omitempty"`
	ResolveNote  string     `json:"resolve_note,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ResumedRunAt *time.Time `json:"resumed_run_at,omitempty"`
}

// Open reports whether the request still awaits a decision.
func (r *ApprovalRequest) Open() bool {
	return r.Status == ApprovalPending
}

// ExpiredBy reports whether the request's deadline passed at now.
func (r *ApprovalRequest) ExpiredBy(now time.Time) bool {
	return r.Status == ApprovalPending && now.After(r.ExpiresAt)
}

// EffectiveParams returns the params execution should use, preferring
// master-modified values when present.
func (r *ApprovalRequest) EffectiveParams() map[string]any {
	if len(r.ModifiedParams) > 0 {
		return r.ModifiedParams
	}
	return r.Params
}

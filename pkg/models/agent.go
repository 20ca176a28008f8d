// Package models defines the shared entities of the Legion runtime: agent
// profiles, tasks, schedules, messages, approvals, memories, skills, and the
// records the reasoning loop produces while it runs.
package models

import "time"

// Autonomy controls the default approval stance for an agent's tool calls.
type Autonomy string

const (
	// AutonomySupervised queues every tool call for human approval.
	AutonomySupervised Autonomy = "supervised"
	// AutonomySemi auto-executes tools in the safe set, queues the rest.
	AutonomySemi Autonomy = "semi-autonomous"
	// AutonomyFull auto-executes everything except explicit overrides.
	AutonomyFull Autonomy = "autonomous"
)

// AgentStatus is the lifecycle state of an agent profile.
type AgentStatus string

const (
	AgentActive      AgentStatus = "active"
	AgentRunning     AgentStatus = "running"
	AgentPaused      AgentStatus = "paused"
	AgentDeactivated AgentStatus = "deactivated"
)

// MasterContact identifies the human superior an agent reports to.
type MasterContact struct {
	ContactID string `json:"contact_id"`
	Name      string `json:"name"`
	Channel   string `json:"channel"` // email, telegram, whatsapp, push
	Address   string `json:"address"` // channel-specific address
}

// Agent is a configured agentic profile owned by a user.
type Agent struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Name         string      `json:"name"`
	Role         string      `json:"role,omitempty"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	Status       AgentStatus `json:"status"`
	Autonomy     Autonomy    `json:"autonomy"`

	// Provider routing. Empty Provider means "use the task router".
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	Master             *MasterContact `json:"master,omitempty"`
	NotifyOn           []string       `json:"notify_on,omitempty"`
	EscalationTimeout  time.Duration  `json:"escalation_timeout,omitempty"`
	RequireApprovalFor []string       `json:"require_approval_for,omitempty"`

	// Hierarchy. ParentID is set for sub-agents created by another agent.
	ParentID          string `json:"parent_id,omitempty"`
	CanCreateChildren bool   `json:"can_create_children"`
	MaxChildren       int    `json:"max_children,omitempty"`
	MaxDepth          int    `json:"max_depth,omitempty"`

	// Budget in USD per day.
	DailyBudget     float64 `json:"daily_budget,omitempty"`
	DailyBudgetUsed float64 `json:"daily_budget_used"`

	InteractionCount int       `json:"interaction_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasMaster reports whether a master contact is configured.
func (a *Agent) HasMaster() bool {
	return a != nil && a.Master != nil && a.Master.ContactID != ""
}

// RequiresApproval reports whether the tool is in the agent's explicit
// approval override set.
func (a *Agent) RequiresApproval(toolID string) bool {
	for _, id := range a.RequireApprovalFor {
		if id == toolID {
			return true
		}
	}
	return false
}

// Familiarity is the relationship band derived from interaction count. The
// prompt builder uses it to adjust tone.
type Familiarity string

const (
	FamiliarityNew         Familiarity = "new"
	FamiliarityDeveloping  Familiarity = "developing"
	FamiliarityEstablished Familiarity = "established"
	FamiliarityDeep        Familiarity = "deep"
)

// FamiliarityBand maps an interaction count onto a relationship band.
func FamiliarityBand(interactions int) Familiarity {
	switch {
	case interactions < 10:
		return FamiliarityNew
	case interactions < 50:
		return FamiliarityDeveloping
	case interactions < 200:
		return FamiliarityEstablished
	default:
		return FamiliarityDeep
	}
}

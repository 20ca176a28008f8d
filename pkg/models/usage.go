package models

import "time"

// UsageRecord is one AI call's token and cost accounting. Exactly one row
// is written per AI request, regardless of which component issued it.
type UsageRecord struct {
	ID          string `json:"id"`
	AgentID     string `json:"agent_id"`
	UserID      string `json:"user_id"`
	RequestType string `json:"request_type"` // reasoning | classify | reflect | collab | scheduler | plan
	Provider    string `json:"provider"`
	Model       string `json:"model"`

	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`

	// TaskID and ConversationID tie spend back to the work that caused it.
	TaskID         string `json:"task_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Source         string `json:"source,omitempty"` // loop | scheduler | collab | api

	CreatedAt time.Time `json:"created_at"`
}

// UsageSummary aggregates records over a window.
type UsageSummary struct {
	AgentID      string    `json:"agent_id,omitempty"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Calls        int       `json:"calls"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CostUSD      float64   `json:"cost_usd"`

	ByModel map[string]*UsageBucket `json:"by_model,omitempty"`
	ByType  map[string]*UsageBucket `json:"by_type,omitempty"`
	Daily   []DailyUsage            `json:"daily,omitempty"`

	DailyBudget     float64 `json:"daily_budget,omitempty"`
	DailyBudgetUsed float64 `json:"daily_budget_used,omitempty"`
}

// UsageBucket is one aggregation cell of a summary.
type UsageBucket struct {
	Calls       int     `json:"calls"`
	TotalTokens int     `json:"total_tokens"`
	CostUSD     float64 `json:"cost_usd"`
}

// DailyUsage is one day of a summary's breakdown.
type DailyUsage struct {
	Day         string  `json:"day"` // YYYY-MM-DD
	Calls       int     `json:"calls"`
	TotalTokens int     `json:"total_tokens"`
	CostUSD     float64 `json:"cost_usd"`
}

// BudgetState is an agent's spend against its daily budget.
type BudgetState struct {
	AgentID     string  `json:"agent_id"`
	DailyBudget float64 `json:"daily_budget"`
	UsedToday   float64 `json:"used_today"`
}

// Fraction returns used/budget, or 0 when no budget is set.
func (b BudgetState) Fraction() float64 {
	if b.DailyBudget <= 0 {
		return 0
	}
	return b.UsedToday / b.DailyBudget
}

// Exhausted reports whether spend reached the full budget.
func (b BudgetState) Exhausted() bool {
	return b.DailyBudget > 0 && b.UsedToday >= b.DailyBudget
}

package models

// Tier buckets task complexity and selects iteration budgets.
type Tier string

const (
	TierTrivial  Tier = "trivial"
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
	TierCritical Tier = "critical"
)

// tierRank orders tiers for comparisons; unknown tiers rank lowest.
var tierRank = map[Tier]int{
	TierTrivial:  0,
	TierSimple:   1,
	TierModerate: 2,
	TierComplex:  3,
	TierCritical: 4,
}

// AtLeast reports whether t is the same tier as other or above it.
func (t Tier) AtLeast(other Tier) bool {
	return tierRank[t] >= tierRank[other]
}

// Floor returns t, raised to min if it ranks below it.
func (t Tier) Floor(min Tier) Tier {
	if tierRank[t] < tierRank[min] {
		return min
	}
	return t
}

// TriggerType names the event kind that started a reasoning run.
type TriggerType string

const (
	TriggerIncomingMessage TriggerType = "incoming_message"
	TriggerWakeUp          TriggerType = "wake_up"
	TriggerSchedule        TriggerType = "schedule"
	TriggerEvent           TriggerType = "event"
	TriggerPeriodicThink   TriggerType = "periodic_think"
	TriggerHeartbeat       TriggerType = "heartbeat"
	TriggerApprovalResume  TriggerType = "approval_resume"
)

// EventKind subdivides TriggerEvent triggers.
type EventKind string

const (
	EventIncomingMessage    EventKind = "incoming_message"
	EventTaskResponse       EventKind = "task_response_received"
	EventAgentStatusChanges EventKind = "agent_status_changes"
	EventOrchestratedTask   EventKind = "orchestrated_task"
	EventConsultation       EventKind = "consultation"
	EventConsensusVote      EventKind = "consensus_vote"
	EventConflictRebuttal   EventKind = "conflict_rebuttal"
	EventFollowUpCheckIn    EventKind = "follow_up_check_in"
	EventProactiveOutreach  EventKind = "proactive_outreach"
)

// RespondFunc delivers an incremental user-facing response mid-run. It is a
// sink: delivery is synchronous and failures are the caller's to swallow.
type RespondFunc func(message string) error

// ChatLine is one entry of the recent conversation window the platform
// adapter hands over with an incoming message. FromAgent marks the agent's
// own lines.
type ChatLine struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	FromAgent bool   `json:"from_agent,omitempty"`
}

// TriggerContext carries everything the loop needs to know about why it is
// running. Fields are optional except Type.
type TriggerContext struct {
	Type      TriggerType `json:"type"`
	EventKind EventKind   `json:"event_kind,omitempty"`

	// Incoming-message fields.
	Platform       string `json:"platform,omitempty"`
	AccountID      string `json:"account_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`
	SenderName     string `json:"sender_name,omitempty"`
	FromMaster     bool   `json:"from_master,omitempty"`
	Preview        string `json:"preview,omitempty"`
	QuotedContent  string `json:"quoted_content,omitempty"`
	MediaOnly      bool   `json:"media_only,omitempty"`

	// History is the recent conversation window, oldest first.
	History []ChatLine `json:"history,omitempty"`

	// Schedule fields.
	ScheduleID   string `json:"schedule_id,omitempty"`
	ActionType   string `json:"action_type,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`

	// Approval-resume fields.
	ApprovalID         string         `json:"approval_id,omitempty"`
	ApprovedTool       string         `json:"approved_tool,omitempty"`
	ApprovedParams     map[string]any `json:"approved_params,omitempty"`
	ApprovalToolResult string         `json:"-"`

	// Orchestration. Depth 0 is a root agent; sub-agents inherit depth+1.
	OrchestrationDepth int    `json:"orchestration_depth,omitempty"`
	SubAgentTask       string `json:"sub_agent_task,omitempty"`

	// Respond, when set, receives incremental user-facing responses.
	Respond RespondFunc `json:"-"`

	Extra map[string]any `json:"extra,omitempty"`
}

// IsIncomingMessage reports whether the trigger is a platform message, either
// directly or as an event subtype.
func (tc *TriggerContext) IsIncomingMessage() bool {
	if tc == nil {
		return false
	}
	return tc.Type == TriggerIncomingMessage ||
		(tc.Type == TriggerEvent && tc.EventKind == EventIncomingMessage)
}

// IsTaskResponse reports whether the trigger is a sub-task response event.
func (tc *TriggerContext) IsTaskResponse() bool {
	return tc != nil && tc.Type == TriggerEvent && tc.EventKind == EventTaskResponse
}

// LockKey returns the per-trigger concurrency key for an agent.
func (tc *TriggerContext) LockKey(agentID string) string {
	t := TriggerType("unknown")
	if tc != nil {
		t = tc.Type
	}
	return agentID + ":" + string(t)
}

// Package store defines the persistence contracts of the runtime and two
// implementations: a SQLite-backed set for production and an in-memory set
// for tests. All implementations return ErrNotFound and ErrAlreadyExists
// for the usual cases so callers can branch with errors.Is.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/legionruntime/legion/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// AgentStore persists agent profiles.
type AgentStore interface {
	Create(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Agent, int, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id string) error

	// IncrementInteractions bumps the familiarity counter.
	IncrementInteractions(ctx context.Context, id string) error

	// AddBudgetUsed adds amount to today's spend and returns the new total.
	AddBudgetUsed(ctx context.Context, id string, amount float64) (float64, error)

	// ResetDailyBudgets zeroes daily_budget_used for every agent and
	// returns how many rows changed.
	ResetDailyBudgets(ctx context.Context) (int, error)
}

// TaskStore persists units of work.
type TaskStore interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Task, int, error)
	ListByAssignee(ctx context.Context, assigneeID string, statuses []models.TaskStatus) ([]*models.Task, error)
}

// GoalStore persists standing objectives shown in agent context.
type GoalStore interface {
	Create(ctx context.Context, goal *models.Goal) error
	ListActive(ctx context.Context, agentID string) ([]*models.Goal, error)
	Deactivate(ctx context.Context, id string) error
}

// ScheduleStore persists autonomous triggers.
type ScheduleStore interface {
	Create(ctx context.Context, schedule *models.Schedule) error
	Get(ctx context.Context, id string) (*models.Schedule, error)
	Update(ctx context.Context, schedule *models.Schedule) error
	Delete(ctx context.Context, id string) error

	// ListDue returns active schedules whose next_run_at is at or before
	// now, ordered oldest first.
	ListDue(ctx context.Context, now time.Time) ([]*models.Schedule, error)

	// ListActive returns every active schedule.
	ListActive(ctx context.Context) ([]*models.Schedule, error)

	// ListByAgent returns an agent's schedules, active or not.
	ListByAgent(ctx context.Context, agentID string) ([]*models.Schedule, error)
}

// JobStore persists schedule execution history.
type JobStore interface {
	Create(ctx context.Context, job *models.JobHistory) error
	Update(ctx context.Context, job *models.JobHistory) error
	Get(ctx context.Context, id string) (*models.JobHistory, error)
	ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*models.JobHistory, error)

	// FailRunning rewrites every running row to failed with the given
	// error text. Called once at startup before the scheduler begins.
	FailRunning(ctx context.Context, errText string) (int, error)
}

// ApprovalStore persists pending human decisions.
type ApprovalStore interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	Get(ctx context.Context, id string) (*models.ApprovalRequest, error)
	Update(ctx context.Context, req *models.ApprovalRequest) error

	// ListPending returns open requests, newest first. Empty agentID
	// means all agents.
	ListPending(ctx context.Context, agentID string) ([]*models.ApprovalRequest, error)

	// LatestPendingForContact returns the most recent open request whose
	// master contact matches, for bare APPROVE/REJECT replies.
	LatestPendingForContact(ctx context.Context, masterContact string) (*models.ApprovalRequest, error)

	// ExpirePending marks every pending request past its deadline as
	// expired and returns the rows it changed.
	ExpirePending(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error)
}

// AgentMessageStore persists AI-to-AI messages and their threads.
type AgentMessageStore interface {
	SaveMessage(ctx context.Context, msg *models.AgentMessage) error
	GetMessage(ctx context.Context, id string) (*models.AgentMessage, error)
	UpdateStatus(ctx context.Context, id string, status models.AgentMessageStatus) error

	// ListInbox returns messages addressed to the agent in the given
	// statuses, oldest first.
	ListInbox(ctx context.Context, agentID string, statuses []models.AgentMessageStatus, limit int) ([]*models.AgentMessage, error)

	// ListSent returns messages the agent sent, newest first.
	ListSent(ctx context.Context, agentID string, limit int) ([]*models.AgentMessage, error)

	// CountUnread counts receiver-side messages still pending or delivered.
	CountUnread(ctx context.Context, agentID string) (int, error)

	// FindOrCreateThread resolves the thread for a participant set,
	// creating it on first contact. Task threads carry the task ID in
	// their key so the same agents can hold parallel task threads.
	FindOrCreateThread(ctx context.Context, threadType models.ThreadType, taskID string, participants ...string) (*models.Thread, error)

	GetThread(ctx context.Context, id string) (*models.Thread, error)
	ListThreads(ctx context.Context, agentID string, limit int) ([]*models.Thread, error)

	// ListThreadMessages returns a thread's transcript, oldest first.
	ListThreadMessages(ctx context.Context, threadID string, limit int) ([]*models.AgentMessage, error)
}

// ConversationStore persists multi-agent collaborations.
type ConversationStore interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Update(ctx context.Context, conv *models.Conversation) error
	AddMessage(ctx context.Context, msg *models.ConversationMessage) error
	ListMessages(ctx context.Context, conversationID string) ([]*models.ConversationMessage, error)
	ListActiveByParticipant(ctx context.Context, agentID string) ([]*models.Conversation, error)
	ListByParticipant(ctx context.Context, agentID string, limit int) ([]*models.Conversation, error)
}

// NotificationStore persists master notifications through delivery.
type NotificationStore interface {
	Create(ctx context.Context, n *models.MasterNotification) error
	Update(ctx context.Context, n *models.MasterNotification) error
	Get(ctx context.Context, id string) (*models.MasterNotification, error)
	ListPending(ctx context.Context, limit int) ([]*models.MasterNotification, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*models.MasterNotification, error)
}

// UsageStore persists AI call accounting.
type UsageStore interface {
	Record(ctx context.Context, rec *models.UsageRecord) error

	// Summarize aggregates records in [from, to). Empty agentID means
	// all agents.
	Summarize(ctx context.Context, agentID string, from, to time.Time) (*models.UsageSummary, error)

	ListRecent(ctx context.Context, agentID string, limit int) ([]*models.UsageRecord, error)
}

// MemoryStore persists long-term agent memory.
type MemoryStore interface {
	Create(ctx context.Context, m *models.Memory) error
	Get(ctx context.Context, id string) (*models.Memory, error)
	Update(ctx context.Context, m *models.Memory) error
	Delete(ctx context.Context, id string) error

	// Search returns memories whose content matches the query substring,
	// most important first.
	Search(ctx context.Context, agentID, query string, limit int) ([]*models.Memory, error)

	ListByKind(ctx context.Context, agentID string, kind models.MemoryKind, limit int) ([]*models.Memory, error)
	ListAll(ctx context.Context, agentID string) ([]*models.Memory, error)

	// Touch records an access for retrieval ranking.
	Touch(ctx context.Context, id string, at time.Time) error

	// DeleteExpired removes memories past their expiry and returns the
	// count. Run by the consolidation schedule.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SkillStore persists per-category proficiency and its change history.
type SkillStore interface {
	Get(ctx context.Context, agentID string, category models.SkillCategory) (*models.Skill, error)
	Save(ctx context.Context, skill *models.Skill) error
	ListByAgent(ctx context.Context, agentID string) ([]*models.Skill, error)

	AddHistory(ctx context.Context, h *models.SkillHistory) error
	ListHistory(ctx context.Context, agentID string, limit int) ([]*models.SkillHistory, error)
}

// CheckpointStore persists resumable run positions. At most one active
// checkpoint exists per agent.
type CheckpointStore interface {
	// Save upserts the agent's active checkpoint.
	Save(ctx context.Context, cp *models.Checkpoint) error

	// GetActive returns the agent's active checkpoint or ErrNotFound.
	GetActive(ctx context.Context, agentID string) (*models.Checkpoint, error)

	// Complete marks the checkpoint done.
	Complete(ctx context.Context, id string) error

	// Fail marks the checkpoint failed.
	Fail(ctx context.Context, id string) error

	// ClearActive drops the agent's active checkpoint, if any. Called
	// when a fresh user message arrives.
	ClearActive(ctx context.Context, agentID string) error
}

// PlanStore persists decomposed plans.
type PlanStore interface {
	Create(ctx context.Context, plan *models.Plan) error
	Get(ctx context.Context, id string) (*models.Plan, error)
	Update(ctx context.Context, plan *models.Plan) error
	GetActiveByAgent(ctx context.Context, agentID string) (*models.Plan, error)
}

// ActivityStore persists the activity log.
type ActivityStore interface {
	Append(ctx context.Context, entry *models.ActivityEntry) error
	ListRecent(ctx context.Context, agentID string, limit int) ([]*models.ActivityEntry, error)
}

// ToolExecutionStore persists per-call tool history for reflection.
type ToolExecutionStore interface {
	Record(ctx context.Context, exec *models.ToolExecution) error
	ListRecent(ctx context.Context, agentID string, limit int) ([]*models.ToolExecution, error)
}

// ContactStore persists contacts, team membership, and scope rules.
type ContactStore interface {
	CreateContact(ctx context.Context, c *models.Contact) error
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	ListContacts(ctx context.Context, userID string) ([]*models.Contact, error)

	ListTeam(ctx context.Context, userID string) ([]*models.TeamMember, error)
	AddTeamMember(ctx context.Context, m *models.TeamMember) error

	// GetScopeRule resolves the cascading rule: the platform-specific row
	// when present, otherwise the agent's default row, otherwise
	// ErrNotFound.
	GetScopeRule(ctx context.Context, agentID, platformAccountID string) (*models.ContactScopeRule, error)
	SaveScopeRule(ctx context.Context, rule *models.ContactScopeRule) error
}

// DeviceStore persists the device fleet and platform wiring.
type DeviceStore interface {
	SaveDevice(ctx context.Context, d *models.Device) error
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	ListDevices(ctx context.Context, userID string, kind models.DeviceKind) ([]*models.Device, error)

	ListMonitoringSources(ctx context.Context, agentID string) ([]*models.MonitoringSource, error)
	SaveMonitoringSource(ctx context.Context, src *models.MonitoringSource) error

	ListPlatformAccounts(ctx context.Context, userID string) ([]*models.PlatformAccount, error)
	SavePlatformAccount(ctx context.Context, acct *models.PlatformAccount) error
}

// StoreSet groups every repository the runtime needs.
type StoreSet struct {
	Agents         AgentStore
	Tasks          TaskStore
	Goals          GoalStore
	Schedules      ScheduleStore
	Jobs           JobStore
	Approvals      ApprovalStore
	Messages       AgentMessageStore
	Conversations  ConversationStore
	Notifications  NotificationStore
	Usage          UsageStore
	Memories       MemoryStore
	Skills         SkillStore
	Checkpoints    CheckpointStore
	Plans          PlanStore
	Activity       ActivityStore
	ToolExecutions ToolExecutionStore
	Contacts       ContactStore
	Devices        DeviceStore

	closer func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

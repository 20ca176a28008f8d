package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteConfig holds configuration for the SQLite-backed store set.
type SQLiteConfig struct {
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// DefaultSQLiteConfig returns defaults suitable for a single-node runtime.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "legion.db",
		MaxOpenConns: 1,
		BusyTimeout:  5 * time.Second,
	}
}

// NewSQLiteStores opens (or creates) the database at cfg.Path, applies the
// schema, and returns a fully wired StoreSet.
func NewSQLiteStores(cfg *SQLiteConfig) (StoreSet, error) {
	if cfg == nil {
		cfg = DefaultSQLiteConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return StoreSet{}, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return StoreSet{}, err
	}

	return NewSQLiteStoresFromDB(db), nil
}

// NewSQLiteStoresFromDB wires a StoreSet around an existing database handle.
// The caller keeps ownership of schema creation; used by tests with sqlmock.
func NewSQLiteStoresFromDB(db *sql.DB) StoreSet {
	return StoreSet{
		Agents:         &SQLiteAgentStore{db: db},
		Tasks:          &SQLiteTaskStore{db: db},
		Goals:          &SQLiteGoalStore{db: db},
		Schedules:      &SQLiteScheduleStore{db: db},
		Jobs:           &SQLiteJobStore{db: db},
		Approvals:      &SQLiteApprovalStore{db: db},
		Messages:       &SQLiteAgentMessageStore{db: db},
		Conversations:  &SQLiteConversationStore{db: db},
		Notifications:  &SQLiteNotificationStore{db: db},
		Usage:          &SQLiteUsageStore{db: db},
		Memories:       &SQLiteMemoryStore{db: db},
		Skills:         &SQLiteSkillStore{db: db},
		Checkpoints:    &SQLiteCheckpointStore{db: db},
		Plans:          &SQLitePlanStore{db: db},
		Activity:       &SQLiteActivityStore{db: db},
		ToolExecutions: &SQLiteToolExecutionStore{db: db},
		Contacts:       &SQLiteContactStore{db: db},
		Devices:        &SQLiteDeviceStore{db: db},
		closer:         db.Close,
	}
}

func applySchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT,
			system_prompt TEXT,
			status TEXT NOT NULL,
			autonomy TEXT NOT NULL,
			provider TEXT,
			model TEXT,
			temperature REAL,
			max_tokens INTEGER,
			master TEXT,
			notify_on TEXT,
			escalation_timeout_minutes INTEGER,
			require_approval_for TEXT,
			parent_id TEXT,
			can_create_children INTEGER NOT NULL DEFAULT 0,
			max_children INTEGER,
			max_depth INTEGER,
			daily_budget REAL,
			daily_budget_used REAL NOT NULL DEFAULT 0,
			interaction_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_user ON agents(user_id)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT,
			due_at DATETIME,
			assignee_id TEXT,
			assignee_kind TEXT,
			parent_task_id TEXT,
			ai_summary TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id)`,

		`CREATE TABLE IF NOT EXISTS goals (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			detail TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_agent ON goals(agent_id, active)`,

		`CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			name TEXT,
			type TEXT NOT NULL,
			cron_expression TEXT,
			interval_minutes INTEGER,
			run_at DATETIME,
			event_name TEXT,
			action_type TEXT NOT NULL,
			action_params TEXT,
			custom_prompt TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			next_run_at DATETIME,
			last_run_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(active, next_run_at)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_agent ON schedules(agent_id)`,

		`CREATE TABLE IF NOT EXISTS job_history (
			id TEXT PRIMARY KEY,
			schedule_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			action_type TEXT,
			status TEXT NOT NULL,
			scheduled_at DATETIME NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			result TEXT,
			error TEXT,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			provider TEXT,
			model TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_schedule ON job_history(schedule_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON job_history(status)`,

		`CREATE TABLE IF NOT EXISTS approval_queue (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			tool_id TEXT NOT NULL,
			params TEXT,
			title TEXT,
			description TEXT,
			reason TEXT,
			triggered_by TEXT,
			confidence REAL,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			master_contact TEXT,
			notification_channel TEXT,
			modified_params TEXT,
			resolved_by TEXT,
			resolve_note TEXT,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			resolved_at DATETIME,
			resumed_run_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_pending ON approval_queue(status, agent_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_contact ON approval_queue(master_contact, status)`,

		`CREATE TABLE IF NOT EXISTS agent_messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			from_agent_id TEXT NOT NULL,
			to_agent_id TEXT NOT NULL,
			type TEXT NOT NULL,
			subject TEXT,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT,
			task_id TEXT,
			correlation_id TEXT,
			reply_to TEXT,
			metadata TEXT,
			deadline_at DATETIME,
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			read_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON agent_messages(thread_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_inbox ON agent_messages(to_agent_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sent ON agent_messages(from_agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			thread_type TEXT NOT NULL,
			participants TEXT NOT NULL,
			subject TEXT,
			task_id TEXT,
			context TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			message_count INTEGER NOT NULL DEFAULT 0,
			last_message_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			initiator_id TEXT NOT NULL,
			participants TEXT NOT NULL,
			topic TEXT,
			metadata TEXT,
			result TEXT,
			deadline DATETIME,
			created_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status)`,

		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT,
			vote_option INTEGER,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conv_messages ON conversation_messages(conversation_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS master_notifications (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT,
			body TEXT,
			channel TEXT,
			address TEXT,
			context TEXT,
			reference_type TEXT,
			reference_id TEXT,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at DATETIME NOT NULL,
			sent_at DATETIME,
			delivered_at DATETIME,
			read_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_pending ON master_notifications(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_agent ON master_notifications(agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS usage_log (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			request_type TEXT,
			provider TEXT,
			model TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			task_id TEXT,
			conversation_id TEXT,
			source TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_agent ON usage_log(agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			summary TEXT,
			importance REAL NOT NULL DEFAULT 0.5,
			valence REAL NOT NULL DEFAULT 0,
			tags TEXT,
			related_entity TEXT,
			session_id TEXT,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed_at DATETIME,
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_expiry ON memories(expires_at)`,

		`CREATE TABLE IF NOT EXISTS agent_skills (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			category TEXT NOT NULL,
			xp INTEGER NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 1,
			use_count INTEGER NOT NULL DEFAULT 0,
			last_used_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(agent_id, category)
		)`,

		`CREATE TABLE IF NOT EXISTS skill_history (
			id TEXT PRIMARY KEY,
			skill_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			category TEXT NOT NULL,
			event TEXT NOT NULL,
			xp_delta INTEGER NOT NULL DEFAULT 0,
			from_level INTEGER NOT NULL DEFAULT 0,
			to_level INTEGER NOT NULL DEFAULT 0,
			note TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_skill_history_agent ON skill_history(agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			trigger_type TEXT,
			trigger_context TEXT,
			tier TEXT,
			iteration INTEGER NOT NULL DEFAULT 0,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			actions TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_active ON checkpoints(agent_id, status)`,

		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			goal TEXT NOT NULL,
			status TEXT NOT NULL,
			estimated_complexity TEXT,
			steps TEXT NOT NULL,
			synthesis_step TEXT,
			execution_order TEXT,
			parallel_groups TEXT,
			root_task_id TEXT,
			summary TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_agent ON plans(agent_id, status)`,

		`CREATE TABLE IF NOT EXISTS activity_log (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			summary TEXT,
			detail TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_agent ON activity_log(agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS tool_executions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			params TEXT,
			status TEXT NOT NULL,
			error TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_exec_agent ON tool_executions(agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			platform TEXT,
			address TEXT,
			tags TEXT,
			is_team INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id)`,

		`CREATE TABLE IF NOT EXISTS team_members (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			contact_id TEXT,
			name TEXT NOT NULL,
			role TEXT,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS scope_rules (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			platform_account_id TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL,
			allowed_contact_ids TEXT,
			allowed_tags TEXT,
			allow_team_members INTEGER NOT NULL DEFAULT 0,
			notify_out_of_scope INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(agent_id, platform_account_id)
		)`,

		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT,
			online INTEGER NOT NULL DEFAULT 0,
			last_seen DATETIME NOT NULL,
			installed_tools TEXT,
			capabilities TEXT,
			mcp_servers TEXT,
			mcp_tools TEXT,
			battery_pct INTEGER,
			connectivity TEXT,
			latitude REAL,
			longitude REAL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_user ON devices(user_id, kind)`,

		`CREATE TABLE IF NOT EXISTS monitoring_sources (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			account_id TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_agent ON monitoring_sources(agent_id)`,

		`CREATE TABLE IF NOT EXISTS platform_accounts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			external_id TEXT,
			label TEXT,
			connected INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// marshalJSON encodes v for a TEXT column; nil and empty values become "".
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	s := string(b)
	if s == "null" || s == "{}" || s == "[]" {
		return "", nil
	}
	return s, nil
}

// unmarshalJSON decodes a TEXT column into out; empty input is a no-op.
func unmarshalJSON(s string, out any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func execAffectingOne(ctx context.Context, db *sql.DB, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

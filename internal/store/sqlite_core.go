package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/legionruntime/legion/pkg/models"
)

// SQLiteAgentStore implements AgentStore on SQLite.
type SQLiteAgentStore struct {
	db *sql.DB
}

const agentColumns = `id, user_id, name, role, system_prompt, status, autonomy,
	provider, model, temperature, max_tokens, master, notify_on,
	escalation_timeout_minutes, require_approval_for, parent_id,
	can_create_children, max_children, max_depth, daily_budget,
	daily_budget_used, interaction_count, created_at, updated_at`

func (s *SQLiteAgentStore) Create(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	master, err := marshalJSON(agent.Master)
	if err != nil {
		return err
	}
	notifyOn, err := marshalJSON(agent.NotifyOn)
	if err != nil {
		return err
	}
	approvalFor, err := marshalJSON(agent.RequireApprovalFor)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		agent.ID, agent.UserID, agent.Name, nullString(agent.Role),
		nullString(agent.SystemPrompt), string(agent.Status), string(agent.Autonomy),
		nullString(agent.Provider), nullString(agent.Model), agent.Temperature,
		agent.MaxTokens, nullString(master), nullString(notifyOn),
		int(agent.EscalationTimeout.Minutes()), nullString(approvalFor),
		nullString(agent.ParentID), agent.CanCreateChildren, agent.MaxChildren,
		agent.MaxDepth, agent.DailyBudget, agent.DailyBudgetUsed,
		agent.InteractionCount, agent.CreatedAt, agent.UpdatedAt,
	)
	return err
}

func scanAgent(row interface{ Scan(...any) error }) (*models.Agent, error) {
	var (
		agent                         models.Agent
		role, systemPrompt            sql.NullString
		provider, model               sql.NullString
		master, notifyOn, approvalFor sql.NullString
		parentID                      sql.NullString
		status, autonomy              string
		escalationMinutes             int
	)
	err := row.Scan(
		&agent.ID, &agent.UserID, &agent.Name, &role, &systemPrompt,
		&status, &autonomy, &provider, &model, &agent.Temperature,
		&agent.MaxTokens, &master, &notifyOn, &escalationMinutes,
		&approvalFor, &parentID, &agent.CanCreateChildren, &agent.MaxChildren,
		&agent.MaxDepth, &agent.DailyBudget, &agent.DailyBudgetUsed,
		&agent.InteractionCount, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	agent.Role = role.String
	agent.SystemPrompt = systemPrompt.String
	agent.Status = models.AgentStatus(status)
	agent.Autonomy = models.Autonomy(autonomy)
	agent.Provider = provider.String
	agent.Model = model.String
	agent.ParentID = parentID.String
	agent.EscalationTimeout = time.Duration(escalationMinutes) * time.Minute
	if master.Valid {
		var mc models.MasterContact
		if err := unmarshalJSON(master.String, &mc); err != nil {
			return nil, fmt.Errorf("decode master contact: %w", err)
		}
		agent.Master = &mc
	}
	if err := unmarshalJSON(notifyOn.String, &agent.NotifyOn); err != nil {
		return nil, fmt.Errorf("decode notify_on: %w", err)
	}
	if err := unmarshalJSON(approvalFor.String, &agent.RequireApprovalFor); err != nil {
		return nil, fmt.Errorf("decode require_approval_for: %w", err)
	}
	return &agent, nil
}

func (s *SQLiteAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return agent, err
}

func (s *SQLiteAgentStore) List(ctx context.Context, userID string, limit, offset int) ([]*models.Agent, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE (? = '' OR user_id = ?)`, userID, userID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE (? = '' OR user_id = ?)
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, userID, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, 0, err
		}
		agents = append(agents, agent)
	}
	return agents, total, rows.Err()
}

func (s *SQLiteAgentStore) Update(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	master, err := marshalJSON(agent.Master)
	if err != nil {
		return err
	}
	notifyOn, err := marshalJSON(agent.NotifyOn)
	if err != nil {
		return err
	}
	approvalFor, err := marshalJSON(agent.RequireApprovalFor)
	if err != nil {
		return err
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE agents SET user_id = ?, name = ?, role = ?, system_prompt = ?,
			status = ?, autonomy = ?, provider = ?, model = ?, temperature = ?,
			max_tokens = ?, master = ?, notify_on = ?,
			escalation_timeout_minutes = ?, require_approval_for = ?,
			parent_id = ?, can_create_children = ?, max_children = ?,
			max_depth = ?, daily_budget = ?, daily_budget_used = ?,
			interaction_count = ?, updated_at = ?
		WHERE id = ?
	`,
		agent.UserID, agent.Name, nullString(agent.Role), nullString(agent.SystemPrompt),
		string(agent.Status), string(agent.Autonomy), nullString(agent.Provider),
		nullString(agent.Model), agent.Temperature, agent.MaxTokens,
		nullString(master), nullString(notifyOn),
		int(agent.EscalationTimeout.Minutes()), nullString(approvalFor),
		nullString(agent.ParentID), agent.CanCreateChildren, agent.MaxChildren,
		agent.MaxDepth, agent.DailyBudget, agent.DailyBudgetUsed,
		agent.InteractionCount, agent.UpdatedAt, agent.ID,
	)
}

func (s *SQLiteAgentStore) Delete(ctx context.Context, id string) error {
	return execAffectingOne(ctx, s.db, `DELETE FROM agents WHERE id = ?`, id)
}

func (s *SQLiteAgentStore) IncrementInteractions(ctx context.Context, id string) error {
	return execAffectingOne(ctx, s.db,
		`UPDATE agents SET interaction_count = interaction_count + 1 WHERE id = ?`, id)
}

func (s *SQLiteAgentStore) AddBudgetUsed(ctx context.Context, id string, amount float64) (float64, error) {
	if err := execAffectingOne(ctx, s.db,
		`UPDATE agents SET daily_budget_used = daily_budget_used + ? WHERE id = ?`, amount, id,
	); err != nil {
		return 0, err
	}
	var used float64
	err := s.db.QueryRowContext(ctx,
		`SELECT daily_budget_used FROM agents WHERE id = ?`, id,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return used, err
}

func (s *SQLiteAgentStore) ResetDailyBudgets(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET daily_budget_used = 0 WHERE daily_budget_used <> 0`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SQLiteTaskStore implements TaskStore on SQLite.
type SQLiteTaskStore struct {
	db *sql.DB
}

const taskColumns = `id, user_id, title, description, type, status, priority,
	due_at, assignee_id, assignee_kind, parent_task_id, ai_summary,
	created_at, updated_at, completed_at`

func (s *SQLiteTaskStore) Create(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID, task.UserID, task.Title, nullString(task.Description),
		string(task.Type), string(task.Status), nullString(task.Priority),
		nullTime(task.DueAt), nullString(task.AssigneeID),
		nullString(task.AssigneeKind), nullString(task.ParentTaskID),
		nullString(task.AISummary), task.CreatedAt, task.UpdatedAt,
		nullTime(task.CompletedAt),
	)
	return err
}

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var (
		task                     models.Task
		description, priority    sql.NullString
		assigneeID, assigneeKind sql.NullString
		parentTaskID, aiSummary  sql.NullString
		taskType, status         string
		dueAt, completedAt       sql.NullTime
	)
	err := row.Scan(
		&task.ID, &task.UserID, &task.Title, &description, &taskType,
		&status, &priority, &dueAt, &assigneeID, &assigneeKind,
		&parentTaskID, &aiSummary, &task.CreatedAt, &task.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Description = description.String
	task.Type = models.TaskType(taskType)
	task.Status = models.TaskStatus(status)
	task.Priority = priority.String
	task.DueAt = timePtr(dueAt)
	task.AssigneeID = assigneeID.String
	task.AssigneeKind = assigneeKind.String
	task.ParentTaskID = parentTaskID.String
	task.AISummary = aiSummary.String
	task.CompletedAt = timePtr(completedAt)
	return &task, nil
}

func (s *SQLiteTaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

func (s *SQLiteTaskStore) Update(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE tasks SET title = ?, description = ?, type = ?, status = ?,
			priority = ?, due_at = ?, assignee_id = ?, assignee_kind = ?,
			parent_task_id = ?, ai_summary = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`,
		task.Title, nullString(task.Description), string(task.Type),
		string(task.Status), nullString(task.Priority), nullTime(task.DueAt),
		nullString(task.AssigneeID), nullString(task.AssigneeKind),
		nullString(task.ParentTaskID), nullString(task.AISummary),
		task.UpdatedAt, nullTime(task.CompletedAt), task.ID,
	)
}

func (s *SQLiteTaskStore) List(ctx context.Context, userID string, limit, offset int) ([]*models.Task, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE (? = '' OR user_id = ?)`, userID, userID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE (? = '' OR user_id = ?)
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, userID, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	return tasks, total, rows.Err()
}

func (s *SQLiteTaskStore) ListByAssignee(ctx context.Context, assigneeID string, statuses []models.TaskStatus) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE assignee_id = ?`
	args := []any{assigneeID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

// SQLiteGoalStore implements GoalStore on SQLite.
type SQLiteGoalStore struct {
	db *sql.DB
}

func (s *SQLiteGoalStore) Create(ctx context.Context, goal *models.Goal) error {
	if goal == nil || goal.ID == "" {
		return fmt.Errorf("goal is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, agent_id, user_id, title, detail, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, goal.ID, goal.AgentID, goal.UserID, goal.Title, nullString(goal.Detail),
		goal.Active, goal.CreatedAt)
	return err
}

func (s *SQLiteGoalStore) ListActive(ctx context.Context, agentID string) ([]*models.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, user_id, title, detail, active, created_at
		FROM goals WHERE agent_id = ? AND active = 1
		ORDER BY created_at ASC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var goals []*models.Goal
	for rows.Next() {
		var goal models.Goal
		var detail sql.NullString
		if err := rows.Scan(&goal.ID, &goal.AgentID, &goal.UserID, &goal.Title,
			&detail, &goal.Active, &goal.CreatedAt); err != nil {
			return nil, err
		}
		goal.Detail = detail.String
		goals = append(goals, &goal)
	}
	return goals, rows.Err()
}

func (s *SQLiteGoalStore) Deactivate(ctx context.Context, id string) error {
	return execAffectingOne(ctx, s.db, `UPDATE goals SET active = 0 WHERE id = ?`, id)
}

// SQLiteActivityStore implements ActivityStore on SQLite.
type SQLiteActivityStore struct {
	db *sql.DB
}

func (s *SQLiteActivityStore) Append(ctx context.Context, entry *models.ActivityEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("entry is required")
	}
	detail, err := marshalJSON(entry.Detail)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, agent_id, user_id, kind, summary, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.AgentID, entry.UserID, entry.Kind, entry.Summary,
		nullString(detail), entry.CreatedAt)
	return err
}

func (s *SQLiteActivityStore) ListRecent(ctx context.Context, agentID string, limit int) ([]*models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, user_id, kind, summary, detail, created_at
		FROM activity_log WHERE (? = '' OR agent_id = ?)
		ORDER BY created_at DESC LIMIT ?
	`, agentID, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*models.ActivityEntry
	for rows.Next() {
		var entry models.ActivityEntry
		var detail sql.NullString
		if err := rows.Scan(&entry.ID, &entry.AgentID, &entry.UserID, &entry.Kind,
			&entry.Summary, &detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(detail.String, &entry.Detail); err != nil {
			return nil, fmt.Errorf("decode activity detail: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/legionruntime/legion/pkg/models"
)

// SQLiteUsageStore implements UsageStore on SQLite.
type SQLiteUsageStore struct {
	db *sql.DB
}

const usageColumns = `id, agent_id, user_id, request_type, provider, model,
	input_tokens, output_tokens, total_tokens, cost_usd, task_id,
	conversation_id, source, created_at`

func (s *SQLiteUsageStore) Record(ctx context.Context, rec *models.UsageRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("usage record is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_log (`+usageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.AgentID, rec.UserID, nullString(rec.RequestType),
		nullString(rec.Provider), nullString(rec.Model), rec.InputTokens,
		rec.OutputTokens, rec.TotalTokens, rec.CostUSD, nullString(rec.TaskID),
		nullString(rec.ConversationID), nullString(rec.Source), rec.CreatedAt,
	)
	return err
}

func scanUsage(row interface{ Scan(...any) error }) (*models.UsageRecord, error) {
	var (
		rec                    models.UsageRecord
		requestType, provider  sql.NullString
		model, taskID          sql.NullString
		conversationID, source sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.AgentID, &rec.UserID, &requestType, &provider, &model,
		&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens, &rec.CostUSD,
		&taskID, &conversationID, &source, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.RequestType = requestType.String
	rec.Provider = provider.String
	rec.Model = model.String
	rec.TaskID = taskID.String
	rec.ConversationID = conversationID.String
	rec.Source = source.String
	return &rec, nil
}

func (s *SQLiteUsageStore) Summarize(ctx context.Context, agentID string, from, to time.Time) (*models.UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+usageColumns+` FROM usage_log
		WHERE (? = '' OR agent_id = ?) AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC
	`, agentID, agentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &models.UsageSummary{
		AgentID: agentID,
		From:    from,
		To:      to,
		ByModel: map[string]*models.UsageBucket{},
		ByType:  map[string]*models.UsageBucket{},
	}
	daily := map[string]*models.DailyUsage{}
	for rows.Next() {
		rec, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		summary.Calls++
		summary.InputTokens += rec.InputTokens
		summary.OutputTokens += rec.OutputTokens
		summary.TotalTokens += rec.TotalTokens
		summary.CostUSD += rec.CostUSD
		bumpBucket(summary.ByModel, rec.Model, rec)
		bumpBucket(summary.ByType, rec.RequestType, rec)
		day := rec.CreatedAt.UTC().Format("2006-01-02")
		d, ok := daily[day]
		if !ok {
			d = &models.DailyUsage{Day: day}
			daily[day] = d
		}
		d.Calls++
		d.TotalTokens += rec.TotalTokens
		d.CostUSD += rec.CostUSD
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, d := range daily {
		summary.Daily = append(summary.Daily, *d)
	}
	sort.Slice(summary.Daily, func(i, j int) bool {
		return summary.Daily[i].Day < summary.Daily[j].Day
	})
	return summary, nil
}

func bumpBucket(buckets map[string]*models.UsageBucket, key string, rec *models.UsageRecord) {
	if key == "" {
		key = "unknown"
	}
	b, ok := buckets[key]
	if !ok {
		b = &models.UsageBucket{}
		buckets[key] = b
	}
	b.Calls++
	b.TotalTokens += rec.TotalTokens
	b.CostUSD += rec.CostUSD
}

func (s *SQLiteUsageStore) ListRecent(ctx context.Context, agentID string, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+usageColumns+` FROM usage_log
		WHERE (? = '' OR agent_id = ?)
		ORDER BY created_at DESC LIMIT ?
	`, agentID, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []*models.UsageRecord
	for rows.Next() {
		rec, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SQLiteMemoryStore implements MemoryStore on SQLite.
type SQLiteMemoryStore struct {
	db *sql.DB
}

const memoryColumns = `id, agent_id, user_id, kind, content, summary,
	importance, valence, tags, related_entity, session_id, access_count,
	last_accessed_at, expires_at, created_at, updated_at`

func (s *SQLiteMemoryStore) Create(ctx context.Context, m *models.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("memory is required")
	}
	tags, err := marshalJSON(m.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.AgentID, m.UserID, string(m.Kind), m.Content,
		nullString(m.Summary), m.Importance, m.Valence, nullString(tags),
		nullString(m.RelatedEntity), nullString(m.SessionID), m.AccessCount,
		nullTime(m.LastAccessedAt), nullTime(m.ExpiresAt), m.CreatedAt,
		m.UpdatedAt,
	)
	return err
}

func scanMemory(row interface{ Scan(...any) error }) (*models.Memory, error) {
	var (
		m                         models.Memory
		summary, tags             sql.NullString
		relatedEntity, sessionID  sql.NullString
		kind                      string
		lastAccessedAt, expiresAt sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.AgentID, &m.UserID, &kind, &m.Content, &summary,
		&m.Importance, &m.Valence, &tags, &relatedEntity, &sessionID,
		&m.AccessCount, &lastAccessedAt, &expiresAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Kind = models.MemoryKind(kind)
	m.Summary = summary.String
	m.RelatedEntity = relatedEntity.String
	m.SessionID = sessionID.String
	m.LastAccessedAt = timePtr(lastAccessedAt)
	m.ExpiresAt = timePtr(expiresAt)
	if err := unmarshalJSON(tags.String, &m.Tags); err != nil {
		return nil, fmt.Errorf("decode memory tags: %w", err)
	}
	return &m, nil
}

func (s *SQLiteMemoryStore) Get(ctx context.Context, id string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *SQLiteMemoryStore) Update(ctx context.Context, m *models.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("memory is required")
	}
	tags, err := marshalJSON(m.Tags)
	if err != nil {
		return err
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE memories SET content = ?, summary = ?, importance = ?,
			valence = ?, tags = ?, related_entity = ?, expires_at = ?,
			updated_at = ?
		WHERE id = ?
	`,
		m.Content, nullString(m.Summary), m.Importance, m.Valence,
		nullString(tags), nullString(m.RelatedEntity), nullTime(m.ExpiresAt),
		m.UpdatedAt, m.ID,
	)
}

func (s *SQLiteMemoryStore) Delete(ctx context.Context, id string) error {
	return execAffectingOne(ctx, s.db, `DELETE FROM memories WHERE id = ?`, id)
}

func (s *SQLiteMemoryStore) Search(ctx context.Context, agentID, query string, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE agent_id = ? AND (content LIKE ? OR summary LIKE ?)
		ORDER BY importance DESC, created_at DESC LIMIT ?
	`, agentID, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows)
}

func (s *SQLiteMemoryStore) ListByKind(ctx context.Context, agentID string, kind models.MemoryKind, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE agent_id = ? AND kind = ?
		ORDER BY created_at DESC LIMIT ?
	`, agentID, string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows)
}

func (s *SQLiteMemoryStore) ListAll(ctx context.Context, agentID string) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE agent_id = ? ORDER BY created_at DESC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows)
}

func (s *SQLiteMemoryStore) Touch(ctx context.Context, id string, at time.Time) error {
	return execAffectingOne(ctx, s.db, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
	`, at, id)
}

func (s *SQLiteMemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func collectMemories(rows *sql.Rows) ([]*models.Memory, error) {
	var out []*models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SQLiteSkillStore implements SkillStore on SQLite.
type SQLiteSkillStore struct {
	db *sql.DB
}

const skillColumns = `id, agent_id, category, xp, level, use_count,
	last_used_at, created_at, updated_at`

func (s *SQLiteSkillStore) Get(ctx context.Context, agentID string, category models.SkillCategory) (*models.Skill, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+skillColumns+` FROM agent_skills
		WHERE agent_id = ? AND category = ?
	`, agentID, string(category))
	skill, err := scanSkill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return skill, err
}

func scanSkill(row interface{ Scan(...any) error }) (*models.Skill, error) {
	var (
		skill    models.Skill
		category string
	)
	err := row.Scan(
		&skill.ID, &skill.AgentID, &category, &skill.XP, &skill.Level,
		&skill.UseCount, &skill.LastUsedAt, &skill.CreatedAt, &skill.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	skill.Category = models.SkillCategory(category)
	return &skill, nil
}

func (s *SQLiteSkillStore) Save(ctx context.Context, skill *models.Skill) error {
	if skill == nil || skill.ID == "" {
		return fmt.Errorf("skill is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_skills (`+skillColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, category) DO UPDATE SET
			xp = excluded.xp, level = excluded.level,
			use_count = excluded.use_count, last_used_at = excluded.last_used_at,
			updated_at = excluded.updated_at
	`,
		skill.ID, skill.AgentID, string(skill.Category), skill.XP, skill.Level,
		skill.UseCount, skill.LastUsedAt, skill.CreatedAt, skill.UpdatedAt,
	)
	return err
}

func (s *SQLiteSkillStore) ListByAgent(ctx context.Context, agentID string) ([]*models.Skill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+skillColumns+` FROM agent_skills
		WHERE agent_id = ? ORDER BY category ASC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var skills []*models.Skill
	for rows.Next() {
		skill, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}

func (s *SQLiteSkillStore) AddHistory(ctx context.Context, h *models.SkillHistory) error {
	if h == nil || h.ID == "" {
		return fmt.Errorf("skill history is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skill_history (id, skill_id, agent_id, category, event, xp_delta, from_level, to_level, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		h.ID, h.SkillID, h.AgentID, string(h.Category), h.Event, h.XPDelta,
		h.FromLevel, h.ToLevel, nullString(h.Note), h.CreatedAt,
	)
	return err
}

func (s *SQLiteSkillStore) ListHistory(ctx context.Context, agentID string, limit int) ([]*models.SkillHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, skill_id, agent_id, category, event, xp_delta, from_level, to_level, note, created_at
		FROM skill_history WHERE agent_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.SkillHistory
	for rows.Next() {
		var (
			h        models.SkillHistory
			category string
			note     sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.SkillID, &h.AgentID, &category, &h.Event,
			&h.XPDelta, &h.FromLevel, &h.ToLevel, &note, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Category = models.SkillCategory(category)
		h.Note = note.String
		out = append(out, &h)
	}
	return out, rows.Err()
}

// SQLiteCheckpointStore implements CheckpointStore on SQLite.
type SQLiteCheckpointStore struct {
	db *sql.DB
}

const checkpointColumns = `id, agent_id, user_id, status, trigger_type,
	trigger_context, tier, iteration, tokens_used, actions, created_at,
	updated_at`

func (s *SQLiteCheckpointStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	if cp == nil || cp.ID == "" {
		return fmt.Errorf("checkpoint is required")
	}
	triggerContext, err := marshalJSON(cp.TriggerContext)
	if err != nil {
		return err
	}
	actions, err := marshalJSON(cp.Actions)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	// One active checkpoint per agent; a save supersedes any other.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE agent_id = ? AND status = ? AND id <> ?
	`, cp.AgentID, string(models.CheckpointActive), cp.ID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (`+checkpointColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cp.ID, cp.AgentID, cp.UserID, string(models.CheckpointActive),
		nullString(string(cp.Trigger)), nullString(triggerContext),
		nullString(string(cp.Tier)), cp.Iteration, cp.TokensUsed,
		nullString(actions), cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func scanCheckpoint(row interface{ Scan(...any) error }) (*models.Checkpoint, error) {
	var (
		cp                          models.Checkpoint
		triggerType, triggerContext sql.NullString
		tier, actions               sql.NullString
		status                      string
	)
	err := row.Scan(
		&cp.ID, &cp.AgentID, &cp.UserID, &status, &triggerType,
		&triggerContext, &tier, &cp.Iteration, &cp.TokensUsed, &actions,
		&cp.CreatedAt, &cp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cp.Status = models.CheckpointStatus(status)
	cp.Trigger = models.TriggerType(triggerType.String)
	cp.Tier = models.Tier(tier.String)
	if err := unmarshalJSON(triggerContext.String, &cp.TriggerContext); err != nil {
		return nil, fmt.Errorf("decode trigger context: %w", err)
	}
	if err := unmarshalJSON(actions.String, &cp.Actions); err != nil {
		return nil, fmt.Errorf("decode checkpoint actions: %w", err)
	}
	return &cp, nil
}

func (s *SQLiteCheckpointStore) GetActive(ctx context.Context, agentID string) (*models.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE agent_id = ? AND status = ?
		ORDER BY updated_at DESC LIMIT 1
	`, agentID, string(models.CheckpointActive))
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cp, err
}

func (s *SQLiteCheckpointStore) Complete(ctx context.Context, id string) error {
	return s.finish(ctx, id, models.CheckpointCompleted)
}

func (s *SQLiteCheckpointStore) Fail(ctx context.Context, id string) error {
	return s.finish(ctx, id, models.CheckpointFailed)
}

func (s *SQLiteCheckpointStore) finish(ctx context.Context, id string, status models.CheckpointStatus) error {
	return execAffectingOne(ctx, s.db, `
		UPDATE checkpoints SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), id)
}

func (s *SQLiteCheckpointStore) ClearActive(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE agent_id = ? AND status = ?
	`, agentID, string(models.CheckpointActive))
	return err
}

// SQLitePlanStore implements PlanStore on SQLite.
type SQLitePlanStore struct {
	db *sql.DB
}

const planColumns = `id, agent_id, user_id, goal, status,
	estimated_complexity, steps, synthesis_step, execution_order,
	parallel_groups, root_task_id, summary, created_at, updated_at`

func (s *SQLitePlanStore) Create(ctx context.Context, plan *models.Plan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan is required")
	}
	steps, order, groups, err := encodePlanColumns(plan)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		plan.ID, plan.AgentID, plan.UserID, plan.Goal, string(plan.Status),
		nullString(plan.EstimatedComplexity), steps,
		nullString(plan.SynthesisStep), nullString(order), nullString(groups),
		nullString(plan.RootTaskID), nullString(plan.Summary), plan.CreatedAt,
		plan.UpdatedAt,
	)
	return err
}

func encodePlanColumns(plan *models.Plan) (steps, order, groups string, err error) {
	steps, err = marshalJSON(plan.Steps)
	if err != nil {
		return "", "", "", err
	}
	if steps == "" {
		steps = "[]"
	}
	order, err = marshalJSON(plan.ExecutionOrder)
	if err != nil {
		return "", "", "", err
	}
	groups, err = marshalJSON(plan.ParallelGroups)
	if err != nil {
		return "", "", "", err
	}
	return steps, order, groups, nil
}

func scanPlan(row interface{ Scan(...any) error }) (*models.Plan, error) {
	var (
		plan                      models.Plan
		complexity, synthesisStep sql.NullString
		order, groups             sql.NullString
		rootTaskID, summary       sql.NullString
		steps, status             string
	)
	err := row.Scan(
		&plan.ID, &plan.AgentID, &plan.UserID, &plan.Goal, &status,
		&complexity, &steps, &synthesisStep, &order, &groups, &rootTaskID,
		&summary, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	plan.Status = models.PlanStatus(status)
	plan.EstimatedComplexity = complexity.String
	plan.SynthesisStep = synthesisStep.String
	plan.RootTaskID = rootTaskID.String
	plan.Summary = summary.String
	if err := unmarshalJSON(steps, &plan.Steps); err != nil {
		return nil, fmt.Errorf("decode plan steps: %w", err)
	}
	if err := unmarshalJSON(order.String, &plan.ExecutionOrder); err != nil {
		return nil, fmt.Errorf("decode execution order: %w", err)
	}
	if err := unmarshalJSON(groups.String, &plan.ParallelGroups); err != nil {
		return nil, fmt.Errorf("decode parallel groups: %w", err)
	}
	return &plan, nil
}

func (s *SQLitePlanStore) Get(ctx context.Context, id string) (*models.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return plan, err
}

func (s *SQLitePlanStore) Update(ctx context.Context, plan *models.Plan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan is required")
	}
	steps, order, groups, err := encodePlanColumns(plan)
	if err != nil {
		return err
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE plans SET status = ?, steps = ?, synthesis_step = ?,
			execution_order = ?, parallel_groups = ?, root_task_id = ?,
			summary = ?, updated_at = ?
		WHERE id = ?
	`,
		string(plan.Status), steps, nullString(plan.SynthesisStep),
		nullString(order), nullString(groups), nullString(plan.RootTaskID),
		nullString(plan.Summary), plan.UpdatedAt, plan.ID,
	)
}

func (s *SQLitePlanStore) GetActiveByAgent(ctx context.Context, agentID string) (*models.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE agent_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, agentID, string(models.PlanRunning), string(models.PlanWaiting))
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return plan, err
}

// SQLiteToolExecutionStore implements ToolExecutionStore on SQLite.
type SQLiteToolExecutionStore struct {
	db *sql.DB
}

func (s *SQLiteToolExecutionStore) Record(ctx context.Context, exec *models.ToolExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("tool execution is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_executions (id, agent_id, user_id, tool, params, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID, exec.AgentID, exec.UserID, exec.Tool,
		nullString(string(exec.Params)), exec.Status, nullString(exec.Error),
		exec.DurationMS, exec.CreatedAt,
	)
	return err
}

func (s *SQLiteToolExecutionStore) ListRecent(ctx context.Context, agentID string, limit int) ([]*models.ToolExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, user_id, tool, params, status, error, duration_ms, created_at
		FROM tool_executions WHERE agent_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ToolExecution
	for rows.Next() {
		var (
			exec            models.ToolExecution
			params, errText sql.NullString
		)
		if err := rows.Scan(&exec.ID, &exec.AgentID, &exec.UserID, &exec.Tool,
			&params, &exec.Status, &errText, &exec.DurationMS, &exec.CreatedAt); err != nil {
			return nil, err
		}
		if params.String != "" {
			exec.Params = []byte(params.String)
		}
		exec.Error = errText.String
		out = append(out, &exec)
	}
	return out, rows.Err()
}

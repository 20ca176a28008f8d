package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/legionruntime/legion/pkg/models"
)

// SQLiteScheduleStore implements ScheduleStore on SQLite.
type SQLiteScheduleStore struct {
	db *sql.DB
}

const scheduleColumns = `id, agent_id, user_id, name, type, cron_expression,
	interval_minutes, run_at, event_name, action_type, action_params,
	custom_prompt, active, next_run_at, last_run_at, created_at, updated_at`

func (s *SQLiteScheduleStore) Create(ctx context.Context, schedule *models.Schedule) error {
	if schedule == nil || schedule.ID == "" {
		return fmt.Errorf("schedule is required")
	}
	params, err := marshalJSON(schedule.ActionParams)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		schedule.ID, schedule.AgentID, schedule.UserID, nullString(schedule.Name),
		string(schedule.Type), nullString(schedule.CronExpression),
		schedule.IntervalMinutes, nullTime(schedule.RunAt),
		nullString(schedule.EventName), schedule.ActionType, nullString(params),
		nullString(schedule.CustomPrompt), schedule.Active,
		nullTime(schedule.NextRunAt), nullTime(schedule.LastRunAt),
		schedule.CreatedAt, schedule.UpdatedAt,
	)
	return err
}

func scanSchedule(row interface{ Scan(...any) error }) (*models.Schedule, error) {
	var (
		schedule                    models.Schedule
		name, cronExpr, eventName   sql.NullString
		params, customPrompt        sql.NullString
		schedType                   string
		runAt, nextRunAt, lastRunAt sql.NullTime
	)
	err := row.Scan(
		&schedule.ID, &schedule.AgentID, &schedule.UserID, &name, &schedType,
		&cronExpr, &schedule.IntervalMinutes, &runAt, &eventName,
		&schedule.ActionType, &params, &customPrompt, &schedule.Active,
		&nextRunAt, &lastRunAt, &schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	schedule.Name = name.String
	schedule.Type = models.ScheduleType(schedType)
	schedule.CronExpression = cronExpr.String
	schedule.EventName = eventName.String
	schedule.CustomPrompt = customPrompt.String
	schedule.RunAt = timePtr(runAt)
	schedule.NextRunAt = timePtr(nextRunAt)
	schedule.LastRunAt = timePtr(lastRunAt)
	if err := unmarshalJSON(params.String, &schedule.ActionParams); err != nil {
		return nil, fmt.Errorf("decode action params: %w", err)
	}
	return &schedule, nil
}

func (s *SQLiteScheduleStore) Get(ctx context.Context, id string) (*models.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return schedule, err
}

func (s *SQLiteScheduleStore) Update(ctx context.Context, schedule *models.Schedule) error {
	if schedule == nil || schedule.ID == "" {
		return fmt.Errorf("schedule is required")
	}
	params, err := marshalJSON(schedule.ActionParams)
	if err != nil {
		return err
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE schedules SET name = ?, type = ?, cron_expression = ?,
			interval_minutes = ?, run_at = ?, event_name = ?, action_type = ?,
			action_params = ?, custom_prompt = ?, active = ?, next_run_at = ?,
			last_run_at = ?, updated_at = ?
		WHERE id = ?
	`,
		nullString(schedule.Name), string(schedule.Type),
		nullString(schedule.CronExpression), schedule.IntervalMinutes,
		nullTime(schedule.RunAt), nullString(schedule.EventName),
		schedule.ActionType, nullString(params), nullString(schedule.CustomPrompt),
		schedule.Active, nullTime(schedule.NextRunAt), nullTime(schedule.LastRunAt),
		schedule.UpdatedAt, schedule.ID,
	)
}

func (s *SQLiteScheduleStore) Delete(ctx context.Context, id string) error {
	return execAffectingOne(ctx, s.db, `DELETE FROM schedules WHERE id = ?`, id)
}

func (s *SQLiteScheduleStore) ListDue(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE active = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (s *SQLiteScheduleStore) ListActive(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE active = 1 ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (s *SQLiteScheduleStore) ListByAgent(ctx context.Context, agentID string) ([]*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE agent_id = ? ORDER BY created_at ASC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func collectSchedules(rows *sql.Rows) ([]*models.Schedule, error) {
	var schedules []*models.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// SQLiteJobStore implements JobStore on SQLite.
type SQLiteJobStore struct {
	db *sql.DB
}

const jobColumns = `id, schedule_id, agent_id, action_type, status,
	scheduled_at, started_at, completed_at, duration_ms, result, error,
	tokens_used, provider, model`

func (s *SQLiteJobStore) Create(ctx context.Context, job *models.JobHistory) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_history (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.ScheduleID, job.AgentID, nullString(job.ActionType),
		string(job.Status), job.ScheduledAt, job.StartedAt,
		nullTime(job.CompletedAt), job.DurationMS, nullString(job.Result),
		nullString(job.Error), job.TokensUsed, nullString(job.Provider),
		nullString(job.Model),
	)
	return err
}

func scanJob(row interface{ Scan(...any) error }) (*models.JobHistory, error) {
	var (
		job                models.JobHistory
		actionType, result sql.NullString
		errText, provider  sql.NullString
		model              sql.NullString
		status             string
		completedAt        sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.ScheduleID, &job.AgentID, &actionType, &status,
		&job.ScheduledAt, &job.StartedAt, &completedAt, &job.DurationMS,
		&result, &errText, &job.TokensUsed, &provider, &model,
	)
	if err != nil {
		return nil, err
	}
	job.ActionType = actionType.String
	job.Status = models.JobStatus(status)
	job.CompletedAt = timePtr(completedAt)
	job.Result = result.String
	job.Error = errText.String
	job.Provider = provider.String
	job.Model = model.String
	return &job, nil
}

func (s *SQLiteJobStore) Update(ctx context.Context, job *models.JobHistory) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job is required")
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE job_history SET status = ?, completed_at = ?, duration_ms = ?,
			result = ?, error = ?, tokens_used = ?, provider = ?, model = ?
		WHERE id = ?
	`,
		string(job.Status), nullTime(job.CompletedAt), job.DurationMS,
		nullString(job.Result), nullString(job.Error), job.TokensUsed,
		nullString(job.Provider), nullString(job.Model), job.ID,
	)
}

func (s *SQLiteJobStore) Get(ctx context.Context, id string) (*models.JobHistory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM job_history WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func (s *SQLiteJobStore) ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*models.JobHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM job_history
		WHERE schedule_id = ? ORDER BY started_at DESC LIMIT ?
	`, scheduleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*models.JobHistory
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteJobStore) FailRunning(ctx context.Context, errText string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_history SET status = ?, error = ? WHERE status = ?
	`, string(models.JobFailed), errText, string(models.JobRunning))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

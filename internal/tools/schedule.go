package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

func scheduleTools(schedules store.ScheduleStore, next NextRunFunc) []Tool {
	return []Tool{
		createScheduleTool(schedules, next),
		listSchedulesTool(schedules),
		updateScheduleTool(schedules, next),
		deleteScheduleTool(schedules),
	}
}

// computeNextRun falls back to local arithmetic when no cron-aware
// implementation was wired; cron schedules then get their next_run_at from
// scheduler recovery.
func computeNextRun(next NextRunFunc, s *models.Schedule, now time.Time) (*time.Time, error) {
	if next != nil {
		return next(s, now)
	}
	switch s.Type {
	case models.ScheduleInterval:
		t := now.Add(time.Duration(s.IntervalMinutes) * time.Minute)
		return &t, nil
	case models.ScheduleOnce:
		return s.RunAt, nil
	default:
		return nil, nil
	}
}

func createScheduleTool(schedules store.ScheduleStore, next NextRunFunc) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "createSchedule",
			Description: "Create a recurring or one-off schedule that wakes you up.",
			Required:    []string{"name", "type"},
			Optional:    []string{"cron", "intervalMinutes", "runAt", "action", "prompt"},
			ParamDocs: map[string]string{
				"name":            "What the schedule is for.",
				"type":            "cron, interval, or once.",
				"cron":            "Cron expression, required for type cron.",
				"intervalMinutes": "Minutes between runs, required for type interval.",
				"runAt":           "RFC3339 timestamp, required for type once.",
				"action":          "Scheduler action to run (default custom_prompt).",
				"prompt":          "Instructions to reason over when the schedule fires.",
			},
			ParamTypes: map[string]string{"intervalMinutes": "integer"},
			Group:      GroupStandard,
			Safe:       true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Name            string `json:"name"`
				Type            string `json:"type"`
				Cron            string `json:"cron"`
				IntervalMinutes int    `json:"intervalMinutes"`
				RunAt           string `json:"runAt"`
				Action          string `json:"action"`
				Prompt          string `json:"prompt"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			name := strings.TrimSpace(input.Name)
			if name == "" {
				return errResult("name is required"), nil
			}

			now := time.Now().UTC()
			s := &models.Schedule{
				ID:           uuid.NewString(),
				AgentID:      tctx.AgentID,
				UserID:       tctx.UserID,
				Name:         name,
				ActionType:   strings.TrimSpace(input.Action),
				CustomPrompt: strings.TrimSpace(input.Prompt),
				Active:       true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if s.ActionType == "" {
				s.ActionType = models.ActionCustomPrompt
			}

			switch models.ScheduleType(strings.TrimSpace(input.Type)) {
			case models.ScheduleCron:
				s.Type = models.ScheduleCron
				s.CronExpression = strings.TrimSpace(input.Cron)
				if s.CronExpression == "" {
					return errResult("cron expression is required for type cron"), nil
				}
			case models.ScheduleInterval:
				s.Type = models.ScheduleInterval
				if input.IntervalMinutes <= 0 {
					return errResult("intervalMinutes must be positive for type interval"), nil
				}
				s.IntervalMinutes = input.IntervalMinutes
			case models.ScheduleOnce:
				s.Type = models.ScheduleOnce
				runAt, err := time.Parse(time.RFC3339, strings.TrimSpace(input.RunAt))
				if err != nil {
					return errResult("runAt must be an RFC3339 timestamp, e.g. 2026-01-02T15:04:05Z"), nil
				}
				s.RunAt = &runAt
			default:
				return errResult("type must be cron, interval, or once"), nil
			}

			nextAt, err := computeNextRun(next, s, now)
			if err != nil {
				return errResult("invalid schedule timing: %v", err), nil
			}
			s.NextRunAt = nextAt

			if err := schedules.Create(ctx, s); err != nil {
				return nil, fmt.Errorf("create schedule: %w", err)
			}
			result := map[string]any{
				"scheduleId": s.ID,
				"name":       s.Name,
				"type":       string(s.Type),
			}
			if s.NextRunAt != nil {
				result["nextRunAt"] = s.NextRunAt.Format(time.RFC3339)
			}
			return okResult(result), nil
		},
	}
}

func listSchedulesTool(schedules store.ScheduleStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "listSchedules",
			Description: "List your schedules with their next run times.",
			Group:       GroupStandard,
			Baseline:    true,
			Safe:        true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			all, err := schedules.ListByAgent(ctx, tctx.AgentID)
			if err != nil {
				return nil, fmt.Errorf("list schedules: %w", err)
			}
			items := make([]map[string]any, 0, len(all))
			for _, s := range all {
				item := map[string]any{
					"scheduleId": s.ID,
					"name":       s.Name,
					"type":       string(s.Type),
					"action":     s.ActionType,
					"active":     s.Active,
				}
				if s.NextRunAt != nil {
					item["nextRunAt"] = s.NextRunAt.Format(time.RFC3339)
				}
				items = append(items, item)
			}
			return okResult(map[string]any{"count": len(items), "schedules": items}), nil
		},
	}
}

func updateScheduleTool(schedules store.ScheduleStore, next NextRunFunc) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "updateSchedule",
			Description: "Change a schedule's timing, prompt, or active state.",
			Required:    []string{"scheduleId"},
			Optional:    []string{"name", "cron", "intervalMinutes", "runAt", "prompt", "active"},
			ParamDocs: map[string]string{
				"scheduleId":      "ID of the schedule to change.",
				"name":            "New name.",
				"cron":            "New cron expression.",
				"intervalMinutes": "New interval in minutes.",
				"runAt":           "New RFC3339 run time for a once schedule.",
				"prompt":          "New custom prompt.",
				"active":          "Set false to pause, true to resume.",
			},
			ParamTypes: map[string]string{"intervalMinutes": "integer", "active": "boolean"},
			Group:      GroupStandard,
			Safe:       true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				ScheduleID      string `json:"scheduleId"`
				Name            string `json:"name"`
				Cron            string `json:"cron"`
				IntervalMinutes int    `json:"intervalMinutes"`
				RunAt           string `json:"runAt"`
				Prompt          string `json:"prompt"`
				Active          *bool  `json:"active"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			id := strings.TrimSpace(input.ScheduleID)
			if id == "" {
				return errResult("scheduleId is required"), nil
			}

			s, fail, err := ownedSchedule(ctx, schedules, tctx, id)
			if err != nil || fail != nil {
				return fail, err
			}

			timingChanged := false
			if name := strings.TrimSpace(input.Name); name != "" {
				s.Name = name
			}
			if expr := strings.TrimSpace(input.Cron); expr != "" {
				if s.Type != models.ScheduleCron {
					return errResult("schedule %s is type %s, cron expression does not apply", id, s.Type), nil
				}
				s.CronExpression = expr
				timingChanged = true
			}
			if input.IntervalMinutes > 0 {
				if s.Type != models.ScheduleInterval {
					return errResult("schedule %s is type %s, intervalMinutes does not apply", id, s.Type), nil
				}
				s.IntervalMinutes = input.IntervalMinutes
				timingChanged = true
			}
			if raw := strings.TrimSpace(input.RunAt); raw != "" {
				if s.Type != models.ScheduleOnce {
					return errResult("schedule %s is type %s, runAt does not apply", id, s.Type), nil
				}
				runAt, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					return errResult("runAt must be an RFC3339 timestamp"), nil
				}
				s.RunAt = &runAt
				timingChanged = true
			}
			if prompt := strings.TrimSpace(input.Prompt); prompt != "" {
				s.CustomPrompt = prompt
			}
			if input.Active != nil {
				s.Active = *input.Active
				if s.Active && s.NextRunAt == nil {
					timingChanged = true
				}
			}

			now := time.Now().UTC()
			if timingChanged {
				nextAt, err := computeNextRun(next, s, now)
				if err != nil {
					return errResult("invalid schedule timing: %v", err), nil
				}
				s.NextRunAt = nextAt
			}
			s.UpdatedAt = now

			if err := schedules.Update(ctx, s); err != nil {
				return nil, fmt.Errorf("update schedule: %w", err)
			}
			result := map[string]any{
				"scheduleId": s.ID,
				"name":       s.Name,
				"active":     s.Active,
			}
			if s.NextRunAt != nil {
				result["nextRunAt"] = s.NextRunAt.Format(time.RFC3339)
			}
			return okResult(result), nil
		},
	}
}

func deleteScheduleTool(schedules store.ScheduleStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "deleteSchedule",
			Description: "Delete one of your schedules.",
			Required:    []string{"scheduleId"},
			ParamDocs: map[string]string{
				"scheduleId": "ID of the schedule to delete.",
			},
			Group: GroupStandard,
			Safe:  true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			id, fail := requiredName(params, "scheduleId")
			if fail != nil {
				return fail, nil
			}
			s, fail, err := ownedSchedule(ctx, schedules, tctx, id)
			if err != nil || fail != nil {
				return fail, err
			}
			if err := schedules.Delete(ctx, s.ID); err != nil {
				return nil, fmt.Errorf("delete schedule: %w", err)
			}
			return okResult(map[string]any{"scheduleId": s.ID, "deleted": true}), nil
		},
	}
}

// ownedSchedule loads a schedule and rejects IDs belonging to other agents.
func ownedSchedule(ctx context.Context, schedules store.ScheduleStore, tctx *models.ToolContext, id string) (*models.Schedule, *models.ToolResult, error) {
	s, err := schedules.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, errResult("schedule not found: %s", id), nil
		}
		return nil, nil, fmt.Errorf("get schedule: %w", err)
	}
	if s.AgentID != tctx.AgentID {
		return nil, errResult("schedule not found: %s", id), nil
	}
	return s, nil, nil
}

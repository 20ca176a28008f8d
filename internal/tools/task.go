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

func taskTools(tasks store.TaskStore) []Tool {
	return []Tool{
		createTaskTool(tasks),
		updateTaskTool(tasks),
		completeTaskTool(tasks),
		listTasksTool(tasks),
	}
}

var taskStatuses = []models.TaskStatus{
	models.TaskPending,
	models.TaskAssigned,
	models.TaskInProgress,
	models.TaskCompleted,
	models.TaskBlocked,
	models.TaskCancelled,
	models.TaskFailed,
}

func parseTaskStatus(raw string) (models.TaskStatus, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_")
	for _, s := range taskStatuses {
		if string(s) == normalized {
			return s, true
		}
	}
	return "", false
}

func parseDueDate(raw string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, true
		}
	}
	return nil, false
}

func createTaskTool(tasks store.TaskStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "createTask",
			Description: "Create a task to track a piece of work.",
			Required:    []string{"title"},
			Optional:    []string{"description", "dueDate", "priority"},
			ParamDocs: map[string]string{
				"title":       "Short task title.",
				"description": "Details of the work.",
				"dueDate":     "Due date, RFC3339 or YYYY-MM-DD.",
				"priority":    "low, medium, or high.",
			},
			Group: GroupStandard,
			Safe:  true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				DueDate     string `json:"dueDate"`
				Priority    string `json:"priority"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			title := strings.TrimSpace(input.Title)
			if title == "" {
				return errResult("title is required"), nil
			}
			due, ok := parseDueDate(input.DueDate)
			if !ok {
				return errResult("dueDate must be RFC3339 or YYYY-MM-DD"), nil
			}

			now := time.Now().UTC()
			task := &models.Task{
				ID:           uuid.NewString(),
				UserID:       tctx.UserID,
				Title:        title,
				Description:  strings.TrimSpace(input.Description),
				Type:         models.TaskTypeStandard,
				Status:       models.TaskPending,
				Priority:     strings.ToLower(strings.TrimSpace(input.Priority)),
				DueAt:        due,
				AssigneeID:   tctx.AgentID,
				AssigneeKind: "agent",
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tasks.Create(ctx, task); err != nil {
				return nil, fmt.Errorf("create task: %w", err)
			}
			result := map[string]any{
				"taskId": task.ID,
				"title":  task.Title,
				"status": string(task.Status),
			}
			if task.DueAt != nil {
				result["dueAt"] = task.DueAt.Format(time.RFC3339)
			}
			return okResult(result), nil
		},
	}
}

func updateTaskTool(tasks store.TaskStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "updateTask",
			Description: "Update a task's status or details.",
			Required:    []string{"taskId"},
			Optional:    []string{"status", "title", "description", "summary"},
			ParamDocs: map[string]string{
				"taskId":      "ID of the task to update.",
				"status":      "pending, assigned, in_progress, completed, blocked, cancelled, or failed.",
				"title":       "New title.",
				"description": "New details.",
				"summary":     "Outcome summary shown to the user.",
			},
			Group: GroupStandard,
			Safe:  true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				TaskID      string `json:"taskId"`
				Status      string `json:"status"`
				Title       string `json:"title"`
				Description string `json:"description"`
				Summary     string `json:"summary"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			id := strings.TrimSpace(input.TaskID)
			if id == "" {
				return errResult("taskId is required"), nil
			}

			task, fail, err := ownedTask(ctx, tasks, tctx, id)
			if err != nil || fail != nil {
				return fail, err
			}

			if raw := strings.TrimSpace(input.Status); raw != "" {
				status, ok := parseTaskStatus(raw)
				if !ok {
					return errResult("unknown status %q, use pending, assigned, in_progress, completed, blocked, cancelled, or failed", raw), nil
				}
				task.Status = status
				if status == models.TaskCompleted {
					now := time.Now().UTC()
					task.CompletedAt = &now
				}
			}
			if title := strings.TrimSpace(input.Title); title != "" {
				task.Title = title
			}
			if desc := strings.TrimSpace(input.Description); desc != "" {
				task.Description = desc
			}
			if summary := strings.TrimSpace(input.Summary); summary != "" {
				task.AISummary = summary
			}
			task.UpdatedAt = time.Now().UTC()

			if err := tasks.Update(ctx, task); err != nil {
				return nil, fmt.Errorf("update task: %w", err)
			}
			return okResult(map[string]any{
				"taskId": task.ID,
				"title":  task.Title,
				"status": string(task.Status),
			}), nil
		},
	}
}

func completeTaskTool(tasks store.TaskStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "completeTask",
			Description: "Mark a task completed.",
			Required:    []string{"taskId"},
			Optional:    []string{"summary"},
			ParamDocs: map[string]string{
				"taskId":  "ID of the task to complete.",
				"summary": "What was accomplished.",
			},
			Group: GroupStandard,
			Safe:  true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				TaskID  string `json:"taskId"`
				Summary string `json:"summary"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			id := strings.TrimSpace(input.TaskID)
			if id == "" {
				return errResult("taskId is required"), nil
			}

			task, fail, err := ownedTask(ctx, tasks, tctx, id)
			if err != nil || fail != nil {
				return fail, err
			}
			if task.Status == models.TaskCompleted {
				return okResult(map[string]any{
					"taskId":  task.ID,
					"status":  string(task.Status),
					"changed": false,
				}), nil
			}

			now := time.Now().UTC()
			task.Status = models.TaskCompleted
			task.CompletedAt = &now
			task.UpdatedAt = now
			if summary := strings.TrimSpace(input.Summary); summary != "" {
				task.AISummary = summary
			}
			if err := tasks.Update(ctx, task); err != nil {
				return nil, fmt.Errorf("complete task: %w", err)
			}
			return okResult(map[string]any{
				"taskId": task.ID,
				"status": string(task.Status),
			}), nil
		},
	}
}

func listTasksTool(tasks store.TaskStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "listTasks",
			Description: "List tasks assigned to you.",
			Optional:    []string{"status"},
			ParamDocs: map[string]string{
				"status": "Filter to one status; default is everything still open.",
			},
			Group:    GroupStandard,
			Baseline: true,
			Safe:     true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Status string `json:"status"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}

			statuses := []models.TaskStatus{
				models.TaskPending,
				models.TaskAssigned,
				models.TaskInProgress,
				models.TaskBlocked,
			}
			if raw := strings.TrimSpace(input.Status); raw != "" {
				status, ok := parseTaskStatus(raw)
				if !ok {
					return errResult("unknown status %q", raw), nil
				}
				statuses = []models.TaskStatus{status}
			}

			list, err := tasks.ListByAssignee(ctx, tctx.AgentID, statuses)
			if err != nil {
				return nil, fmt.Errorf("list tasks: %w", err)
			}
			items := make([]map[string]any, 0, len(list))
			for _, t := range list {
				item := map[string]any{
					"taskId": t.ID,
					"title":  t.Title,
					"status": string(t.Status),
				}
				if t.DueAt != nil {
					item["dueAt"] = t.DueAt.Format(time.RFC3339)
				}
				items = append(items, item)
			}
			return okResult(map[string]any{"count": len(items), "tasks": items}), nil
		},
	}
}

// ownedTask loads a task and rejects IDs belonging to other users.
func ownedTask(ctx context.Context, tasks store.TaskStore, tctx *models.ToolContext, id string) (*models.Task, *models.ToolResult, error) {
	task, err := tasks.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, errResult("task not found: %s", id), nil
		}
		return nil, nil, fmt.Errorf("get task: %w", err)
	}
	if task.UserID != tctx.UserID {
		return nil, errResult("task not found: %s", id), nil
	}
	return task, nil, nil
}

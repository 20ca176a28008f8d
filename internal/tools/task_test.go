package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/legionruntime/legion/pkg/models"
)

func TestCreateTask(t *testing.T) {
	reg, deps := fullRegistry(t)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "createTask", map[string]any{
		"title":       "  Draft the quarterly summary ",
		"description": "Pull numbers from the usage report first.",
		"dueDate":     "2026-09-01",
		"priority":    "High",
	}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	id := res.Result.(map[string]any)["taskId"].(string)

	task, err := deps.Stores.Tasks.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Title != "Draft the quarterly summary" {
		t.Errorf("title = %q", task.Title)
	}
	if task.Status != models.TaskPending || task.Priority != "high" {
		t.Errorf("task = %+v", task)
	}
	if task.AssigneeID != "agent-1" || task.AssigneeKind != "agent" {
		t.Errorf("assignee = %s/%s", task.AssigneeID, task.AssigneeKind)
	}
	if task.DueAt == nil || task.DueAt.Format("2006-01-02") != "2026-09-01" {
		t.Errorf("due = %v", task.DueAt)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	reg, _ := fullRegistry(t)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "createTask", map[string]any{"title": "   "}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "title is required") {
		t.Errorf("result = %+v", res)
	}

	res, err = reg.Execute(ctx, "createTask", map[string]any{"title": "x", "dueDate": "next tuesday"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "dueDate") {
		t.Errorf("result = %+v", res)
	}
}

func TestUpdateTask_StatusTransitions(t *testing.T) {
	reg, deps := fullRegistry(t)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "createTask", map[string]any{"title": "research flights"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("create = %+v, %v", res, err)
	}
	id := res.Result.(map[string]any)["taskId"].(string)

	// Status names tolerate spaces and case.
	res, err = reg.Execute(ctx, "updateTask", map[string]any{"taskId": id, "status": "In Progress"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("update = %+v, %v", res, err)
	}
	task, _ := deps.Stores.Tasks.Get(ctx, id)
	if task.Status != models.TaskInProgress {
		t.Errorf("status = %s", task.Status)
	}

	res, err = reg.Execute(ctx, "updateTask", map[string]any{
		"taskId": id, "status": "completed", "summary": "Booked the 9am direct.",
	}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("complete via update = %+v, %v", res, err)
	}
	task, _ = deps.Stores.Tasks.Get(ctx, id)
	if task.Status != models.TaskCompleted || task.CompletedAt == nil {
		t.Errorf("task = %+v", task)
	}
	if task.AISummary != "Booked the 9am direct." {
		t.Errorf("summary = %q", task.AISummary)
	}

	res, err = reg.Execute(ctx, "updateTask", map[string]any{"taskId": id, "status": "paused"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "unknown status") {
		t.Errorf("bad status = %+v", res)
	}
}

func TestCompleteTask_Idempotent(t *testing.T) {
	reg, deps := fullRegistry(t)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "createTask", map[string]any{"title": "water plants"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("create = %+v, %v", res, err)
	}
	id := res.Result.(map[string]any)["taskId"].(string)

	res, err = reg.Execute(ctx, "completeTask", map[string]any{"taskId": id, "summary": "done at noon"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("complete = %+v, %v", res, err)
	}
	task, _ := deps.Stores.Tasks.Get(ctx, id)
	if task.Status != models.TaskCompleted || task.AISummary != "done at noon" {
		t.Errorf("task = %+v", task)
	}
	first := *task.CompletedAt

	// Completing twice is reported, not an error, and keeps the original
	// completion time.
	res, err = reg.Execute(ctx, "completeTask", map[string]any{"taskId": id}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("second complete = %+v, %v", res, err)
	}
	if payload := res.Result.(map[string]any); payload["changed"] != false {
		t.Errorf("payload = %v", payload)
	}
	task, _ = deps.Stores.Tasks.Get(ctx, id)
	if !task.CompletedAt.Equal(first) {
		t.Errorf("completedAt moved: %v -> %v", first, task.CompletedAt)
	}
}

func TestListTasks_DefaultsToOpenStatuses(t *testing.T) {
	reg, deps := fullRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []*models.Task{
		{ID: "t-1", UserID: "user-1", Title: "open", Status: models.TaskPending, AssigneeID: "agent-1", AssigneeKind: "agent", CreatedAt: now},
		{ID: "t-2", UserID: "user-1", Title: "working", Status: models.TaskInProgress, AssigneeID: "agent-1", AssigneeKind: "agent", CreatedAt: now},
		{ID: "t-3", UserID: "user-1", Title: "done", Status: models.TaskCompleted, AssigneeID: "agent-1", AssigneeKind: "agent", CreatedAt: now},
		{ID: "t-4", UserID: "user-1", Title: "someone else", Status: models.TaskPending, AssigneeID: "agent-2", AssigneeKind: "agent", CreatedAt: now},
	}
	for _, task := range seed {
		if err := deps.Stores.Tasks.Create(ctx, task); err != nil {
			t.Fatalf("Create %s: %v", task.ID, err)
		}
	}

	res, err := reg.Execute(ctx, "listTasks", nil, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("list = %+v, %v", res, err)
	}
	payload := res.Result.(map[string]any)
	if payload["count"] != 2 {
		t.Fatalf("count = %v, payload = %v", payload["count"], payload)
	}
	seen := map[string]bool{}
	for _, item := range payload["tasks"].([]map[string]any) {
		seen[item["taskId"].(string)] = true
	}
	if !seen["t-1"] || !seen["t-2"] || seen["t-3"] || seen["t-4"] {
		t.Errorf("seen = %v", seen)
	}

	// An explicit filter overrides the open-status default.
	res, err = reg.Execute(ctx, "listTasks", map[string]any{"status": "completed"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("filtered list = %+v, %v", res, err)
	}
	payload = res.Result.(map[string]any)
	if payload["count"] != 1 {
		t.Errorf("filtered count = %v", payload["count"])
	}
}

func TestTaskTools_OwnershipMasked(t *testing.T) {
	reg, deps := fullRegistry(t)
	ctx := context.Background()

	if err := deps.Stores.Tasks.Create(ctx, &models.Task{
		ID: "t-foreign", UserID: "user-2", Title: "not yours",
		Status: models.TaskPending, AssigneeID: "agent-9", AssigneeKind: "agent",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, tool := range []string{"updateTask", "completeTask"} {
		res, err := reg.Execute(ctx, tool, map[string]any{"taskId": "t-foreign", "status": "completed"}, testToolContext())
		if err != nil {
			t.Fatalf("%s: %v", tool, err)
		}
		if res.Success || !strings.Contains(res.Error, "not found") {
			t.Errorf("%s = %+v", tool, res)
		}
	}
}

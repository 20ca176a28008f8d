package tools

import (
	"context"
	"testing"

	"github.com/legionruntime/legion/pkg/models"
)

func TestSaveMemory(t *testing.T) {
	reg, deps := fullRegistry(t)
	mem := deps.Memory.(*fakeMemory)

	res, err := reg.Execute(context.Background(), "saveMemory", map[string]any{
		"content":    "Dana prefers morning meetings.",
		"kind":       "preference",
		"importance": 0.8,
		"tags":       []string{"dana", "scheduling"},
	}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}

	if len(mem.created) != 1 {
		t.Fatalf("created %d memories", len(mem.created))
	}
	m := mem.created[0]
	if m.Content != "Dana prefers morning meetings." || m.Kind != models.MemoryPreference {
		t.Errorf("memory = %+v", m)
	}
	if m.Importance != 0.8 || len(m.Tags) != 2 {
		t.Errorf("memory = %+v", m)
	}
	if m.AgentID != "agent-1" || m.UserID != "user-1" || m.ID == "" {
		t.Errorf("identity = %+v", m)
	}
}

func TestSaveMemory_DefaultsAndClamping(t *testing.T) {
	reg, deps := fullRegistry(t)
	mem := deps.Memory.(*fakeMemory)

	res, err := reg.Execute(context.Background(), "saveMemory", map[string]any{
		"content": "standup is at nine",
	}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	if m := mem.created[0]; m.Kind != models.MemoryLearning || m.Importance != 0.5 {
		t.Errorf("defaults = kind %s importance %v", m.Kind, m.Importance)
	}

	res, err = reg.Execute(context.Background(), "saveMemory", map[string]any{
		"content": "overweighted", "importance": 7,
	}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	if m := mem.created[1]; m.Importance != 1 {
		t.Errorf("importance = %v, want clamped to 1", m.Importance)
	}

	res, err = reg.Execute(context.Background(), "saveMemory", map[string]any{"content": "  "}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("blank content accepted")
	}
}

func TestSearchMemory(t *testing.T) {
	reg, deps := fullRegistry(t)
	deps.Memory.(*fakeMemory).found = []*models.Memory{
		{Content: "Dana prefers morning meetings.", Kind: models.MemoryPreference, Importance: 0.8},
		{Content: "The Q3 report lives in reports/.", Kind: models.MemoryContext, Importance: 0.4},
	}

	res, err := reg.Execute(context.Background(), "searchMemory", map[string]any{"query": "dana"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	payload := res.Result.(map[string]any)
	if payload["count"] != 2 {
		t.Fatalf("count = %v", payload["count"])
	}
	items := payload["memories"].([]map[string]any)
	if items[0]["content"] != "Dana prefers morning meetings." || items[0]["kind"] != "preference" {
		t.Errorf("items[0] = %v", items[0])
	}
}

func TestGeneratePlan(t *testing.T) {
	reg, deps := fullRegistry(t)
	planner := deps.Planner.(*fakePlanner)
	planner.plan = &models.Plan{
		ID: "plan-7",
		Steps: []models.PlanStep{
			{ID: "step-1", Title: "Find flight options"},
			{ID: "step-2", Title: "Confirm dates with Dana"},
			{ID: "step-3", Title: "Book and send itinerary"},
		},
	}

	res, err := reg.Execute(context.Background(), "generatePlan", map[string]any{
		"goal":    "Plan the Berlin trip",
		"context": "Budget is 800.",
	}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	payload := res.Result.(map[string]any)
	if payload["planId"] != "plan-7" {
		t.Errorf("planId = %v", payload["planId"])
	}
	steps := payload["steps"].([]string)
	if len(steps) != 3 || steps[0] != "Find flight options" {
		t.Errorf("steps = %v", steps)
	}
	// Caller context rides along inside the goal text.
	if planner.lastGoal != "Plan the Berlin trip\n\nContext: Budget is 800." {
		t.Errorf("goal = %q", planner.lastGoal)
	}
}

func TestSearchWeb(t *testing.T) {
	reg, deps := fullRegistry(t)
	search := deps.Search.(*fakeSearcher)
	search.results = []SearchResult{
		{Title: "Go 1.24 Release Notes", URL: "https://go.dev/doc/go1.24"},
	}

	res, err := reg.Execute(context.Background(), "searchWeb", map[string]any{"query": "go 1.24"}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	if search.lastQuery != "go 1.24" || search.lastMax != defaultSearchResults {
		t.Errorf("search called with %q / %d", search.lastQuery, search.lastMax)
	}
	payload := res.Result.(map[string]any)
	if payload["count"] != 1 {
		t.Errorf("count = %v", payload["count"])
	}

	res, err = reg.Execute(context.Background(), "searchWeb", map[string]any{"query": "go", "maxResults": 2}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	if search.lastMax != 2 {
		t.Errorf("maxResults = %d", search.lastMax)
	}
}

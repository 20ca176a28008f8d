package tools

import (
	"context"
	"testing"

	"github.com/legionruntime/legion/pkg/models"
)

func TestOrchestrate_ReturnsTrackingHandle(t *testing.T) {
	reg, deps := fullRegistry(t)
	agents := deps.Agents.(*fakeAgentManager)

	res, err := reg.Execute(context.Background(), "orchestrate", map[string]any{
		"task":       "Research venues for the offsite",
		"specialist": "researcher",
	}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}

	// The child runs asynchronously; the loop records the handle and the
	// result arrives later as a task_response event.
	handle, ok := res.Result.(models.AsyncHandle)
	if !ok || !handle.Async || handle.TrackingID != "track-1" {
		t.Fatalf("result payload = %+v", res.Result)
	}
	if len(agents.orchestrated) != 1 || agents.orchestrated[0] != "Research venues for the offsite" {
		t.Errorf("orchestrated = %v", agents.orchestrated)
	}
}

func TestOrchestrate_MissingTask(t *testing.T) {
	reg, _ := fullRegistry(t)

	res, err := reg.Execute(context.Background(), "orchestrate", map[string]any{"specialist": "researcher"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("missing task accepted")
	}
}

func TestCreateSpecialist(t *testing.T) {
	reg, deps := fullRegistry(t)
	agents := deps.Agents.(*fakeAgentManager)

	res, err := reg.Execute(context.Background(), "createSpecialist", map[string]any{
		"name": "scout",
		"role": "travel research",
	}, testToolContext())
	if err != nil || !res.Success {
		t.Fatalf("result = %+v, %v", res, err)
	}
	payload := res.Result.(map[string]any)
	if payload["agentId"] != "agent-1" || payload["name"] != "scout" {
		t.Errorf("payload = %v", payload)
	}
	if len(agents.created) != 1 || agents.created[0].Role != "travel research" {
		t.Errorf("created = %+v", agents.created)
	}

	res, err = reg.Execute(context.Background(), "createSpecialist", map[string]any{"name": "scout"}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("missing role accepted")
	}
}

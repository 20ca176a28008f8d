package doctor

import (
	"context"
	"testing"
	"time"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

func TestInspectDatabase(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()

	if err := stores.Agents.Create(ctx, &models.Agent{ID: "a1", UserID: "u1", Name: "Atlas", Status: models.AgentActive}); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	next := time.Now().Add(time.Hour)
	if err := stores.Schedules.Create(ctx, &models.Schedule{
		ID: "s1", AgentID: "a1", UserID: "u1", Type: models.ScheduleInterval,
		IntervalMinutes: 60, ActionType: models.ActionReasoningCycle,
		Active: true, NextRunAt: &next,
	}); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	if err := stores.Schedules.Create(ctx, &models.Schedule{
		ID: "s2", AgentID: "a1", UserID: "u1", Type: models.ScheduleCron,
		CronExpression: "0 9 * * *", ActionType: models.ActionSendReport, Active: true,
	}); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	report, err := InspectDatabase(ctx, stores)
	if err != nil {
		t.Fatalf("InspectDatabase: %v", err)
	}
	if report.Agents != 1 {
		t.Errorf("Agents = %d, want 1", report.Agents)
	}
	if report.ActiveSchedules != 2 {
		t.Errorf("ActiveSchedules = %d, want 2", report.ActiveSchedules)
	}
	if !hasWarning(report.Warnings, "no next run time") {
		t.Errorf("expected missing next-run warning, got %v", report.Warnings)
	}
}

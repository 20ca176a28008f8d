package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

func newTestManager() (*Manager, *store.MemoryCheckpointStore) {
	st := store.NewMemoryCheckpointStore()
	m := NewManager(st, nil)
	m.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return m, st
}

func runPosition(iteration int) *models.Checkpoint {
	return &models.Checkpoint{
		AgentID:    "agent-1",
		UserID:     "user-1",
		Trigger:    models.TriggerSchedule,
		Tier:       models.TierModerate,
		Iteration:  iteration,
		TokensUsed: 1200,
		Actions: []models.ActionRecord{
			{Tool: "searchWeb", Status: models.ActionExecuted},
		},
	}
}

func TestSave_AssignsIDAndKeepsItAcrossIterations(t *testing.T) {
	m, st := newTestManager()
	ctx := context.Background()

	cp := runPosition(1)
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if cp.ID == "" {
		t.Fatal("no ID assigned")
	}
	firstID := cp.ID

	cp.Iteration = 2
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if cp.ID != firstID {
		t.Fatalf("ID changed across saves: %s -> %s", firstID, cp.ID)
	}

	active, err := st.GetActive(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active.Iteration != 2 || active.Status != models.CheckpointActive {
		t.Fatalf("active = %+v", active)
	}
}

func TestSave_RequiresAgentID(t *testing.T) {
	m, _ := newTestManager()
	if err := m.Save(context.Background(), &models.Checkpoint{}); err == nil {
		t.Fatal("expected error for missing agent id")
	}
	if err := m.Save(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil checkpoint")
	}
}

func TestResume_ReturnsActivePosition(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	if err := m.Save(ctx, runPosition(3)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, err := m.Resume(ctx, "agent-1", models.TriggerSchedule)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if cp == nil || cp.Iteration != 3 {
		t.Fatalf("cp = %+v", cp)
	}
	if len(cp.Actions) != 1 || cp.Actions[0].Tool != "searchWeb" {
		t.Fatalf("actions = %+v", cp.Actions)
	}
}

func TestResume_FreshStartWithoutCheckpoint(t *testing.T) {
	m, _ := newTestManager()
	cp, err := m.Resume(context.Background(), "agent-1", models.TriggerWakeUp)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if cp != nil {
		t.Fatalf("cp = %+v, want nil", cp)
	}
}

func TestResume_IncomingMessageClearsAndNeverResumes(t *testing.T) {
	m, st := newTestManager()
	ctx := context.Background()
	if err := m.Save(ctx, runPosition(4)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, err := m.Resume(ctx, "agent-1", models.TriggerIncomingMessage)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if cp != nil {
		t.Fatalf("incoming message resumed: %+v", cp)
	}

	if _, err := st.GetActive(ctx, "agent-1"); err == nil {
		t.Fatal("active checkpoint survived an incoming message")
	}

	// The next non-message trigger starts fresh too.
	cp, err = m.Resume(ctx, "agent-1", models.TriggerSchedule)
	if err != nil || cp != nil {
		t.Fatalf("cp = %+v, err = %v", cp, err)
	}
}

func TestCompleteAndFail(t *testing.T) {
	ctx := context.Background()

	t.Run("complete clears the active slot", func(t *testing.T) {
		m, st := newTestManager()
		if err := m.Save(ctx, runPosition(1)); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := m.Complete(ctx, "agent-1"); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if _, err := st.GetActive(ctx, "agent-1"); err == nil {
			t.Fatal("checkpoint still active after Complete")
		}
	})

	t.Run("fail clears the active slot", func(t *testing.T) {
		m, st := newTestManager()
		if err := m.Save(ctx, runPosition(1)); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := m.Fail(ctx, "agent-1"); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if _, err := st.GetActive(ctx, "agent-1"); err == nil {
			t.Fatal("checkpoint still active after Fail")
		}
	})

	t.Run("nothing active is a no-op", func(t *testing.T) {
		m, _ := newTestManager()
		if err := m.Complete(ctx, "agent-1"); err != nil {
			t.Fatalf("Complete on empty: %v", err)
		}
		if err := m.Fail(ctx, "agent-1"); err != nil {
			t.Fatalf("Fail on empty: %v", err)
		}
	})
}

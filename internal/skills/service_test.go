package skills

import (
	"context"
	"testing"
	"time"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

var skillBase = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService() (*Service, store.SkillStore) {
	st := store.NewMemorySkillStore()
	svc := NewService(st, nil)
	svc.now = func() time.Time { return skillBase }
	return svc, st
}

func TestEnsureBaseline(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	if err := svc.EnsureBaseline(ctx, "agent-1"); err != nil {
		t.Fatalf("EnsureBaseline: %v", err)
	}
	list, err := st.ListByAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != len(models.AllSkillCategories) {
		t.Fatalf("skills = %d, want %d", len(list), len(models.AllSkillCategories))
	}
	for _, skill := range list {
		if skill.Level != 1 || skill.XP != 0 {
			t.Fatalf("fresh skill = %+v", skill)
		}
	}

	// Idempotent: a second call does not reset earned XP.
	if _, err := svc.Award(ctx, "agent-1", models.SkillAnalysis, 40, "test"); err != nil {
		t.Fatalf("Award: %v", err)
	}
	if err := svc.EnsureBaseline(ctx, "agent-1"); err != nil {
		t.Fatalf("second EnsureBaseline: %v", err)
	}
	after, err := st.Get(ctx, "agent-1", models.SkillAnalysis)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.XP != 40 {
		t.Fatalf("XP reset to %d", after.XP)
	}
}

func TestAward_TracksUseAndXP(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	skill, err := svc.Award(ctx, "agent-1", models.SkillCommunication, XPPerSuccess, "respond succeeded")
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if skill.XP != 5 || skill.UseCount != 1 || skill.Level != 1 {
		t.Fatalf("skill = %+v", skill)
	}
	if !skill.LastUsedAt.Equal(skillBase) {
		t.Fatalf("last used = %v", skill.LastUsedAt)
	}

	if _, err := svc.Award(ctx, "agent-1", models.SkillCommunication, 0, ""); err == nil {
		t.Fatal("zero award should fail")
	}

	history, err := svc.History(ctx, "agent-1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Event != models.SkillEventXPAward || history[0].XPDelta != 5 {
		t.Fatalf("history = %+v", history)
	}
}

func TestAward_PromotesAtThreshold(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	var skill *models.Skill
	var err error
	for i := 0; i < 20; i++ {
		skill, err = svc.Award(ctx, "agent-1", models.SkillAutomation, XPPerSuccess, "")
		if err != nil {
			t.Fatalf("Award %d: %v", i, err)
		}
	}
	if skill.XP != 100 || skill.Level != 2 {
		t.Fatalf("skill = %+v, want level 2 at 100 XP", skill)
	}

	history, _ := svc.History(ctx, "agent-1", 0)
	var ups int
	for _, h := range history {
		if h.Event == models.SkillEventLevelUp {
			ups++
			if h.FromLevel != 1 || h.ToLevel != 2 {
				t.Fatalf("level up row = %+v", h)
			}
		}
	}
	if ups != 1 {
		t.Fatalf("level ups = %d", ups)
	}
}

func TestAward_BigGrantCrossesMultipleThresholds(t *testing.T) {
	svc, _ := newTestService()

	skill, err := svc.Award(context.Background(), "agent-1", models.SkillIntegration, 650, "imported history")
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	// 650 XP clears 100, 300, and 600.
	if skill.Level != 4 {
		t.Fatalf("level = %d, want 4", skill.Level)
	}
}

func TestAward_CapsAtMaxLevel(t *testing.T) {
	svc, _ := newTestService()

	skill, err := svc.Award(context.Background(), "agent-1", models.SkillManagement, 5000, "")
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if skill.Level != models.MaxSkillLevel {
		t.Fatalf("level = %d, want max %d", skill.Level, models.MaxSkillLevel)
	}
}

func TestDecay(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	// 120 XP at level 2, last used five weeks ago: 15% decay loses 18 XP,
	// dropping below the 100 XP threshold that earned level 2.
	used := skillBase.Add(-5 * 7 * 24 * time.Hour)
	seed := &models.Skill{
		ID: "sk-1", AgentID: "agent-1", Category: models.SkillAnalysis,
		XP: 120, Level: 2, UseCount: 24, LastUsedAt: used,
	}
	if err := st.Save(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fresh := &models.Skill{
		ID: "sk-2", AgentID: "agent-1", Category: models.SkillCommunication,
		XP: 50, Level: 1, UseCount: 10, LastUsedAt: skillBase.Add(-24 * time.Hour),
	}
	if err := st.Save(ctx, fresh); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}
	unused := &models.Skill{
		ID: "sk-3", AgentID: "agent-1", Category: models.SkillAutomation, Level: 1,
	}
	if err := st.Save(ctx, unused); err != nil {
		t.Fatalf("seed unused: %v", err)
	}

	n, err := svc.Decay(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Decay: %v", err)
	}
	if n != 1 {
		t.Fatalf("decayed = %d, want 1", n)
	}

	decayed, _ := st.Get(ctx, "agent-1", models.SkillAnalysis)
	if decayed.XP != 102 {
		t.Fatalf("XP = %d, want 102", decayed.XP)
	}
	if decayed.Level != 2 {
		t.Fatalf("level = %d, want 2 (102 still clears the 100 threshold)", decayed.Level)
	}

	untouched, _ := st.Get(ctx, "agent-1", models.SkillCommunication)
	if untouched.XP != 50 {
		t.Fatalf("recently used skill decayed to %d", untouched.XP)
	}

	// A second pass right away charges nothing: the first pass restarted
	// the idle clock.
	n, err = svc.Decay(ctx, "agent-1")
	if err != nil {
		t.Fatalf("second Decay: %v", err)
	}
	if n != 0 {
		t.Fatalf("second pass decayed = %d, want 0", n)
	}
	again, _ := st.Get(ctx, "agent-1", models.SkillAnalysis)
	if again.XP != 102 {
		t.Fatalf("XP after second pass = %d, want 102", again.XP)
	}
}

func TestDecay_LevelsDownBelowThreshold(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	// 105 XP at level 2, idle twelve weeks: 50% cap loses 52 XP, landing at
	// 53, well under the level-2 threshold.
	seed := &models.Skill{
		ID: "sk-1", AgentID: "agent-1", Category: models.SkillAnalysis,
		XP: 105, Level: 2, UseCount: 21, LastUsedAt: skillBase.Add(-12 * 7 * 24 * time.Hour),
	}
	if err := st.Save(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Decay(ctx, "agent-1"); err != nil {
		t.Fatalf("Decay: %v", err)
	}
	after, _ := st.Get(ctx, "agent-1", models.SkillAnalysis)
	if after.XP != 53 || after.Level != 1 {
		t.Fatalf("skill = %+v, want 53 XP at level 1", after)
	}

	history, _ := svc.History(ctx, "agent-1", 0)
	var sawDecay, sawDown bool
	for _, h := range history {
		switch h.Event {
		case models.SkillEventDecay:
			sawDecay = true
			if h.XPDelta != -52 {
				t.Fatalf("decay delta = %d", h.XPDelta)
			}
		case models.SkillEventLevelDown:
			sawDown = true
			if h.FromLevel != 2 || h.ToLevel != 1 {
				t.Fatalf("level down row = %+v", h)
			}
		}
	}
	if !sawDecay || !sawDown {
		t.Fatalf("history missing rows: decay=%v down=%v", sawDecay, sawDown)
	}
}

func TestLevels(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	seed := &models.Skill{ID: "sk-1", AgentID: "agent-1", Category: models.SkillCommunication, XP: 150, Level: 2}
	if err := st.Save(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	levels, err := svc.Levels(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if levels[models.SkillCommunication] != 2 {
		t.Fatalf("levels = %v", levels)
	}
	if _, ok := levels[models.SkillAnalysis]; ok {
		t.Fatal("absent category should stay absent")
	}
}

package classify

import (
	"testing"

	"github.com/legionruntime/legion/pkg/models"
)

func TestBudgetFor_Defaults(t *testing.T) {
	tests := []struct {
		tier      models.Tier
		wantIters int
		wantTools int
	}{
		{models.TierTrivial, 1, 1},
		{models.TierSimple, 3, 3},
		{models.TierModerate, 8, 6},
		{models.TierComplex, 12, 8},
		{models.TierCritical, 15, 10},
		{models.Tier("bogus"), 3, 3},
	}
	for _, tt := range tests {
		b := BudgetFor(tt.tier, nil)
		if b.MaxIterations != tt.wantIters || b.MaxToolCalls != tt.wantTools {
			t.Errorf("BudgetFor(%s) = (%d, %d), want (%d, %d)",
				tt.tier, b.MaxIterations, b.MaxToolCalls, tt.wantIters, tt.wantTools)
		}
	}
}

func TestBudgetFor_OverrideMergesOnTop(t *testing.T) {
	overrides := map[models.Tier]Budget{
		models.TierModerate: {MaxIterations: 10},
	}
	b := BudgetFor(models.TierModerate, overrides)
	if b.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10 from override", b.MaxIterations)
	}
	if b.MaxToolCalls != 6 {
		t.Errorf("MaxToolCalls = %d, want default 6 when override leaves it zero", b.MaxToolCalls)
	}
	// Other tiers are untouched.
	if b := BudgetFor(models.TierSimple, overrides); b.MaxIterations != 3 {
		t.Errorf("simple MaxIterations = %d, want 3", b.MaxIterations)
	}
}

func incoming() *models.TriggerContext {
	return &models.TriggerContext{Type: models.TriggerIncomingMessage}
}

func scheduled() *models.TriggerContext {
	return &models.TriggerContext{Type: models.TriggerSchedule}
}

func TestAdjustTier(t *testing.T) {
	tests := []struct {
		name     string
		res      *Result
		trigger  *models.TriggerContext
		text     string
		want     models.Tier
		upgraded bool
	}{
		{
			name:     "trivial incoming message becomes simple",
			res:      &Result{Tier: models.TierTrivial},
			trigger:  incoming(),
			want:     models.TierSimple,
			upgraded: true,
		},
		{
			name:    "trivial schedule stays trivial",
			res:     &Result{Tier: models.TierTrivial},
			trigger: scheduled(),
			want:    models.TierTrivial,
		},
		{
			name:     "multi-step simple becomes moderate",
			res:      &Result{Tier: models.TierSimple, Analysis: Analysis{IsMultiStep: true}},
			trigger:  scheduled(),
			want:     models.TierModerate,
			upgraded: true,
		},
		{
			name:     "multi-step trivial incoming chains both upgrades",
			res:      &Result{Tier: models.TierTrivial, Analysis: Analysis{IsMultiStep: true}},
			trigger:  incoming(),
			want:     models.TierModerate,
			upgraded: true,
		},
		{
			name:     "cli sub-provider request",
			res:      &Result{Tier: models.TierTrivial},
			trigger:  scheduled(),
			text:     "use claude code to refactor the parser",
			want:     models.TierModerate,
			upgraded: true,
		},
		{
			name:     "file generation verb with document format",
			res:      &Result{Tier: models.TierSimple},
			trigger:  scheduled(),
			text:     "write a pdf summary of last week",
			want:     models.TierModerate,
			upgraded: true,
		},
		{
			name:    "format word without a generation verb",
			res:     &Result{Tier: models.TierSimple},
			trigger: scheduled(),
			text:    "did the pdf arrive",
			want:    models.TierSimple,
		},
		{
			name: "low confidence command on incoming message",
			res: &Result{
				Tier:       models.TierSimple,
				Confidence: 0.6,
				Analysis:   Analysis{IsCommand: true},
			},
			trigger:  incoming(),
			want:     models.TierModerate,
			upgraded: true,
		},
		{
			name: "confident command stays simple",
			res: &Result{
				Tier:       models.TierSimple,
				Confidence: 0.9,
				Analysis:   Analysis{IsCommand: true},
			},
			trigger: incoming(),
			want:    models.TierSimple,
		},
		{
			name: "complex score rivals simple",
			res: &Result{
				Tier:       models.TierSimple,
				Confidence: 0.9,
				Scores: map[models.Tier]float64{
					models.TierSimple:  1,
					models.TierComplex: 0.8,
				},
				Analysis: Analysis{WordCount: 8},
			},
			trigger:  scheduled(),
			want:     models.TierModerate,
			upgraded: true,
		},
		{
			name: "rival score but text too short",
			res: &Result{
				Tier:       models.TierSimple,
				Confidence: 0.9,
				Scores: map[models.Tier]float64{
					models.TierSimple:  1,
					models.TierComplex: 0.8,
				},
				Analysis: Analysis{WordCount: 4},
			},
			trigger: scheduled(),
			want:    models.TierSimple,
		},
		{
			name:    "zero scores do not trip the rivalry rule",
			res:     &Result{Tier: models.TierSimple, Analysis: Analysis{WordCount: 8}},
			trigger: scheduled(),
			want:    models.TierSimple,
		},
		{
			name:     "critical never downgrades",
			res:      &Result{Tier: models.TierCritical, Analysis: Analysis{IsMultiStep: true}},
			trigger:  incoming(),
			text:     "write a pdf report",
			want:     models.TierCritical,
			upgraded: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := AdjustTier(tt.res, tt.trigger, tt.text)
			if got != tt.want {
				t.Errorf("tier = %s, want %s (reason %q)", got, tt.want, reason)
			}
			if tt.upgraded && reason == "" {
				t.Error("upgrade produced no reason")
			}
			if !tt.upgraded && reason != "" {
				t.Errorf("no upgrade expected, got reason %q", reason)
			}
			if !got.AtLeast(tt.res.Tier) {
				t.Errorf("tier %s ranks below input %s", got, tt.res.Tier)
			}

			// Upgrades never shrink the run.
			before := BudgetFor(tt.res.Tier, nil)
			after := BudgetFor(got, nil)
			if after.MaxIterations < before.MaxIterations || after.MaxToolCalls < before.MaxToolCalls {
				t.Errorf("budget shrank: %v -> %v", before, after)
			}
		})
	}
}

func TestTierBudgetsMonotone(t *testing.T) {
	order := []models.Tier{
		models.TierTrivial, models.TierSimple, models.TierModerate,
		models.TierComplex, models.TierCritical,
	}
	for i := 1; i < len(order); i++ {
		lo, hi := tierBudgets[order[i-1]], tierBudgets[order[i]]
		if hi.MaxIterations < lo.MaxIterations || hi.MaxToolCalls < lo.MaxToolCalls {
			t.Errorf("budgets not monotone between %s and %s", order[i-1], order[i])
		}
	}
}

package classify

import (
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

// Budget bounds one reasoning run.
type Budget struct {
	MaxIterations int `json:"maxIterations"`
	MaxToolCalls  int `json:"maxToolCalls"`
}

// tierBudgets is the built-in budget table. Budgets are monotone in tier
// rank, which keeps upgrades from ever shrinking a run.
var tierBudgets = map[models.Tier]Budget{
	models.TierTrivial:  {MaxIterations: 1, MaxToolCalls: 1},
	models.TierSimple:   {MaxIterations: 3, MaxToolCalls: 3},
	models.TierModerate: {MaxIterations: 8, MaxToolCalls: 6},
	models.TierComplex:  {MaxIterations: 12, MaxToolCalls: 8},
	models.TierCritical: {MaxIterations: 15, MaxToolCalls: 10},
}

// BudgetFor returns the iteration budget for a tier. Overrides merge on top
// of the built-in table; zero fields keep the default. Unknown tiers get the
// simple budget.
func BudgetFor(tier models.Tier, overrides map[models.Tier]Budget) Budget {
	b, ok := tierBudgets[tier]
	if !ok {
		b = tierBudgets[models.TierSimple]
	}
	if o, ok := overrides[tier]; ok {
		if o.MaxIterations > 0 {
			b.MaxIterations = o.MaxIterations
		}
		if o.MaxToolCalls > 0 {
			b.MaxToolCalls = o.MaxToolCalls
		}
	}
	return b
}

// AdjustTier applies the reasoning loop's upgrade rules to a classification.
// Upgrades are monotonic: the returned tier never ranks below res.Tier. The
// reason joins every rule that fired.
func AdjustTier(res *Result, trigger *models.TriggerContext, text string) (models.Tier, string) {
	tier := res.Tier
	var reasons []string

	upgrade := func(to models.Tier, reason string) {
		if to.AtLeast(tier) && to != tier {
			tier = to
			reasons = append(reasons, reason)
		}
	}

	incoming := trigger.IsIncomingMessage()

	if tier == models.TierTrivial && incoming {
		upgrade(models.TierSimple, "incoming messages get at least one full cycle")
	}
	if res.Analysis.IsMultiStep && (tier == models.TierTrivial || tier == models.TierSimple) {
		upgrade(models.TierModerate, "multi-step request")
	}
	if cliProviderPattern.MatchString(text) {
		upgrade(models.TierModerate, "names a cli sub-provider")
	}
	if mentionsFileGeneration(text) {
		upgrade(models.TierModerate, "file generation request")
	}
	if tier == models.TierSimple && res.Analysis.IsCommand && incoming && res.Confidence < 0.75 {
		upgrade(models.TierModerate, "low-confidence command")
	}
	if tier == models.TierSimple && res.Scores[models.TierComplex] > 0 &&
		res.Scores[models.TierComplex] >= 0.7*res.Scores[models.TierSimple] &&
		res.Analysis.WordCount > 5 {
		upgrade(models.TierModerate, "complex score rivals simple")
	}

	return tier, strings.Join(reasons, "; ")
}

// mentionsFileGeneration reports a file-producing verb paired with a
// document format.
func mentionsFileGeneration(text string) bool {
	return fileVerbPattern.MatchString(text) && docFormatPattern.MatchString(text)
}

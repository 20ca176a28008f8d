package usage

import "strings"

// ModelPrice is per-million-token pricing in USD.
type ModelPrice struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Cost computes the dollar cost of one request.
func (p ModelPrice) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*p.InputPer1M +
		float64(outputTokens)/1_000_000*p.OutputPer1M
}

// defaultPrice covers models the table does not know.
var defaultPrice = ModelPrice{InputPer1M: 1, OutputPer1M: 3}

// pricePoint is one substring rule. The table is ordered: the first
// matching substring wins, so specific names come before generic ones.
type pricePoint struct {
	substr string
	price  ModelPrice
}

var priceTable = []pricePoint{
	{"claude-opus-4", ModelPrice{15, 75}},
	{"claude-3-opus", ModelPrice{15, 75}},
	{"opus", ModelPrice{15, 75}},
	{"claude-sonnet-4", ModelPrice{3, 15}},
	{"claude-3-5-sonnet", ModelPrice{3, 15}},
	{"sonnet", ModelPrice{3, 15}},
	{"claude-3-5-haiku", ModelPrice{1, 5}},
	{"claude-3-haiku", ModelPrice{0.25, 1.25}},
	{"haiku", ModelPrice{1, 5}},
	{"gpt-4o-mini", ModelPrice{0.15, 0.60}},
	{"gpt-4o", ModelPrice{2.50, 10}},
	{"gpt-4-turbo", ModelPrice{10, 30}},
	{"gpt-4", ModelPrice{30, 60}},
	{"gpt-3.5-turbo", ModelPrice{0.50, 1.50}},
	{"o1-mini", ModelPrice{3, 12}},
	{"o1", ModelPrice{15, 60}},
	{"gemini-1.5-pro", ModelPrice{1.25, 5}},
	{"gemini-1.5-flash", ModelPrice{0.075, 0.30}},
	{"gemini-2.0-flash", ModelPrice{0.10, 0.40}},
	{"mistral-large", ModelPrice{2, 6}},
	{"mistral-small", ModelPrice{0.2, 0.6}},
}

// PriceFor resolves pricing by substring match on the model name. Free-tier,
// local, and CLI-backed models cost nothing; unknown models fall back to the
// default price.
func PriceFor(provider, model string) ModelPrice {
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.ToLower(strings.TrimSpace(model))

	if isZeroCost(provider, model) {
		return ModelPrice{}
	}

	for _, p := range priceTable {
		if strings.Contains(model, p.substr) {
			return p.price
		}
	}
	return defaultPrice
}

func isZeroCost(provider, model string) bool {
	if provider == "ollama" || provider == "local" || strings.HasSuffix(provider, "-cli") {
		return true
	}
	return strings.HasSuffix(model, ":free") ||
		strings.Contains(model, "ollama") ||
		strings.Contains(model, "local")
}

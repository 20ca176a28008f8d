// Package classify buckets free-text tasks into complexity tiers. A
// deterministic lexical pass always runs; an optional AI second pass can
// replace the tier when the runtime is configured for it. The reasoning
// loop derives its iteration budgets from the resulting tier.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/pkg/models"
)

// Source values for Result.Source.
const (
	SourceLocal = "local"
	SourceAI    = "ai"
)

// aiConfidence replaces the lexical confidence when the AI pass overrides
// the tier.
const aiConfidence = 0.9

// Result is one classification outcome.
type Result struct {
	Tier       models.Tier             `json:"tier"`
	Confidence float64                 `json:"confidence"`
	Scores     map[models.Tier]float64 `json:"scores"`
	Analysis   Analysis                `json:"analysis"`
	Source     string                  `json:"source"`
	Reasoning  string                  `json:"reasoning,omitempty"`
}

// Analysis carries the lexical flags the budget-adjustment rules read.
type Analysis struct {
	WordCount      int  `json:"wordCount"`
	IsGreeting     bool `json:"isGreeting"`
	IsCommand      bool `json:"isCommand"`
	IsQuestion     bool `json:"isQuestion"`
	IsMultiStep    bool `json:"isMultiStep"`
	HasConditional bool `json:"hasConditional"`
	HasAggregation bool `json:"hasAggregation"`
	Coordinations  int  `json:"coordinations"`
}

// Pattern tables for the lexical pass.
var (
	// greetingPattern matches messages that are a greeting or an
	// acknowledgement and nothing else.
	greetingPattern = regexp.MustCompile(`(?i)^(hi|hiya|hey|hello|yo|sup|howdy|good\s+(morning|afternoon|evening|night)|thanks|thank\s+you|thx|ty|ok|okay|cool|nice|great|awesome|perfect|got\s+it|sounds\s+good|will\s+do|bye|goodbye|see\s+you|later|lol|haha|hmm)([\s,!.?]+(there|again|how\s+are\s+you|how's\s+it\s+going|what's\s+up))?[\s!.,?]*$`)

	// multiStepPattern matches connectives that chain distinct actions.
	multiStepPattern = regexp.MustCompile(`(?i)\b(and\s+then|after\s+that|followed\s+by|once\s+(that|this|it)(\s+is|'s)?\s+done|step\s+by\s+step|step\s+\d)\b`)

	// numberedListPattern matches an enumerated list of actions.
	numberedListPattern = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)

	// conditionalPattern matches branching markers.
	conditionalPattern = regexp.MustCompile(`(?i)\b(if|unless|otherwise|in\s+case|depending\s+on|whenever)\b`)

	// aggregationPattern matches work spanning many items at once.
	aggregationPattern = regexp.MustCompile(`(?i)\b(every|all\s+of|each\s+of|across|combine|merge|aggregate|consolidate|overall|entire|everything)\b`)

	// criticalPattern matches urgency and incident language.
	criticalPattern = regexp.MustCompile(`(?i)\b(urgent|urgently|asap|emergency|immediately|critical|right\s+now|production\s+(is\s+)?down|outage|incident|security\s+breach|data\s+loss)\b`)

	// cliProviderPattern matches explicit requests for a CLI-backed
	// sub-provider.
	cliProviderPattern = regexp.MustCompile(`(?i)\b(claude[\s-]?(code|cli)|codex|gemini[\s-]cli|aider)\b`)

	// File generation needs a verb and a document format together.
	fileVerbPattern  = regexp.MustCompile(`(?i)\b(generate|create|make|write|draft|produce|export|prepare|build)\b`)
	docFormatPattern = regexp.MustCompile(`(?i)\b(pdf|docx?|xlsx?|csv|pptx?|spreadsheet|slide\s+deck|slides|presentation|word\s+document|excel|report)\b`)

	questionPattern = regexp.MustCompile(`(?i)^(what|who|whom|whose|when|where|why|how|which|is|are|was|were|do|does|did|can|could|will|would|should|has|have)\b`)
)

// commandVerbs are imperative leads for single-action requests.
var commandVerbs = map[string]bool{
	"send": true, "create": true, "add": true, "delete": true, "remove": true,
	"update": true, "set": true, "schedule": true, "remind": true, "post": true,
	"reply": true, "forward": true, "search": true, "find": true, "get": true,
	"fetch": true, "list": true, "show": true, "check": true, "open": true,
	"start": true, "stop": true, "cancel": true, "pause": true, "resume": true,
	"run": true, "call": true, "message": true, "email": true, "text": true,
	"book": true, "order": true, "buy": true, "download": true, "upload": true,
	"save": true, "write": true, "draft": true, "translate": true, "tell": true,
	"give": true, "make": true, "generate": true, "share": true,
}

// researchVerbs signal open-ended multi-source work.
var researchVerbs = map[string]bool{
	"research": true, "investigate": true, "analyze": true, "analyse": true,
	"compare": true, "evaluate": true, "assess": true, "review": true,
	"study": true, "explore": true, "audit": true, "diagnose": true,
	"benchmark": true, "summarize": true, "synthesize": true, "plan": true,
}

// politenessPrefixes are stripped before looking for a leading verb.
var politenessPrefixes = []string{
	"please ", "pls ", "can you ", "could you ", "would you ", "will you ",
	"can u ", "hey ", "also ",
}

// tierOrder fixes the argmax walk so ties resolve toward the cheaper tier.
var tierOrder = []models.Tier{
	models.TierTrivial, models.TierSimple, models.TierModerate,
	models.TierComplex, models.TierCritical,
}

// Classifier scores task text. A nil router disables the AI pass.
type Classifier struct {
	router ai.Router
	logger *slog.Logger
}

// New builds a classifier. Pass a router only when the configuration
// enables AI-backed classification.
func New(router ai.Router, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{router: router, logger: logger.With("component", "classifier")}
}

// Classify scores text into a tier. The lexical result stands unless an AI
// pass is enabled and produces a usable tier; greetings and empty text
// never reach the model.
func (c *Classifier) Classify(ctx context.Context, text string) *Result {
	res := classifyLexical(text)
	if c.router == nil || res.Analysis.IsGreeting || res.Analysis.WordCount == 0 {
		return res
	}

	tier, reasoning, err := c.aiTier(ctx, text)
	if err != nil {
		c.logger.Warn("ai classification failed, keeping lexical tier",
			"tier", res.Tier, "error", err)
		return res
	}
	res.Tier = tier
	res.Confidence = aiConfidence
	res.Source = SourceAI
	res.Reasoning = reasoning
	return res
}

// classifyLexical runs the deterministic pass. Scores are raw positive
// weights; the winner is the highest bucket, ties resolving low.
func classifyLexical(text string) *Result {
	scores := map[models.Tier]float64{}
	analysis := Analysis{}

	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	words := strings.Fields(lower)
	analysis.WordCount = len(words)

	if analysis.WordCount == 0 {
		scores[models.TierTrivial] = 1
		return &Result{
			Tier:       models.TierTrivial,
			Confidence: 1,
			Scores:     scores,
			Analysis:   analysis,
			Source:     SourceLocal,
		}
	}

	if analysis.WordCount <= 8 && greetingPattern.MatchString(trimmed) {
		analysis.IsGreeting = true
		scores[models.TierTrivial] += 3
	}

	if verb, ok := leadingVerb(lower); ok {
		if commandVerbs[verb] {
			analysis.IsCommand = true
			scores[models.TierSimple] += 2
		}
		if researchVerbs[verb] {
			scores[models.TierComplex] += 2
		}
	}
	for _, w := range words[1:] {
		if researchVerbs[strings.Trim(w, ".,!?")] {
			scores[models.TierComplex] += 1
			break
		}
	}

	if questionPattern.MatchString(lower) || strings.HasSuffix(trimmed, "?") {
		analysis.IsQuestion = true
		scores[models.TierSimple] += 1
	}

	if multiStepPattern.MatchString(lower) || numberedListPattern.MatchString(trimmed) {
		analysis.IsMultiStep = true
		scores[models.TierModerate] += 2
	}

	analysis.Coordinations = strings.Count(lower, " and ") + strings.Count(trimmed, ",")
	if analysis.Coordinations >= 2 {
		scores[models.TierModerate] += 1
	}

	if conditionalPattern.MatchString(lower) {
		analysis.HasConditional = true
		scores[models.TierComplex] += 0.75
	}
	if aggregationPattern.MatchString(lower) {
		analysis.HasAggregation = true
		scores[models.TierComplex] += 1
	}
	if criticalPattern.MatchString(lower) {
		scores[models.TierCritical] += 3
	}

	switch wc := analysis.WordCount; {
	case wc <= 3:
		scores[models.TierTrivial] += 1.5
	case wc <= 12:
		scores[models.TierSimple] += 1
	case wc <= 30:
		scores[models.TierModerate] += 1
	case wc < 60:
		scores[models.TierComplex] += 1
	default:
		scores[models.TierComplex] += 1
		scores[models.TierCritical] += 1
	}

	tier := models.TierSimple
	best, total := 0.0, 0.0
	for _, t := range tierOrder {
		total += scores[t]
		if scores[t] > best {
			best, tier = scores[t], t
		}
	}

	confidence := 0.5
	if total > 0 {
		confidence = best / total
	}

	return &Result{
		Tier:       tier,
		Confidence: confidence,
		Scores:     scores,
		Analysis:   analysis,
		Source:     SourceLocal,
	}
}

// leadingVerb returns the first word after politeness prefixes.
func leadingVerb(lower string) (string, bool) {
	s := lower
	for stripped := true; stripped; {
		stripped = false
		for _, p := range politenessPrefixes {
			if strings.HasPrefix(s, p) {
				s = s[len(p):]
				stripped = true
			}
		}
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", false
	}
	return strings.Trim(fields[0], ".,!?"), true
}

const overridePromptFmt = `Classify the complexity of this request as exactly one of: trivial, simple, moderate, complex, critical.

Request:
%s

Reply with only the tier name.`

// aiTier asks the router for a tier. The call is pinned to the cheapest
// route; any parse failure falls back to the lexical result.
func (c *Classifier) aiTier(ctx context.Context, text string) (models.Tier, string, error) {
	resp, err := c.router.Process(ctx, &ai.Request{
		Task:        "classify task complexity",
		RequestType: "classify",
		ForceTier:   models.TierTrivial,
		Messages: []ai.Message{
			{Role: "user", Content: fmt.Sprintf(overridePromptFmt, text)},
		},
	}, &ai.Options{MaxTokens: 16})
	if err != nil {
		return "", "", err
	}
	tier, ok := parseTier(resp.Content)
	if !ok {
		return "", "", fmt.Errorf("unparseable tier %q", firstLine(resp.Content))
	}
	return tier, strings.TrimSpace(resp.Content), nil
}

// parseTier finds a tier name anywhere in the model output.
func parseTier(content string) (models.Tier, bool) {
	lower := strings.ToLower(content)
	for _, t := range []models.Tier{
		models.TierCritical, models.TierComplex, models.TierModerate,
		models.TierSimple, models.TierTrivial,
	} {
		if strings.Contains(lower, string(t)) {
			return t, true
		}
	}
	return "", false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

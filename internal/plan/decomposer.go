// Package plan turns complex goals into bounded step DAGs and drives their
// execution. The decomposer asks the model for a structured plan, validates
// it against a JSON schema, and derives the execution order; the executor
// walks that order with a bounded mini reasoning loop per step and a final
// synthesis pass.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// Decomposition trigger signals. A goal that trips enough of them is worth
// a plan instead of a reactive run.
var (
	multiEntityPattern = regexp.MustCompile(`(?i)\b(and|also|plus|then)\b`)
	multiStepPattern   = regexp.MustCompile(`(?i)\b(first|second|third|then|next|after(wards)?|finally|lastly|step\s*\d)\b`)
	researchPattern    = regexp.MustCompile(`(?i)\b(research|investigate|find\s+out|look\s+up|compare|analy[sz]e|gather|explore|study)\b`)
	platformPattern    = regexp.MustCompile(`(?i)\b(email|gmail|telegram|whatsapp|slack|calendar|sheets?|drive|sms)\b`)
	conditionalPattern = regexp.MustCompile(`(?i)\b(if|unless|otherwise|in\s+case|depending\s+on|whenever)\b`)
	aggregationPattern = regexp.MustCompile(`(?i)\b(every|all\s+of|each\s+of|across|combine|merge|aggregate|consolidate|overall|entire|summar(y|ize|ise))\b`)
)

type triggers struct {
	multiEntity   bool
	multiStep     bool
	research      bool
	multiPlatform bool
	conditional   bool
	aggregation   bool
}

func detectTriggers(text string) triggers {
	platforms := make(map[string]struct{})
	for _, m := range platformPattern.FindAllString(text, -1) {
		p := strings.ToLower(m)
		if p == "sheets" {
			p = "sheet"
		}
		platforms[p] = struct{}{}
	}
	return triggers{
		multiEntity:   multiEntityPattern.MatchString(text),
		multiStep:     multiStepPattern.MatchString(text),
		research:      researchPattern.MatchString(text),
		multiPlatform: len(platforms) >= 2,
		conditional:   conditionalPattern.MatchString(text),
		aggregation:   aggregationPattern.MatchString(text),
	}
}

func (t triggers) count() int {
	n := 0
	for _, hit := range []bool{t.multiEntity, t.multiStep, t.research, t.multiPlatform, t.conditional, t.aggregation} {
		if hit {
			n++
		}
	}
	return n
}

// ShouldDecompose decides whether a request deserves a plan. Critical work
// always does; complex work needs two trigger signals; moderate work needs
// an explicitly multi-step, multi-entity shape.
func ShouldDecompose(text string, tier models.Tier) bool {
	switch tier {
	case models.TierCritical:
		return true
	case models.TierComplex:
		return detectTriggers(text).count() >= 2
	case models.TierModerate:
		t := detectTriggers(text)
		return t.multiStep && t.multiEntity
	default:
		return false
	}
}

const planSchemaJSON = `{
  "type": "object",
  "required": ["goal", "steps"],
  "properties": {
    "goal": {"type": "string", "minLength": 1},
    "estimatedComplexity": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title", "description"],
        "properties": {
          "id": {"type": "string"},
          "title": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "requiredTools": {"type": "array", "items": {"type": "string"}},
          "requiredSkills": {"type": "array", "items": {"type": "string"}},
          "dependsOn": {"type": "array", "items": {"type": "string"}},
          "estimatedIterations": {"type": "number"},
          "canParallelize": {"type": "boolean"},
          "needsHuman": {"type": "boolean"}
        }
      }
    },
    "synthesisStep": {
      "type": "object",
      "properties": {"description": {"type": "string"}}
    }
  }
}`

var planSchema = jsonschema.MustCompileString("plan.json", planSchemaJSON)

const decomposeSystem = `You break a goal into a small executable plan. Reply with one JSON object and nothing else:
{
  "goal": "one line restating the goal",
  "estimatedComplexity": "moderate" | "complex" | "critical",
  "steps": [
    {
      "id": "step-1",
      "title": "short imperative title",
      "description": "what to do and what the step must produce",
      "requiredTools": ["tool ids, if known"],
      "requiredSkills": ["communication", "analysis", "automation", "integration", "management"],
      "dependsOn": ["ids of earlier steps whose output this needs"],
      "estimatedIterations": 3,
      "canParallelize": false,
      "needsHuman": false
    }
  ],
  "synthesisStep": {"description": "how to combine the step results into the final answer"}
}
Rules: at most 6 steps. Size each step for roughly 3 to 5 tool calls. Set needsHuman true only when a person must provide something the tools cannot. dependsOn may only reference earlier step ids.`

type planPayload struct {
	Goal                string `json:"goal"`
	EstimatedComplexity string `json:"estimatedComplexity"`
	Steps               []struct {
		ID                  string   `json:"id"`
		Title               string   `json:"title"`
		Description         string   `json:"description"`
		RequiredTools       []string `json:"requiredTools"`
		RequiredSkills      []string `json:"requiredSkills"`
		DependsOn           []string `json:"dependsOn"`
		EstimatedIterations float64  `json:"estimatedIterations"`
		CanParallelize      bool     `json:"canParallelize"`
		NeedsHuman          bool     `json:"needsHuman"`
	} `json:"steps"`
	SynthesisStep struct {
		Description string `json:"description"`
	} `json:"synthesisStep"`
}

// Decomposer produces validated draft plans.
type Decomposer struct {
	router ai.Router
	plans  store.PlanStore
	logger *slog.Logger
	now    func() time.Time
}

// NewDecomposer wires the decomposer. plans may be nil; drafts are then
// returned without being persisted.
func NewDecomposer(router ai.Router, plans store.PlanStore, logger *slog.Logger) *Decomposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decomposer{
		router: router,
		plans:  plans,
		logger: logger.With("component", "plan"),
		now:    time.Now,
	}
}

// Decompose satisfies the generatePlan tool seam.
func (d *Decomposer) Decompose(ctx context.Context, tctx *models.ToolContext, goal string) (*models.Plan, error) {
	return d.DecomposeTask(ctx, tctx.AgentID, tctx.UserID, goal, "")
}

// DecomposeTask asks the model for a plan, validates the JSON against the
// plan schema, caps it at MaxPlanSteps, and computes the execution order.
// The returned plan is a persisted draft.
func (d *Decomposer) DecomposeTask(ctx context.Context, agentID, userID, task, agentContext string) (*models.Plan, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, fmt.Errorf("plan: task is required")
	}

	user := "Goal: " + task
	if agentContext = strings.TrimSpace(agentContext); agentContext != "" {
		user += "\n\nAgent context:\n" + agentContext
	}
	resp, err := d.router.Process(ctx, &ai.Request{
		Task: "plan decomposition",
		Messages: []ai.Message{
			{Role: "system", Content: decomposeSystem},
			{Role: "user", Content: user},
		},
		UserID:      userID,
		AgentID:     agentID,
		RequestType: "plan",
		ForceTier:   models.TierComplex,
	}, &ai.Options{Temperature: 0.2, MaxTokens: 2048})
	if err != nil {
		return nil, fmt.Errorf("plan: decompose call: %w", err)
	}

	payload, err := parsePlanPayload(resp.Content)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	plan := &models.Plan{
		ID:                  uuid.New().String(),
		AgentID:             agentID,
		UserID:              userID,
		Goal:                strings.TrimSpace(payload.Goal),
		Status:              models.PlanDraft,
		EstimatedComplexity: strings.TrimSpace(payload.EstimatedComplexity),
		SynthesisStep:       strings.TrimSpace(payload.SynthesisStep.Description),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if plan.Goal == "" {
		plan.Goal = task
	}

	steps := payload.Steps
	if len(steps) > models.MaxPlanSteps {
		d.logger.Warn("plan truncated", "agent_id", agentID, "steps", len(steps), "max", models.MaxPlanSteps)
		steps = steps[:models.MaxPlanSteps]
	}
	kept := make(map[string]bool, len(steps))
	for i, s := range steps {
		id := strings.TrimSpace(s.ID)
		if id == "" || kept[id] {
			id = fmt.Sprintf("step-%d", i+1)
		}
		kept[id] = true
		iterations := int(s.EstimatedIterations)
		if iterations <= 0 {
			iterations = MaxStepIterations
		}
		plan.Steps = append(plan.Steps, models.PlanStep{
			ID:                  id,
			Title:               strings.TrimSpace(s.Title),
			Description:         strings.TrimSpace(s.Description),
			RequiredTools:       s.RequiredTools,
			RequiredSkills:      s.RequiredSkills,
			DependsOn:           s.DependsOn,
			EstimatedIterations: iterations,
			CanParallelize:      s.CanParallelize,
			NeedsHuman:          s.NeedsHuman,
			Status:              models.StepPending,
		})
	}
	// Truncation may orphan dependencies; drop references to removed steps.
	for i := range plan.Steps {
		deps := plan.Steps[i].DependsOn[:0]
		for _, dep := range plan.Steps[i].DependsOn {
			if kept[dep] {
				deps = append(deps, dep)
			}
		}
		plan.Steps[i].DependsOn = deps
	}

	order, groups, ok := plan.TopoSort()
	if !ok {
		return nil, fmt.Errorf("plan: step dependencies contain a cycle")
	}
	plan.ExecutionOrder = order
	plan.ParallelGroups = groups

	if d.plans != nil {
		if err := d.plans.Create(ctx, plan); err != nil {
			return nil, fmt.Errorf("plan: persist draft: %w", err)
		}
	}
	d.logger.Info("plan decomposed",
		"agent_id", agentID,
		"plan_id", plan.ID,
		"steps", len(plan.Steps),
		"complexity", plan.EstimatedComplexity)
	return plan, nil
}

func parsePlanPayload(content string) (*planPayload, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("plan: no JSON object in decomposition reply")
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("plan: malformed decomposition JSON: %w", err)
	}
	if err := planSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("plan: decomposition failed schema validation: %w", err)
	}
	var payload planPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("plan: decode decomposition: %w", err)
	}
	return &payload, nil
}

// extractJSON pulls the outermost JSON object out of a model reply,
// tolerating fenced code blocks and prose around it.
func extractJSON(content string) string {
	if i := strings.Index(content, "```"); i >= 0 {
		rest := content[i+3:]
		if j := strings.Index(rest, "\n"); j >= 0 {
			rest = rest[j+1:]
		}
		if k := strings.Index(rest, "```"); k >= 0 {
			content = rest[:k]
		}
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

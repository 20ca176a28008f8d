package plan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// MaxStepIterations bounds the mini reasoning loop that works one plan step.
const MaxStepIterations = 3

// StepResult carries one finished step into later prompts and synthesis.
type StepResult struct {
	StepID  string
	Title   string
	Status  models.StepStatus
	Summary string
}

// StepRequest asks the runner for one bounded mini loop. Prior holds the
// results of every step executed so far, in execution order.
type StepRequest struct {
	Plan          *models.Plan
	Step          *models.PlanStep
	Prior         []StepResult
	Trigger       *models.TriggerContext
	MaxIterations int
}

// StepOutcome is what the mini loop produced for one step.
type StepOutcome struct {
	Summary string
	// Blocked means the step requested human input and must wait.
	Blocked bool
	Failed  bool
	Error   string
}

// StepRunner executes a single plan step. The reasoning loop provides the
// implementation, reusing the agent's system prompt and tool surface.
type StepRunner interface {
	RunStep(ctx context.Context, req *StepRequest) (*StepOutcome, error)
}

// MemoryWriter records the plan execution memory.
type MemoryWriter interface {
	Create(ctx context.Context, m *models.Memory) error
}

// Executor walks a plan's execution order step by step, handles failures and
// human-input blocks, and synthesizes the final answer.
type Executor struct {
	router   ai.Router
	stores   store.StoreSet
	runner   StepRunner
	memories MemoryWriter
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor wires a plan executor. memories may be nil.
func NewExecutor(router ai.Router, stores store.StoreSet, runner StepRunner, memories MemoryWriter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		router:   router,
		stores:   stores,
		runner:   runner,
		memories: memories,
		logger:   logger.With("component", "plan"),
		now:      time.Now,
	}
}

// ExecuteParams carries one plan run. SystemPrompt is the agent's global
// system prompt, reused for the continue/abort decision and synthesis.
type ExecuteParams struct {
	Plan         *models.Plan
	Trigger      *models.TriggerContext
	SystemPrompt string
}

// Execute runs the plan to completion. Steps run serially in execution
// order; a failed step triggers a one-shot continue-or-abort decision when
// work remains, and steps whose dependencies did not complete are skipped.
// The plan ends completed, waiting_human (any step blocked), or aborted.
func (e *Executor) Execute(ctx context.Context, p ExecuteParams) (*models.Plan, error) {
	plan := p.Plan
	if plan == nil || len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan: nothing to execute")
	}
	if e.runner == nil {
		return nil, fmt.Errorf("plan: no step runner configured")
	}
	order := plan.ExecutionOrder
	if len(order) == 0 {
		var ok bool
		order, _, ok = plan.TopoSort()
		if !ok {
			return nil, fmt.Errorf("plan: step dependencies contain a cycle")
		}
		plan.ExecutionOrder = order
	}

	index := make(map[string]*models.PlanStep, len(plan.Steps))
	for i := range plan.Steps {
		index[plan.Steps[i].ID] = &plan.Steps[i]
	}

	e.openRootTask(ctx, plan)
	plan.Status = models.PlanRunning
	e.savePlan(ctx, plan)
	e.respond(p.Trigger, e.acknowledgment(plan))

	var results []StepResult
	aborted := false
	abortReason := ""
	for pos, id := range order {
		step := index[id]
		if step == nil {
			continue
		}
		if !plan.Ready(id) {
			step.Status = models.StepSkipped
			step.Result = "skipped: a dependency did not complete"
			results = append(results, StepResult{StepID: id, Title: step.Title, Status: step.Status, Summary: step.Result})
			e.savePlan(ctx, plan)
			continue
		}

		e.openStepTask(ctx, plan, step)
		step.Status = models.StepRunning
		e.savePlan(ctx, plan)

		outcome, err := e.runner.RunStep(ctx, &StepRequest{
			Plan:          plan,
			Step:          step,
			Prior:         results,
			Trigger:       p.Trigger,
			MaxIterations: MaxStepIterations,
		})
		switch {
		case err != nil || (outcome != nil && outcome.Failed):
			reason := ""
			if err != nil {
				reason = err.Error()
			} else {
				reason = outcome.Error
				if reason == "" {
					reason = outcome.Summary
				}
			}
			if reason == "" {
				reason = "step failed"
			}
			step.Status = models.StepFailed
			step.Error = reason
			e.closeStepTask(ctx, step, models.TaskFailed, reason)
			results = append(results, StepResult{StepID: id, Title: step.Title, Status: step.Status, Summary: reason})
			e.logger.Warn("plan step failed", "plan_id", plan.ID, "step", id, "error", reason)
			if pos < len(order)-1 && !e.shouldContinue(ctx, p, step, reason) {
				aborted = true
				abortReason = reason
				e.skipRemaining(ctx, plan, index, order[pos+1:], &results)
			}
		case outcome.Blocked:
			step.Status = models.StepBlocked
			note := outcome.Summary
			if note == "" {
				note = "waiting for human input"
			}
			step.Result = note
			e.closeStepTask(ctx, step, models.TaskBlocked, note)
			results = append(results, StepResult{StepID: id, Title: step.Title, Status: step.Status, Summary: note})
			e.respond(p.Trigger, fmt.Sprintf("I need your input to continue %q: %s", step.Title, note))
		default:
			step.Status = models.StepCompleted
			step.Result = strings.TrimSpace(outcome.Summary)
			e.closeStepTask(ctx, step, models.TaskCompleted, step.Result)
			results = append(results, StepResult{StepID: id, Title: step.Title, Status: step.Status, Summary: step.Result})
		}
		e.savePlan(ctx, plan)
		if aborted {
			break
		}
	}

	blocked := false
	failed := false
	completed := 0
	for _, r := range results {
		switch r.Status {
		case models.StepBlocked:
			blocked = true
		case models.StepFailed:
			failed = true
		case models.StepCompleted:
			completed++
		}
	}

	switch {
	case aborted:
		plan.Status = models.PlanAborted
		plan.Summary = fmt.Sprintf("Plan aborted after a step failed: %s", abortReason)
		e.respond(p.Trigger, fmt.Sprintf("I stopped the plan for %q because a step failed: %s", plan.Goal, abortReason))
		e.closeRootTask(ctx, plan, models.TaskCancelled)
	case blocked:
		plan.Summary = e.synthesize(ctx, p, results)
		plan.Status = models.PlanWaiting
		e.respond(p.Trigger, plan.Summary)
		e.closeRootTask(ctx, plan, models.TaskBlocked)
	case failed && completed == 0:
		plan.Summary = e.synthesize(ctx, p, results)
		plan.Status = models.PlanFailed
		e.respond(p.Trigger, plan.Summary)
		e.closeRootTask(ctx, plan, models.TaskFailed)
	default:
		plan.Summary = e.synthesize(ctx, p, results)
		plan.Status = models.PlanCompleted
		e.respond(p.Trigger, plan.Summary)
		e.closeRootTask(ctx, plan, models.TaskCompleted)
	}
	e.savePlan(ctx, plan)

	e.recordMemory(ctx, plan, completed)
	e.recordActivity(ctx, plan, completed)
	e.logger.Info("plan finished",
		"plan_id", plan.ID,
		"agent_id", plan.AgentID,
		"status", plan.Status,
		"completed", completed,
		"steps", len(plan.Steps))
	return plan, nil
}

func (e *Executor) acknowledgment(plan *models.Plan) string {
	n := len(plan.Steps)
	if n == 1 {
		return fmt.Sprintf("On it. I planned one step for %q and will report back when it is done.", plan.Goal)
	}
	return fmt.Sprintf("On it. I broke %q into %d steps and will work through them now.", plan.Goal, n)
}

// shouldContinue makes the one-shot continue-or-abort call after a step
// failure. Only an explicit abort stops the plan.
func (e *Executor) shouldContinue(ctx context.Context, p ExecuteParams, failed *models.PlanStep, reason string) bool {
	system := p.SystemPrompt
	if system == "" {
		system = "You are executing a multi-step plan for a user."
	}
	user := fmt.Sprintf(
		"Step %q of the current plan failed: %s\nRemaining steps may or may not still make sense without its output.\nReply with exactly one word: continue or abort.",
		failed.Title, reason)
	resp, err := e.router.Process(ctx, &ai.Request{
		Task: "plan failure decision",
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		UserID:      p.Plan.UserID,
		AgentID:     p.Plan.AgentID,
		RequestType: "plan",
	}, &ai.Options{MaxTokens: 16})
	if err != nil {
		e.logger.Warn("continue/abort call failed, continuing", "plan_id", p.Plan.ID, "error", err)
		return true
	}
	return !strings.Contains(strings.ToLower(resp.Content), "abort")
}

func (e *Executor) skipRemaining(ctx context.Context, plan *models.Plan, index map[string]*models.PlanStep, rest []string, results *[]StepResult) {
	for _, id := range rest {
		step := index[id]
		if step == nil || step.Status != models.StepPending {
			continue
		}
		step.Status = models.StepSkipped
		step.Result = "skipped: plan aborted"
		e.closeStepTask(ctx, step, models.TaskCancelled, step.Result)
		*results = append(*results, StepResult{StepID: id, Title: step.Title, Status: step.Status, Summary: step.Result})
	}
	e.savePlan(ctx, plan)
}

// synthesize asks the model to fold the step results into the final reply.
// If the call fails the enumerated results stand in for it.
func (e *Executor) synthesize(ctx context.Context, p ExecuteParams, results []StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The plan for %q has finished executing. Step results:\n", p.Plan.Goal)
	for _, r := range results {
		switch r.Status {
		case models.StepBlocked:
			fmt.Fprintf(&b, "- %s: BLOCKED awaiting %s\n", r.Title, r.Summary)
		case models.StepFailed:
			fmt.Fprintf(&b, "- %s: FAILED (%s)\n", r.Title, r.Summary)
		case models.StepSkipped:
			fmt.Fprintf(&b, "- %s: SKIPPED\n", r.Title)
		default:
			fmt.Fprintf(&b, "- %s: %s\n", r.Title, r.Summary)
		}
	}
	if p.Plan.SynthesisStep != "" {
		fmt.Fprintf(&b, "\nSynthesis guidance: %s\n", p.Plan.SynthesisStep)
	}
	b.WriteString("\nWrite the final reply to the user. Summarize what was accomplished, call out anything blocked or failed, and keep it conversational.")

	system := p.SystemPrompt
	if system == "" {
		system = "You are reporting the outcome of a multi-step plan to the user."
	}
	resp, err := e.router.Process(ctx, &ai.Request{
		Task: "plan synthesis",
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: b.String()},
		},
		UserID:      p.Plan.UserID,
		AgentID:     p.Plan.AgentID,
		RequestType: "plan",
	}, &ai.Options{MaxTokens: 1024})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			e.logger.Warn("plan synthesis failed, using step results", "plan_id", p.Plan.ID, "error", err)
		}
		return fallbackSummary(p.Plan, results)
	}
	return strings.TrimSpace(resp.Content)
}

func fallbackSummary(plan *models.Plan, results []StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Finished working on %q.", plan.Goal)
	for _, r := range results {
		switch r.Status {
		case models.StepCompleted:
			fmt.Fprintf(&b, " %s: done.", r.Title)
		case models.StepBlocked:
			fmt.Fprintf(&b, " %s: waiting on your input.", r.Title)
		case models.StepFailed:
			fmt.Fprintf(&b, " %s: failed.", r.Title)
		}
	}
	return b.String()
}

func (e *Executor) openRootTask(ctx context.Context, plan *models.Plan) {
	if e.stores.Tasks == nil {
		return
	}
	now := e.now().UTC()
	root := &models.Task{
		ID:           uuid.New().String(),
		UserID:       plan.UserID,
		Title:        "Plan: " + truncate(plan.Goal, 120),
		Description:  plan.Goal,
		Type:         models.TaskTypePlanRoot,
		Status:       models.TaskInProgress,
		AssigneeID:   plan.AgentID,
		AssigneeKind: "agent",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.stores.Tasks.Create(ctx, root); err != nil {
		e.logger.Warn("create plan root task", "plan_id", plan.ID, "error", err)
		return
	}
	plan.RootTaskID = root.ID
}

func (e *Executor) closeRootTask(ctx context.Context, plan *models.Plan, status models.TaskStatus) {
	if e.stores.Tasks == nil || plan.RootTaskID == "" {
		return
	}
	task, err := e.stores.Tasks.Get(ctx, plan.RootTaskID)
	if err != nil {
		e.logger.Warn("load plan root task", "plan_id", plan.ID, "error", err)
		return
	}
	now := e.now().UTC()
	task.Status = status
	task.AISummary = truncate(plan.Summary, 500)
	task.UpdatedAt = now
	if status == models.TaskCompleted {
		task.CompletedAt = &now
	}
	if err := e.stores.Tasks.Update(ctx, task); err != nil {
		e.logger.Warn("update plan root task", "plan_id", plan.ID, "error", err)
	}
}

func (e *Executor) openStepTask(ctx context.Context, plan *models.Plan, step *models.PlanStep) {
	if e.stores.Tasks == nil {
		return
	}
	now := e.now().UTC()
	task := &models.Task{
		ID:           uuid.New().String(),
		UserID:       plan.UserID,
		Title:        step.Title,
		Description:  step.Description,
		Type:         models.TaskTypePlanStep,
		Status:       models.TaskInProgress,
		AssigneeID:   plan.AgentID,
		AssigneeKind: "agent",
		ParentTaskID: plan.RootTaskID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.stores.Tasks.Create(ctx, task); err != nil {
		e.logger.Warn("create plan step task", "plan_id", plan.ID, "step", step.ID, "error", err)
		return
	}
	step.TaskID = task.ID
}

func (e *Executor) closeStepTask(ctx context.Context, step *models.PlanStep, status models.TaskStatus, summary string) {
	if e.stores.Tasks == nil || step.TaskID == "" {
		return
	}
	task, err := e.stores.Tasks.Get(ctx, step.TaskID)
	if err != nil {
		e.logger.Warn("load plan step task", "step", step.ID, "error", err)
		return
	}
	now := e.now().UTC()
	task.Status = status
	task.AISummary = truncate(summary, 500)
	task.UpdatedAt = now
	if status == models.TaskCompleted {
		task.CompletedAt = &now
	}
	if err := e.stores.Tasks.Update(ctx, task); err != nil {
		e.logger.Warn("update plan step task", "step", step.ID, "error", err)
	}
}

func (e *Executor) savePlan(ctx context.Context, plan *models.Plan) {
	if e.stores.Plans == nil {
		return
	}
	plan.UpdatedAt = e.now().UTC()
	if err := e.stores.Plans.Update(ctx, plan); err != nil {
		e.logger.Warn("save plan", "plan_id", plan.ID, "error", err)
	}
}

func (e *Executor) recordMemory(ctx context.Context, plan *models.Plan, completed int) {
	if e.memories == nil {
		return
	}
	content := fmt.Sprintf("Executed plan %q: %d of %d steps completed, outcome %s. %s",
		plan.Goal, completed, len(plan.Steps), plan.Status, truncate(plan.Summary, 400))
	mem := &models.Memory{
		AgentID:       plan.AgentID,
		UserID:        plan.UserID,
		Kind:          models.MemoryPlanExecution,
		Content:       content,
		Importance:    0.6,
		Tags:          []string{"plan"},
		RelatedEntity: plan.Goal,
		SessionID:     plan.ID,
	}
	if err := e.memories.Create(ctx, mem); err != nil {
		e.logger.Warn("record plan memory", "plan_id", plan.ID, "error", err)
	}
}

func (e *Executor) recordActivity(ctx context.Context, plan *models.Plan, completed int) {
	if e.stores.Activity == nil {
		return
	}
	entry := &models.ActivityEntry{
		ID:      uuid.New().String(),
		AgentID: plan.AgentID,
		UserID:  plan.UserID,
		Kind:    "plan_execution",
		Summary: fmt.Sprintf("Plan %q finished with status %s (%d/%d steps)", truncate(plan.Goal, 80), plan.Status, completed, len(plan.Steps)),
		Detail: map[string]any{
			"plan_id": plan.ID,
			"status":  string(plan.Status),
			"steps":   len(plan.Steps),
		},
		CreatedAt: e.now().UTC(),
	}
	if err := e.stores.Activity.Append(ctx, entry); err != nil {
		e.logger.Warn("record plan activity", "plan_id", plan.ID, "error", err)
	}
}

func (e *Executor) respond(trigger *models.TriggerContext, message string) {
	if trigger == nil || trigger.Respond == nil || strings.TrimSpace(message) == "" {
		return
	}
	if err := trigger.Respond(message); err != nil {
		e.logger.Warn("deliver plan update", "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/internal/plan"
	"github.com/legionruntime/legion/internal/toolcall"
	"github.com/legionruntime/legion/pkg/models"
)

const planDrivenHint = "Before answering: if this request needs several distinct pieces of work, " +
	"call generatePlan with the goal. If you can handle it directly, proceed without planning."

// planDrivenEligible reports whether the turn warrants an explicit planning
// phase. Only direct chat turns of at least moderate complexity qualify;
// sub-agents and task responses always run reactively.
func (l *Loop) planDrivenEligible(st *runState) bool {
	if l.deps.Decomposer == nil {
		return false
	}
	switch st.tier {
	case models.TierModerate, models.TierComplex, models.TierCritical:
	default:
		return false
	}
	if st.tctx.Type != models.TriggerIncomingMessage {
		return false
	}
	if st.tctx.SubAgentTask != "" || st.tctx.IsTaskResponse() {
		return false
	}
	return st.sel.Has("generatePlan")
}

// runPlanDriven probes the model once: a generatePlan call builds and
// executes a plan, anything else declines and the reactive loop takes over.
func (l *Loop) runPlanDriven(ctx context.Context, st *runState) (*models.RunResult, bool) {
	msgs := []ai.Message{
		{Role: "system", Content: st.prompt.System},
		{Role: "user", Content: st.prompt.User + "\n\n" + planDrivenHint},
	}
	resp, err := l.complete(ctx, st, msgs)
	if err != nil {
		st.log.Warn("planning probe failed, running reactively", "error", err)
		return nil, false
	}
	st.tokens += int64(resp.Usage.TotalTokens)
	st.iterations++

	calls := toolcall.Parse(resp.Content, resp.NativeToolCalls, resp.UsedNativeTools)
	var probe *models.ToolCall
	for i := range calls {
		if calls[i].Action == "generatePlan" {
			probe = &calls[i]
			break
		}
	}
	if probe == nil {
		st.log.Debug("model declined to plan, running reactively")
		return nil, false
	}

	call, verr := toolcall.Validate(*probe, st.sel.IDs(), st.sel.Schemas())
	if verr != nil {
		st.log.Warn("generatePlan call invalid, running reactively", "error", verr)
		return nil, false
	}

	l.emit("tool:start", map[string]any{"agent_id": st.profile.ID, "run_id": st.id, "tool": call.Action})
	outcome := l.deps.Recovery.Execute(ctx, call.Action, call.Params, st.toolContext())
	st.toolCalls++
	status := string(models.ActionExecuted)
	if !outcome.Success {
		status = string(models.ActionFailed)
	}
	l.emit("tool:result", map[string]any{"agent_id": st.profile.ID, "run_id": st.id, "tool": call.Action, "status": status})
	if l.deps.Metrics != nil {
		l.deps.Metrics.ToolExecutions.WithLabelValues(call.Action, status).Inc()
	}

	if !outcome.Success {
		st.record(models.ActionRecord{
			Tool: call.Action, Params: call.Params, Reasoning: call.Reasoning,
			Status: models.ActionFailed, Error: outcome.Failure.Error(), At: l.now().UTC(),
		})
		st.log.Warn("plan generation failed, running reactively", "error", outcome.Failure)
		return nil, false
	}

	planID := planIDFrom(outcome.Result.Result)
	st.record(models.ActionRecord{
		Tool: call.Action, Params: call.Params, Reasoning: call.Reasoning,
		Status: models.ActionExecuted,
		Result: SummarizeResult(call.Action, outcome.Result.Result, maxSummaryChars),
		At:     l.now().UTC(),
	})
	if planID == "" {
		st.log.Warn("plan result carried no plan id, running reactively")
		return nil, false
	}

	p, err := l.deps.Stores.Plans.Get(ctx, planID)
	if err != nil {
		st.log.Warn("generated plan not found, running reactively", "plan_id", planID, "error", err)
		return nil, false
	}
	if len(p.Steps) < 2 {
		st.log.Debug("plan too thin, running reactively", "steps", len(p.Steps))
		return nil, false
	}

	out, err := l.executePlan(ctx, st, p)
	if err != nil {
		st.log.Warn("plan execution failed, running reactively", "plan_id", planID, "error", err)
		return nil, false
	}
	return out, true
}

// runDecomposed splits an obviously multi-part goal up front, without asking
// the model first. Single-step plans fall back to the reactive loop.
func (l *Loop) runDecomposed(ctx context.Context, st *runState, goal string) (*models.RunResult, bool) {
	p, err := l.deps.Decomposer.DecomposeTask(ctx, st.profile.ID, st.profile.UserID, goal, "")
	if err != nil {
		st.log.Warn("decomposition failed, running reactively", "error", err)
		return nil, false
	}
	if len(p.Steps) < 2 {
		st.log.Debug("decomposition produced a thin plan, running reactively", "steps", len(p.Steps))
		return nil, false
	}
	out, err := l.executePlan(ctx, st, p)
	if err != nil {
		st.log.Warn("plan execution failed, running reactively", "plan_id", p.ID, "error", err)
		return nil, false
	}
	return out, true
}

// executePlan drives the plan with this run as the step runner. The plan
// executor owns step ordering, task bookkeeping, and the final synthesis.
func (l *Loop) executePlan(ctx context.Context, st *runState, p *models.Plan) (*models.RunResult, error) {
	runner := &stepRunner{loop: l, st: st}
	exec := plan.NewExecutor(l.deps.Router, l.deps.Stores, runner, l.deps.Memories, l.logger)
	executed, err := exec.Execute(ctx, plan.ExecuteParams{
		Plan:         p,
		Trigger:      st.tctx,
		SystemPrompt: st.prompt.System,
	})
	if err != nil {
		return nil, err
	}

	out := &models.RunResult{
		Actions:      st.actions,
		Iterations:   st.iterations + runner.iterations + 1,
		TokensUsed:   st.tokens,
		FinalThought: executed.Summary,
		PlanID:       executed.ID,
	}
	return l.finish(ctx, st, out)
}

// stepRunner is the plan.StepRunner for one run: a bounded mini loop per
// step, sharing the parent run's tool surface, budgets, and action log.
type stepRunner struct {
	loop       *Loop
	st         *runState
	iterations int
}

func (r *stepRunner) RunStep(ctx context.Context, req *plan.StepRequest) (*plan.StepOutcome, error) {
	l, st := r.loop, r.st

	maxIter := req.Step.EstimatedIterations
	if maxIter <= 0 {
		maxIter = req.MaxIterations
	}
	if maxIter <= 0 {
		maxIter = plan.MaxStepIterations
	}

	msgs := []ai.Message{
		{Role: "system", Content: st.prompt.System},
		{Role: "user", Content: stepPrompt(req)},
	}

	var lastSummary string
	for i := 0; i < maxIter; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("step %s: %w", req.Step.ID, err)
		}
		if interrupted, err := l.waitIfPaused(ctx, st); err != nil {
			return nil, err
		} else if interrupted {
			return &plan.StepOutcome{Failed: true, Error: interruptedThought}, nil
		}

		r.iterations++
		resp, err := l.complete(ctx, st, msgs)
		if err != nil {
			return nil, fmt.Errorf("step %s: ai call: %w", req.Step.ID, err)
		}
		st.tokens += int64(resp.Usage.TotalTokens)

		calls := toolcall.Parse(resp.Content, resp.NativeToolCalls, resp.UsedNativeTools)
		if len(calls) == 0 {
			text := strings.TrimSpace(resp.Content)
			if text != "" && !IsErrorShaped(text) {
				return &plan.StepOutcome{Summary: text}, nil
			}
			msgs = append(msgs, ai.Message{Role: "user", Content: "Work the step with tool calls, then finish with done and a one-line summary."})
			continue
		}

		msgs = append(msgs, ai.Message{Role: "assistant", Content: resp.Content})

		for _, raw := range calls {
			switch raw.Action {
			case "done", "silent":
				summary := doneSummary(raw)
				if summary == "" {
					summary = lastSummary
				}
				if summary == "" {
					summary = "step finished"
				}
				return &plan.StepOutcome{Summary: summary}, nil
			}

			call, verr := toolcall.Validate(raw, st.sel.IDs(), st.sel.Schemas())
			if verr != nil {
				msgs = append(msgs, ai.Message{Role: "user", Content: fmt.Sprintf("Tool call rejected: %v.", verr)})
				break
			}

			// A human-input request blocks the whole plan, not just this call.
			if call.Action == "requestHumanInput" {
				question, _ := call.Params["question"].(string)
				fb, _ := l.executeCall(ctx, st, call)
				msgs = append(msgs, ai.Message{Role: "user", Content: fb})
				if last := st.lastAction(); last != nil && last.Status == models.ActionAsyncStarted {
					return &plan.StepOutcome{Blocked: true, Summary: strings.TrimSpace(question)}, nil
				}
				continue
			}

			if fb, queued := l.queueApproval(ctx, st, call); queued {
				msgs = append(msgs, ai.Message{Role: "user", Content: fb})
				continue
			}

			fb, _ := l.executeCall(ctx, st, call)
			msgs = append(msgs, ai.Message{Role: "user", Content: fb})
			if last := st.lastAction(); last != nil && last.Status == models.ActionExecuted {
				lastSummary = last.Result
			}
		}
	}

	// Budget spent without an explicit done; report what was accomplished.
	if lastSummary != "" {
		return &plan.StepOutcome{Summary: lastSummary}, nil
	}
	return &plan.StepOutcome{
		Failed: true,
		Error:  fmt.Sprintf("step budget of %d iterations spent without completing", maxIter),
	}, nil
}

// stepPrompt renders one step request: the step itself plus compact results
// of everything already done.
func stepPrompt(req *plan.StepRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are executing one step of a plan for the goal %q.\n\n", req.Plan.Goal)
	fmt.Fprintf(&b, "Current step: %s\n%s\n", req.Step.Title, req.Step.Description)
	if len(req.Step.RequiredTools) > 0 {
		fmt.Fprintf(&b, "Suggested tools: %s\n", strings.Join(req.Step.RequiredTools, ", "))
	}
	if len(req.Prior) > 0 {
		b.WriteString("\nResults of earlier steps:\n")
		for _, pr := range req.Prior {
			switch pr.Status {
			case models.StepCompleted:
				fmt.Fprintf(&b, "- %s: %s\n", pr.Title, capString(pr.Summary, 200))
			default:
				fmt.Fprintf(&b, "- %s: %s\n", pr.Title, pr.Status)
			}
		}
	}
	b.WriteString("\nComplete only this step. Use tool calls to do the work, then call done with a one-line summary of what this step produced. Do not respond to the user; the plan reports at the end.")
	return b.String()
}

// lastAction returns the most recent action record, or nil.
func (st *runState) lastAction() *models.ActionRecord {
	if len(st.actions) == 0 {
		return nil
	}
	return &st.actions[len(st.actions)-1]
}

// planIDFrom digs the created plan's ID out of the generatePlan result.
func planIDFrom(result any) string {
	doc, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := doc["planId"].(string)
	return id
}

// Package reasoning runs the agent loop: classify the trigger, assemble the
// prompt, let the model call tools through the recovery wrapper, screen
// everything user-facing, and stop when the model says done or a budget runs
// out. One Loop serves every agent; per-run state lives on the stack.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/internal/approval"
	"github.com/legionruntime/legion/internal/checkpoint"
	"github.com/legionruntime/legion/internal/classify"
	"github.com/legionruntime/legion/internal/notify"
	"github.com/legionruntime/legion/internal/observability"
	"github.com/legionruntime/legion/internal/plan"
	"github.com/legionruntime/legion/internal/prompt"
	"github.com/legionruntime/legion/internal/rag"
	"github.com/legionruntime/legion/internal/ratelimit"
	"github.com/legionruntime/legion/internal/recovery"
	"github.com/legionruntime/legion/internal/reflection"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/internal/toolcall"
	"github.com/legionruntime/legion/internal/tools"
	"github.com/legionruntime/legion/pkg/models"
)

const (
	// DefaultTimeout is the hard wall-clock limit for one run.
	DefaultTimeout = 4 * time.Minute

	// An incoming message waits this long for the previous turn's lock,
	// polling at the given interval. Other triggers skip immediately.
	defaultLockWait = 30 * time.Second
	defaultLockPoll = 3 * time.Second

	// A paused loop rechecks its switches at this interval.
	defaultPausePoll = 500 * time.Millisecond

	// maxRespondsPerRun caps user-visible messages sent from one run.
	maxRespondsPerRun = 2

	// checkpointReminderEvery restates the request after this many tool
	// executions.
	checkpointReminderEvery = 3

	// silentMarker in plain text means "deliberately say nothing".
	silentMarker = "<<SILENT>>"

	ragKeywordMax = 8
	ragTopK       = 3
	ragMinScore   = 0.5

	greetingMaxWords = 5
)

const (
	busyThought        = "I'm still finishing up your previous message. Give me a moment, then send that again."
	skipConcurrent     = "Skipped: concurrent run"
	skipRateLimit      = "Skipped: rate limit"
	interruptedThought = "Execution interrupted by user"
	timeoutApology     = "Sorry, that took longer than I'm allowed to spend in one go. I saved where I stopped; ask me to continue and I'll pick it back up."

	metaTalkFeedback = "You described a tool call instead of making one. Emit the call itself " +
		"as a ```tool block (or use the native tool interface), or answer with plain text if no tool is needed."
)

// EventSink receives loop progress events for the dashboard stream.
// Emission is best-effort and must never block.
type EventSink interface {
	Emit(event string, payload map[string]any)
}

// Knowledge retrieves reference snippets for mid-run context enrichment.
// *rag.Service satisfies it.
type Knowledge interface {
	Retrieve(ctx context.Context, agentID, query string, topK int, minScore float64) ([]rag.Snippet, error)
}

// MemoryWriter records plan outcomes. *memory.Manager satisfies it.
type MemoryWriter interface {
	Create(ctx context.Context, mem *models.Memory) error
}

// CapabilityFunc reports the live capability snapshot used for tool
// selection: connected platforms, online devices, authenticated CLI
// providers, skill levels.
type CapabilityFunc func(ctx context.Context, profile *models.Agent, tier models.Tier, depth int) tools.Capabilities

// Config bounds a run. Zero values take the package defaults.
type Config struct {
	Timeout   time.Duration
	LockWait  time.Duration
	LockPoll  time.Duration
	PausePoll time.Duration

	// Budgets overrides the per-tier iteration and tool-call budgets.
	Budgets map[models.Tier]classify.Budget
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.LockWait <= 0 {
		c.LockWait = defaultLockWait
	}
	if c.LockPoll <= 0 {
		c.LockPoll = defaultLockPoll
	}
	if c.PausePoll <= 0 {
		c.PausePoll = defaultPausePoll
	}
	return c
}

// Deps are the collaborators one Loop needs. Stores, Router, Registry,
// Assembler, Classifier, and Recovery are required; everything else
// degrades to a no-op when nil.
type Deps struct {
	Stores      store.StoreSet
	Router      ai.Router
	Registry    *tools.Registry
	Assembler   *prompt.Assembler
	Classifier  *classify.Classifier
	Recovery    *recovery.Strategies
	Checkpoints *checkpoint.Manager
	Limiter     *ratelimit.Limiter
	Approvals   *approval.Service
	Reflection  *reflection.Service
	Decomposer  *plan.Decomposer
	Knowledge   Knowledge
	Memories    MemoryWriter
	Notifier    *notify.Service
	Events      EventSink
	Metrics     *observability.Metrics
	Caps        CapabilityFunc
	Config      Config
	Logger      *slog.Logger
}

// Loop is the reasoning engine. It implements collab.Runner, so delegated
// tasks, consultations, and votes all flow through the same machinery.
type Loop struct {
	deps     Deps
	cfg      Config
	locks    *LockTable
	controls *Controls
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool
}

func NewLoop(deps Deps) *Loop {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		deps:     deps,
		cfg:      deps.Config.withDefaults(),
		locks:    NewLockTable(),
		controls: NewControls(deps.Events),
		logger:   logger.With("component", "reasoning"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Controls exposes the pause, resume, and interrupt switches.
func (l *Loop) Controls() *Controls { return l.controls }

// RateLimitStatus reports the agent's hourly cycle budget without consuming
// a slot.
func (l *Loop) RateLimitStatus(agentID string) ratelimit.Status {
	if l.deps.Limiter == nil {
		return ratelimit.Status{AgentID: agentID}
	}
	return l.deps.Limiter.GetStatus(agentID)
}

// TimeoutError marks a run killed by the wall-clock limit after the user
// was already told. Callers unwrapping it should not apologize again.
type TimeoutError struct {
	AgentID string
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("reasoning: run for %s timed out: %v", e.AgentID, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Run executes one reasoning cycle for the agent.
func (l *Loop) Run(ctx context.Context, agentID string, tctx *models.TriggerContext) (*models.RunResult, error) {
	if agentID == "" {
		return nil, errors.New("reasoning: agent id is required")
	}
	if tctx == nil {
		return nil, errors.New("reasoning: trigger context is required")
	}

	key := tctx.LockKey(agentID)
	if !l.locks.TryAcquire(key) {
		if tctx.Type == models.TriggerIncomingMessage {
			if !l.locks.AwaitAcquire(ctx, key, l.cfg.LockWait, l.cfg.LockPoll) {
				l.logger.Info("run busy, lock wait expired", "agent_id", agentID, "trigger", tctx.Type)
				return &models.RunResult{FinalThought: busyThought}, nil
			}
		} else {
			l.logger.Info("run skipped, lock held", "agent_id", agentID, "trigger", tctx.Type)
			return &models.RunResult{FinalThought: skipConcurrent}, nil
		}
	}
	defer l.locks.Release(key)

	if l.deps.Limiter != nil && !l.deps.Limiter.Allow(agentID) {
		if l.deps.Metrics != nil {
			l.deps.Metrics.RateLimitDenials.WithLabelValues(string(tctx.Type)).Inc()
			l.deps.Metrics.ReasoningRuns.WithLabelValues(string(tctx.Type), "rate_limited").Inc()
		}
		l.logger.Warn("run skipped, rate limited", "agent_id", agentID, "trigger", tctx.Type)
		return &models.RunResult{FinalThought: skipRateLimit}, nil
	}

	profile, err := l.deps.Stores.Agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("reasoning: load agent %s: %w", agentID, err)
	}

	// A stale interrupt left over from an earlier run must not kill this one.
	l.controls.TakeInterrupt(agentID)

	runCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	if l.deps.Metrics != nil {
		l.deps.Metrics.ActiveRuns.Inc()
		defer l.deps.Metrics.ActiveRuns.Dec()
	}
	started := l.now()

	res, runErr := l.run(runCtx, profile, tctx)

	if l.deps.Metrics != nil {
		l.deps.Metrics.ReasoningDuration.WithLabelValues(string(tctx.Type)).Observe(l.now().Sub(started).Seconds())
		outcome := "completed"
		switch {
		case runErr != nil:
			outcome = "error"
		case res != nil && res.Silent:
			outcome = "silent"
		}
		l.deps.Metrics.ReasoningRuns.WithLabelValues(string(tctx.Type), outcome).Inc()
		if res != nil {
			l.deps.Metrics.ReasoningIterations.WithLabelValues(string(tctx.Type)).Observe(float64(res.Iterations))
		}
	}

	if runErr != nil {
		return nil, l.fail(ctx, profile, tctx, runErr)
	}
	return res, nil
}

// fail is the single error exit: mark the checkpoint, surface the failure to
// the dashboard and the master, apologize to the user on timeout.
func (l *Loop) fail(ctx context.Context, profile *models.Agent, tctx *models.TriggerContext, runErr error) error {
	if l.deps.Checkpoints != nil {
		if err := l.deps.Checkpoints.Fail(ctx, profile.ID); err != nil {
			l.logger.Warn("checkpoint fail mark failed", "agent_id", profile.ID, "error", err)
		}
	}
	l.emit("agentic:error", map[string]any{
		"agent_id": profile.ID,
		"trigger":  string(tctx.Type),
		"error":    runErr.Error(),
	})
	if l.deps.Metrics != nil {
		l.deps.Metrics.Errors.WithLabelValues("reasoning", "run_failed").Inc()
	}
	if l.deps.Notifier != nil && profile.HasMaster() {
		n := &models.MasterNotification{
			AgentID: profile.ID,
			UserID:  profile.UserID,
			Type:    models.NotifyCriticalError,
			Title:   "Agent run failed",
			Body:    fmt.Sprintf("%s hit an error while working: %v", profile.Name, runErr),
			Channel: profile.Master.Channel,
			Address: profile.Master.Address,
			Context: map[string]any{"trigger": string(tctx.Type)},
		}
		if err := l.deps.Notifier.Notify(ctx, n); err != nil {
			l.logger.Warn("error notification failed", "agent_id", profile.ID, "error", err)
		}
	}
	l.logger.Error("reasoning run failed", "agent_id", profile.ID, "trigger", tctx.Type, "error", runErr)

	if errors.Is(runErr, context.DeadlineExceeded) {
		if tctx.Respond != nil {
			if err := tctx.Respond(timeoutApology); err != nil {
				l.logger.Warn("timeout apology failed", "agent_id", profile.ID, "error", err)
			}
		}
		return &TimeoutError{AgentID: profile.ID, Err: runErr}
	}
	return runErr
}

// runState carries one run's accumulated position across loop phases.
type runState struct {
	id      string
	profile *models.Agent
	tctx    *models.TriggerContext
	tier    models.Tier
	budget  classify.Budget
	sel     tools.Selection
	defs    []ai.ToolDef
	prompt  prompt.Prompt
	log     *slog.Logger

	conv              []ai.Message
	iterations        int
	toolCalls         int
	tokens            int64
	actions           []models.ActionRecord
	recoveries        int
	responds          int
	execSinceReminder int
	cpID              string
}

func (st *runState) push(role, content string) {
	st.conv = append(st.conv, ai.Message{Role: role, Content: content})
}

func (st *runState) record(rec models.ActionRecord) {
	rec.Iteration = st.iterations
	st.actions = append(st.actions, rec)
}

// executedTools lists distinct tools that ran, in first-use order.
func (st *runState) executedTools() []string {
	seen := make(map[string]bool, len(st.actions))
	var out []string
	for _, a := range st.actions {
		if a.Status != models.ActionExecuted && a.Status != models.ActionAsyncStarted {
			continue
		}
		if seen[a.Tool] {
			continue
		}
		seen[a.Tool] = true
		out = append(out, a.Tool)
	}
	return out
}

// lastExchange returns the newest two user or assistant contents, newest
// first, for keyword extraction.
func (st *runState) lastExchange() []string {
	var out []string
	for i := len(st.conv) - 1; i >= 0 && len(out) < 2; i-- {
		m := st.conv[i]
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		out = append(out, m.Content)
	}
	return out
}

func (st *runState) toolContext() *models.ToolContext {
	return &models.ToolContext{
		AgentID:            st.profile.ID,
		UserID:             st.profile.UserID,
		ConversationID:     st.tctx.ConversationID,
		AccountID:          st.tctx.AccountID,
		Platform:           st.tctx.Platform,
		Sender:             st.tctx.SenderID,
		OrchestrationDepth: st.tctx.OrchestrationDepth,
		Trigger:            st.tctx,
	}
}

// request is the text the run is about, used for reminders and logs.
func (st *runState) request() string {
	return classifyText(st.tctx)
}

func (l *Loop) run(ctx context.Context, profile *models.Agent, tctx *models.TriggerContext) (*models.RunResult, error) {
	runID := uuid.NewString()
	log := l.logger.With("agent_id", profile.ID, "run_id", runID, "trigger", string(tctx.Type))

	// Checkpoint policy: a fresh user message clears leftovers, every other
	// trigger resumes where the last run stopped.
	var resumed *models.Checkpoint
	if l.deps.Checkpoints != nil {
		cp, err := l.deps.Checkpoints.Resume(ctx, profile.ID, tctx.Type)
		if err != nil {
			log.Warn("checkpoint resume failed", "error", err)
		} else {
			resumed = cp
		}
	}

	// Approval resume pre-executes the approved call so the prompt opens
	// with its outcome instead of asking the model to re-issue it.
	var preActions []models.ActionRecord
	if tctx.Type == models.TriggerApprovalResume && tctx.ApprovedTool != "" {
		preActions = append(preActions, l.execApproved(ctx, profile, tctx, log))
	}

	text := classifyText(tctx)
	res := l.deps.Classifier.Classify(ctx, text)
	rawTier := res.Tier
	tier, adjustReason := classify.AdjustTier(res, tctx, text)
	if adjustReason != "" {
		log.Debug("tier adjusted", "from", rawTier, "to", tier, "reason", adjustReason)
	}
	budget := classify.BudgetFor(tier, l.cfg.Budgets)

	l.emit("reasoning:start", map[string]any{
		"agent_id": profile.ID,
		"run_id":   runID,
		"trigger":  string(tctx.Type),
		"tier":     string(tier),
	})

	caps := l.capabilities(ctx, profile, tier, tctx.OrchestrationDepth)
	sel := tools.Select(l.deps.Registry, profile, caps)
	pr := l.deps.Assembler.Build(ctx, profile, tctx, sel, tier)

	st := &runState{
		id:      runID,
		profile: profile,
		tctx:    tctx,
		tier:    tier,
		budget:  budget,
		sel:     sel,
		defs:    sel.ToolDefs(),
		prompt:  pr,
		log:     log,
		conv: []ai.Message{
			{Role: "system", Content: pr.System},
			{Role: "user", Content: pr.User},
		},
	}
	if resumed != nil {
		st.cpID = resumed.ID
		st.iterations = resumed.Iteration
		st.tokens = resumed.TokensUsed
		st.actions = append(st.actions, resumed.Actions...)
		for _, a := range resumed.Actions {
			if a.Status == models.ActionExecuted || a.Status == models.ActionFailed || a.Status == models.ActionAsyncStarted {
				st.toolCalls++
			}
		}
		log.Info("resumed from checkpoint", "iteration", st.iterations, "actions", len(st.actions))
	}
	st.actions = append(st.actions, preActions...)

	// Trivial greetings skip the whole machine.
	if rawTier == models.TierTrivial && tctx.Type == models.TriggerIncomingMessage &&
		tctx.SubAgentTask == "" && res.Analysis.IsGreeting && res.Analysis.WordCount <= greetingMaxWords {
		if out, ok := l.fastGreeting(ctx, st); ok {
			return out, nil
		}
	}

	// Requests that read as multi-step goals get decomposed up front.
	if tctx.SubAgentTask == "" && l.deps.Decomposer != nil && plan.ShouldDecompose(text, tier) {
		if out, ok := l.runDecomposed(ctx, st, text); ok {
			return out, nil
		}
	}

	// Heavier chat turns get an explicit planning phase; a declined plan
	// falls back to the reactive loop.
	if l.planDrivenEligible(st) {
		if out, handled := l.runPlanDriven(ctx, st); handled {
			return out, nil
		}
	}

	return l.reactive(ctx, st)
}

// reactive is the classic observe-act loop: one AI call per iteration, every
// parsed tool call validated, approved, executed, and fed back.
func (l *Loop) reactive(ctx context.Context, st *runState) (*models.RunResult, error) {
	var (
		finalThought    string
		silent          bool
		done            bool
		lastRespondOnly bool
	)

	for !done && st.iterations < st.budget.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reasoning: cancelled at iteration %d: %w", st.iterations, err)
		}
		interrupted, err := l.waitIfPaused(ctx, st)
		if err != nil {
			return nil, err
		}
		if interrupted {
			finalThought = interruptedThought
			break
		}

		st.iterations++
		l.emit("reasoning:step", map[string]any{
			"agent_id":  st.profile.ID,
			"run_id":    st.id,
			"iteration": st.iterations,
		})
		l.saveCheckpoint(ctx, st)

		if st.iterations >= 2 {
			l.enrich(ctx, st)
		}

		resp, err := l.complete(ctx, st, st.conv)
		if err != nil {
			return nil, fmt.Errorf("reasoning: ai call at iteration %d: %w", st.iterations, err)
		}
		st.tokens += int64(resp.Usage.TotalTokens)

		calls := toolcall.Parse(resp.Content, resp.NativeToolCalls, resp.UsedNativeTools)
		if len(calls) == 0 {
			text := strings.TrimSpace(resp.Content)
			switch {
			case strings.Contains(text, silentMarker):
				silent = true
			case toolcall.IsMetaTalk(text) && st.iterations <= 2:
				st.push("assistant", resp.Content)
				st.push("user", metaTalkFeedback)
				continue
			case IsErrorShaped(text):
				// Provider noise is not a final thought.
				st.log.Warn("discarded error-shaped final text")
			default:
				finalThought = text
			}
			break
		}

		st.push("assistant", resp.Content)

		respondOnly := len(calls) == 1 && calls[0].Action == "respond"
		stopAfter := false

	inner:
		for _, raw := range calls {
			switch raw.Action {
			case "done":
				finalThought = doneSummary(raw)
				done = true
				break inner
			case "silent":
				finalThought = doneSummary(raw)
				silent = true
				done = true
				break inner
			}

			if st.toolCalls >= st.budget.MaxToolCalls {
				st.log.Info("tool budget exhausted", "max", st.budget.MaxToolCalls)
				done = true
				break inner
			}

			call, verr := toolcall.Validate(raw, st.sel.IDs(), st.sel.Schemas())
			if verr != nil {
				st.push("user", fmt.Sprintf("Tool call rejected: %v. Available tools: %s.",
					verr, strings.Join(st.sel.IDs(), ", ")))
				break inner
			}

			if fb, queued := l.queueApproval(ctx, st, call); queued {
				st.push("user", fb)
				continue
			}

			fb, stop := l.executeCall(ctx, st, call)
			st.push("user", fb)
			if stop {
				stopAfter = true
			}

			if st.execSinceReminder >= checkpointReminderEvery {
				st.execSinceReminder = 0
				st.push("user", reminderMessage(st))
			}
		}

		if respondOnly && lastRespondOnly {
			st.log.Debug("consecutive respond-only iterations, stopping")
			stopAfter = true
		}
		lastRespondOnly = respondOnly
		if stopAfter {
			break
		}
	}

	// A run that did real work deserves a summary even when the model never
	// said done.
	if finalThought == "" && !silent {
		finalThought = synthesizeFromActions(st.actions)
	}

	out := &models.RunResult{
		Actions:      st.actions,
		Iterations:   st.iterations,
		TokensUsed:   st.tokens,
		FinalThought: finalThought,
		Silent:       silent,
	}
	return l.finish(ctx, st, out)
}

// executeCall runs one validated tool call through the recovery wrapper and
// returns the transcript feedback plus whether the run must stop after this
// iteration (respond budget spent).
func (l *Loop) executeCall(ctx context.Context, st *runState, call models.ToolCall) (string, bool) {
	// Screen outbound text before it can reach the user.
	if call.Action == "respond" {
		if msg, _ := call.Params["message"].(string); msg != "" {
			if IsErrorShaped(msg) {
				st.record(models.ActionRecord{
					Tool: call.Action, Params: call.Params, Reasoning: call.Reasoning,
					Status: models.ActionBlockedError, At: l.now().UTC(),
				})
				return errorShapeFeedback, false
			}
			if IsPlaceholderShaped(msg) {
				st.record(models.ActionRecord{
					Tool: call.Action, Params: call.Params, Reasoning: call.Reasoning,
					Status: models.ActionBlockedPlaceholder, At: l.now().UTC(),
				})
				return placeholderFeedback, false
			}
		}
	}

	l.emit("tool:start", map[string]any{"agent_id": st.profile.ID, "run_id": st.id, "tool": call.Action})

	outcome := l.deps.Recovery.Execute(ctx, call.Action, call.Params, st.toolContext())
	st.toolCalls++
	st.execSinceReminder++
	if outcome.RecoveryApplied {
		st.recoveries++
	}

	rec := models.ActionRecord{
		Tool:      call.Action,
		Params:    call.Params,
		Reasoning: call.Reasoning,
		At:        l.now().UTC(),
	}

	var feedback string
	stop := false
	switch {
	case !outcome.Success:
		rec.Status = models.ActionFailed
		rec.Error = outcome.Failure.Error()
		feedback = failFeedback(call.Action, outcome.Failure, st.executedTools())

	default:
		if tracking, ok := outcome.Result.AsyncTracking(); ok {
			rec.Status = models.ActionAsyncStarted
			rec.TrackingID = tracking
			feedback = fmt.Sprintf("Tool %q started a background task (tracking %s). "+
				"It does not need waiting; the result arrives as a separate trigger. Continue with other work or finish.",
				call.Action, tracking)
			break
		}

		summary := SummarizeResult(call.Action, outcome.Result.Result, maxSummaryChars)
		rec.Status = models.ActionExecuted
		rec.Result = summary

		if call.Action == "respond" {
			if sent, _ := respondDelivered(outcome.Result.Result); sent {
				rec.SentImmediately = true
				st.responds++
				if st.responds >= maxRespondsPerRun {
					stop = true
				}
				feedback = "Tool \"respond\" executed successfully. The user has received that message; " +
					"do not repeat it. Continue with remaining work or call done."
			} else {
				feedback = okFeedback(call.Action, summary, st.executedTools())
			}
		} else {
			feedback = okFeedback(call.Action, summary, st.executedTools())
		}
		if outcome.AlternativeTool != "" {
			feedback += fmt.Sprintf(" (Executed via substitute tool %q.)", outcome.AlternativeTool)
		}
	}

	status := string(rec.Status)
	l.emit("tool:result", map[string]any{
		"agent_id": st.profile.ID, "run_id": st.id, "tool": call.Action, "status": status,
	})
	if l.deps.Metrics != nil {
		l.deps.Metrics.ToolExecutions.WithLabelValues(call.Action, status).Inc()
	}

	st.record(rec)
	return feedback, stop
}

// respondDelivered reads the respond tool's result payload.
func respondDelivered(result any) (bool, string) {
	doc, ok := result.(map[string]any)
	if !ok {
		return false, ""
	}
	sent, _ := doc["sentImmediately"].(bool)
	msg, _ := doc["message"].(string)
	return sent, msg
}

// queueApproval files the call for master sign-off when the profile requires
// it. It returns the transcript feedback and true when the call was consumed.
func (l *Loop) queueApproval(ctx context.Context, st *runState, call models.ToolCall) (string, bool) {
	desc, ok := st.sel.Descriptor(call.Action)
	if !ok {
		return "", false
	}
	if !approval.NeedsApproval(st.profile, desc, st.tctx) {
		return "", false
	}

	if l.deps.Approvals == nil {
		st.record(models.ActionRecord{
			Tool: call.Action, Params: call.Params, Reasoning: call.Reasoning,
			Status: models.ActionFailed, Error: "approval required but approvals are not configured",
			At: l.now().UTC(),
		})
		return fmt.Sprintf("Tool %q requires master approval, but approvals are not configured. "+
			"Choose a different tool or finish.", call.Action), true
	}

	req, err := l.deps.Approvals.Create(ctx, approval.CreateParams{
		Profile:     st.profile,
		ToolID:      call.Action,
		Params:      call.Params,
		Reasoning:   call.Reasoning,
		TriggeredBy: st.tctx.Type,
	})
	if err != nil {
		st.record(models.ActionRecord{
			Tool: call.Action, Params: call.Params, Reasoning: call.Reasoning,
			Status: models.ActionFailed, Error: err.Error(), At: l.now().UTC(),
		})
		return fmt.Sprintf("Tool %q requires approval but queueing failed: %v. Continue without it.",
			call.Action, err), true
	}

	st.record(models.ActionRecord{
		Tool: call.Action, Params: call.Params, Reasoning: call.Reasoning,
		Status: models.ActionQueuedForApproval, ApprovalID: req.ID, At: l.now().UTC(),
	})
	st.log.Info("tool queued for approval", "tool", call.Action, "approval_id", req.ID)
	return fmt.Sprintf("Tool %q requires your master's approval and was queued (approval %s). "+
		"Do not retry it in this run; continue with other work or finish.", call.Action, req.ID), true
}

// execApproved runs an already-approved call before the loop starts. The
// outcome lands in the trigger context so the prompt builder can report it.
func (l *Loop) execApproved(ctx context.Context, profile *models.Agent, tctx *models.TriggerContext, log *slog.Logger) models.ActionRecord {
	rec := models.ActionRecord{
		Tool:       tctx.ApprovedTool,
		Params:     tctx.ApprovedParams,
		ApprovalID: tctx.ApprovalID,
		At:         l.now().UTC(),
	}
	toolCtx := &models.ToolContext{
		AgentID: profile.ID,
		UserID:  profile.UserID,
		Trigger: tctx,
	}
	outcome := l.deps.Recovery.Execute(ctx, tctx.ApprovedTool, tctx.ApprovedParams, toolCtx)
	if outcome.Success {
		summary := SummarizeResult(tctx.ApprovedTool, outcome.Result.Result, maxSummaryChars)
		rec.Status = models.ActionExecuted
		rec.Result = summary
		tctx.ApprovalToolResult = fmt.Sprintf("Tool %q executed successfully after approval. Result: %s",
			tctx.ApprovedTool, summary)
		log.Info("approved tool pre-executed", "tool", tctx.ApprovedTool)
	} else {
		rec.Status = models.ActionFailed
		rec.Error = outcome.Failure.Error()
		tctx.ApprovalToolResult = fmt.Sprintf("Tool %q failed after approval: %v",
			tctx.ApprovedTool, outcome.Failure)
		log.Warn("approved tool pre-execution failed", "tool", tctx.ApprovedTool, "error", outcome.Failure)
	}
	return rec
}

// fastGreeting answers a short greeting with one minimal AI call. It reports
// false when the run should fall through to the full loop.
func (l *Loop) fastGreeting(ctx context.Context, st *runState) (*models.RunResult, bool) {
	system := strings.TrimSpace(st.profile.SystemPrompt)
	if system == "" {
		system = fmt.Sprintf("You are %s, a friendly personal agent.", st.profile.Name)
	}
	system += "\n\nReply to the greeting in one or two short sentences. Plain text only; no tool calls, no JSON."

	req := &ai.Request{
		Task: "greeting",
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: st.tctx.Preview},
		},
		UserID:         st.profile.UserID,
		AgentID:        st.profile.ID,
		RequestType:    "reasoning",
		ForceTier:      models.TierSimple,
		ConversationID: st.tctx.ConversationID,
		Source:         "greeting_fast_path",
	}
	resp, err := l.deps.Router.Process(ctx, req, &ai.Options{Temperature: 0.7, MaxTokens: 256})
	if err != nil {
		st.log.Debug("greeting fast path failed, falling through", "error", err)
		return nil, false
	}

	text := strings.TrimSpace(resp.Content)
	if calls := toolcall.Parse(resp.Content, resp.NativeToolCalls, resp.UsedNativeTools); len(calls) > 0 {
		text = ""
		for _, c := range calls {
			if c.Action == "respond" {
				if m, ok := c.Params["message"].(string); ok {
					text = strings.TrimSpace(m)
				}
				break
			}
		}
	}
	if text == "" || IsErrorShaped(text) {
		return nil, false
	}

	out := &models.RunResult{
		Iterations:   1,
		TokensUsed:   int64(resp.Usage.TotalTokens),
		FinalThought: text,
	}
	if st.tctx.Respond != nil {
		if err := st.tctx.Respond(text); err != nil {
			st.log.Warn("greeting delivery failed, falling through", "error", err)
			return nil, false
		}
		out.Actions = []models.ActionRecord{{
			Tool:            "respond",
			Status:          models.ActionExecuted,
			Result:          truncate(text, 200),
			SentImmediately: true,
			Iteration:       1,
			At:              l.now().UTC(),
		}}
	}
	st.log.Info("greeting fast path", "tokens", out.TokensUsed)
	return out, true
}

// waitIfPaused blocks while the agent is paused, polling the switches. It
// reports true when an interrupt arrived.
func (l *Loop) waitIfPaused(ctx context.Context, st *runState) (bool, error) {
	if l.controls.TakeInterrupt(st.profile.ID) {
		return true, nil
	}
	for l.controls.Paused(st.profile.ID) {
		if !l.sleep(ctx, l.cfg.PausePoll) {
			return false, fmt.Errorf("reasoning: cancelled while paused: %w", ctx.Err())
		}
		if l.controls.TakeInterrupt(st.profile.ID) {
			return true, nil
		}
	}
	return false, nil
}

// enrich injects knowledge-library snippets keyed off the latest exchange.
// Best-effort: a failed retrieval never stops the run.
func (l *Loop) enrich(ctx context.Context, st *runState) {
	if l.deps.Knowledge == nil {
		return
	}
	keywords := rag.Keywords(st.lastExchange(), ragKeywordMax)
	if len(keywords) == 0 {
		return
	}
	snips, err := l.deps.Knowledge.Retrieve(ctx, st.profile.ID, strings.Join(keywords, " "), ragTopK, ragMinScore)
	if err != nil {
		st.log.Warn("knowledge retrieval failed", "error", err)
		return
	}
	block := rag.Block(snips)
	if block == "" {
		return
	}
	// Injected just before the newest message so the model reads it as
	// fresh context, not ancient history.
	last := len(st.conv) - 1
	injected := append([]ai.Message{{Role: "system", Content: block}}, st.conv[last:]...)
	st.conv = append(st.conv[:last], injected...)
}

// complete makes one routed AI call with the run's tool schema.
func (l *Loop) complete(ctx context.Context, st *runState, msgs []ai.Message) (*ai.Response, error) {
	req := &ai.Request{
		Task:           truncate(st.request(), 120),
		Messages:       truncateConversation(msgs),
		UserID:         st.profile.UserID,
		AgentID:        st.profile.ID,
		Tools:          st.defs,
		RequestType:    "reasoning",
		ConversationID: st.tctx.ConversationID,
		Source:         "reasoning_loop",
	}
	if st.profile.Provider != "" {
		req.ForceProvider = st.profile.Provider
	} else {
		req.ForceTier = flooredTier(st.tier)
	}
	opts := &ai.Options{
		IsAgentic:   true,
		Temperature: st.profile.Temperature,
		MaxTokens:   st.profile.MaxTokens,
		Model:       st.profile.Model,
	}
	return l.deps.Router.Process(ctx, req, opts)
}

func (l *Loop) saveCheckpoint(ctx context.Context, st *runState) {
	if l.deps.Checkpoints == nil {
		return
	}
	if st.cpID == "" {
		st.cpID = uuid.NewString()
	}
	cp := &models.Checkpoint{
		ID:             st.cpID,
		AgentID:        st.profile.ID,
		UserID:         st.profile.UserID,
		Status:         models.CheckpointActive,
		Trigger:        st.tctx.Type,
		TriggerContext: st.tctx,
		Tier:           st.tier,
		Iteration:      st.iterations,
		TokensUsed:     st.tokens,
		Actions:        st.actions,
	}
	if err := l.deps.Checkpoints.Save(ctx, cp); err != nil {
		st.log.Warn("checkpoint save failed", "error", err)
	}
}

// finish is the single success exit: close the checkpoint, log the run,
// emit completion, and hand the cycle to reflection.
func (l *Loop) finish(ctx context.Context, st *runState, out *models.RunResult) (*models.RunResult, error) {
	if l.deps.Checkpoints != nil {
		if err := l.deps.Checkpoints.Complete(ctx, st.profile.ID); err != nil {
			st.log.Warn("checkpoint complete failed", "error", err)
		}
	}
	l.logActivity(ctx, st, out)
	l.emit("reasoning:complete", map[string]any{
		"agent_id":   st.profile.ID,
		"run_id":     st.id,
		"iterations": out.Iterations,
		"tool_calls": st.toolCalls,
		"silent":     out.Silent,
	})
	if l.deps.Reflection != nil {
		l.deps.Reflection.ReflectAsync(reflection.Cycle{
			AgentID:    st.profile.ID,
			UserID:     st.profile.UserID,
			SessionID:  st.id,
			Trigger:    st.tctx.Type,
			Iterations: out.Iterations,
			Actions:    out.Actions,
			Recoveries: st.recoveries,
		})
	}
	l.bumpInteraction(ctx, st)
	st.log.Info("reasoning run complete",
		"iterations", out.Iterations,
		"tool_calls", st.toolCalls,
		"tokens", out.TokensUsed,
		"silent", out.Silent)
	return out, nil
}

func (l *Loop) logActivity(ctx context.Context, st *runState, out *models.RunResult) {
	if l.deps.Stores.Activity == nil {
		return
	}
	summary := out.FinalThought
	if summary == "" {
		if out.Silent {
			summary = "Finished silently"
		} else {
			summary = "Finished"
		}
	}
	entry := &models.ActivityEntry{
		ID:      uuid.New().String(),
		AgentID: st.profile.ID,
		UserID:  st.profile.UserID,
		Kind:    "reasoning_run",
		Summary: truncate(summary, 200),
		Detail: map[string]any{
			"trigger":    string(st.tctx.Type),
			"iterations": out.Iterations,
			"tool_calls": st.toolCalls,
			"tokens":     out.TokensUsed,
		},
		CreatedAt: l.now().UTC(),
	}
	if err := l.deps.Stores.Activity.Append(ctx, entry); err != nil {
		st.log.Warn("record run activity failed", "error", err)
	}
}

// bumpInteraction advances the familiarity counter on direct conversations.
func (l *Loop) bumpInteraction(ctx context.Context, st *runState) {
	if !st.tctx.IsIncomingMessage() {
		return
	}
	st.profile.InteractionCount++
	if err := l.deps.Stores.Agents.IncrementInteractions(ctx, st.profile.ID); err != nil {
		st.log.Warn("interaction count update failed", "error", err)
	}
}

func (l *Loop) capabilities(ctx context.Context, profile *models.Agent, tier models.Tier, depth int) tools.Capabilities {
	if l.deps.Caps != nil {
		return l.deps.Caps(ctx, profile, tier, depth)
	}
	caps := tools.Capabilities{Tier: tier, Depth: depth}
	if l.deps.Stores.Skills != nil {
		skills, err := l.deps.Stores.Skills.ListByAgent(ctx, profile.ID)
		if err == nil && len(skills) > 0 {
			caps.SkillLevels = make(map[models.SkillCategory]int, len(skills))
			for _, s := range skills {
				caps.SkillLevels[s.Category] = s.Level
			}
		}
	}
	return caps
}

func (l *Loop) emit(event string, payload map[string]any) {
	if l.deps.Events == nil {
		return
	}
	l.deps.Events.Emit(event, payload)
}

// classifyText is what complexity is judged on: the delegated task for
// sub-agents, otherwise the message preview or the schedule's prompt.
func classifyText(tctx *models.TriggerContext) string {
	if t := strings.TrimSpace(tctx.SubAgentTask); t != "" {
		return t
	}
	if t := stripEnrichment(tctx.Preview); t != "" {
		return t
	}
	if t := strings.TrimSpace(tctx.CustomPrompt); t != "" {
		return t
	}
	return string(tctx.Type)
}

// stripEnrichment drops bracketed context appended after the user's own
// words so word counts and greeting checks see the raw message.
func stripEnrichment(s string) string {
	if i := strings.Index(s, "\n\n["); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func flooredTier(t models.Tier) models.Tier {
	if t == models.TierTrivial {
		return models.TierSimple
	}
	return t
}

func doneSummary(call models.ToolCall) string {
	if s, ok := call.Params["summary"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	if s, ok := call.Params["reason"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(call.Reasoning)
}

func okFeedback(tool, summary string, executed []string) string {
	return fmt.Sprintf("Tool %q executed successfully. Result: %s. [Tools executed so far: %s]",
		tool, summary, strings.Join(executed, ", "))
}

func failFeedback(tool string, fail *recovery.ToolError, executed []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool %q failed [%s]: %v.", tool, fail.Type, fail.Err)
	if fail.Suggestion != "" {
		fmt.Fprintf(&b, " Suggestion: %s", fail.Suggestion)
		if !strings.HasSuffix(fail.Suggestion, ".") {
			b.WriteString(".")
		}
	}
	if len(fail.Alternatives) > 0 {
		fmt.Fprintf(&b, " Available alternative tools: %s.", strings.Join(fail.Alternatives, ", "))
	}
	if len(executed) > 0 {
		fmt.Fprintf(&b, " [Tools executed so far: %s]", strings.Join(executed, ", "))
	}
	return b.String()
}

func reminderMessage(st *runState) string {
	used := strings.Join(st.executedTools(), ", ")
	if used == "" {
		used = "none"
	}
	return fmt.Sprintf("Checkpoint: the original request was %q. Tools used so far: %s. "+
		"Do not repeat a tool with the same parameters. When you have enough to answer, "+
		"use respond with the result, then done.", truncate(st.request(), 300), used)
}

// synthesizeFromActions builds a fallback final thought from what actually
// ran when the model never produced one.
func synthesizeFromActions(actions []models.ActionRecord) string {
	var parts []string
	for _, a := range actions {
		if a.Status != models.ActionExecuted || a.Tool == "respond" {
			continue
		}
		p := a.Tool
		if a.Result != "" {
			p += ": " + truncate(a.Result, 120)
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return ""
	}
	return "Work completed. " + strings.Join(parts, "; ")
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

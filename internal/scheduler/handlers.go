package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/legionruntime/legion/internal/memory"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// Runner executes a reasoning cycle. The reasoning loop implements it.
type Runner interface {
	Run(ctx context.Context, agentID string, trigger *models.TriggerContext) (*models.RunResult, error)
}

// Consolidator runs the memory maintenance pass. *memory.Manager
// implements it.
type Consolidator interface {
	Consolidate(ctx context.Context, agentID string) (memory.ConsolidationReport, error)
}

// BudgetResetter zeroes daily budget counters. *usage.Service implements it.
type BudgetResetter interface {
	ResetDailyBudgets(ctx context.Context) (int, error)
}

// Result is what one action handler produced.
type Result struct {
	Summary  string
	Tokens   int64
	Provider string
	Model    string
}

// Handler executes one schedule action for one agent.
type Handler func(ctx context.Context, sched *models.Schedule, agent *models.Agent) (*Result, error)

// Handlers maps action types to their implementations. Most actions are
// thin wrappers that delegate into the reasoning loop with a synthetic
// trigger context; the rest are read-only aggregations or maintenance
// passes.
type Handlers struct {
	stores  store.StoreSet
	runner  Runner
	memory  Consolidator
	budgets BudgetResetter
	logger  *slog.Logger
	now     func() time.Time

	table map[string]Handler
}

// NewHandlers builds the action registry. runner is required; memory and
// budgets may be nil, which unregisters their actions.
func NewHandlers(stores store.StoreSet, runner Runner, mem Consolidator, budgets BudgetResetter, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		stores:  stores,
		runner:  runner,
		memory:  mem,
		budgets: budgets,
		logger:  logger.With("component", "scheduler.handlers"),
		now:     time.Now,
	}
	h.table = map[string]Handler{
		models.ActionReasoningCycle: h.delegate(func(sched *models.Schedule) *models.TriggerContext {
			return &models.TriggerContext{
				Type:         models.TriggerHeartbeat,
				ScheduleID:   sched.ID,
				ActionType:   sched.ActionType,
				CustomPrompt: sched.CustomPrompt,
			}
		}),
		models.ActionCustomPrompt: h.delegate(func(sched *models.Schedule) *models.TriggerContext {
			return &models.TriggerContext{
				Type:         models.TriggerSchedule,
				ScheduleID:   sched.ID,
				ActionType:   sched.ActionType,
				CustomPrompt: sched.CustomPrompt,
			}
		}),
		models.ActionSelfReflect: h.delegate(func(sched *models.Schedule) *models.TriggerContext {
			return &models.TriggerContext{
				Type:         models.TriggerPeriodicThink,
				ScheduleID:   sched.ID,
				ActionType:   sched.ActionType,
				CustomPrompt: firstNonEmpty(sched.CustomPrompt, "Reflect on your recent work: what went well, what failed, what to do differently. Save durable conclusions as memories."),
			}
		}),
		models.ActionSendReport: h.delegate(func(sched *models.Schedule) *models.TriggerContext {
			return &models.TriggerContext{
				Type:         models.TriggerSchedule,
				ScheduleID:   sched.ID,
				ActionType:   sched.ActionType,
				CustomPrompt: firstNonEmpty(sched.CustomPrompt, "Compile a status report covering your tasks, recent activity, and anything needing attention, then send it to your master contact."),
			}
		}),
		models.ActionUpdateKnowledge: h.delegate(func(sched *models.Schedule) *models.TriggerContext {
			return &models.TriggerContext{
				Type:         models.TriggerSchedule,
				ScheduleID:   sched.ID,
				ActionType:   sched.ActionType,
				CustomPrompt: firstNonEmpty(sched.CustomPrompt, "Review your monitoring sources and knowledge libraries. Save anything new and relevant as memories or knowledge entries."),
			}
		}),
		models.ActionFollowUpCheckIn: h.delegate(func(sched *models.Schedule) *models.TriggerContext {
			return &models.TriggerContext{
				Type:         models.TriggerEvent,
				EventKind:    models.EventFollowUpCheckIn,
				ScheduleID:   sched.ID,
				ActionType:   sched.ActionType,
				CustomPrompt: sched.CustomPrompt,
			}
		}),
		models.ActionProactiveOutreach: h.delegate(func(sched *models.Schedule) *models.TriggerContext {
			return &models.TriggerContext{
				Type:         models.TriggerEvent,
				EventKind:    models.EventProactiveOutreach,
				ScheduleID:   sched.ID,
				ActionType:   sched.ActionType,
				CustomPrompt: sched.CustomPrompt,
			}
		}),
		models.ActionCheckMessages: h.checkMessages,
		models.ActionReviewTasks:   h.reviewTasks,
		models.ActionHealthSummary: h.healthSummary,
	}
	if mem != nil {
		h.table[models.ActionMemoryConsolidation] = h.consolidateMemory
	}
	if budgets != nil {
		h.table[models.ActionBudgetReset] = h.resetBudgets
	}
	return h
}

// Handle dispatches the schedule to its action handler.
func (h *Handlers) Handle(ctx context.Context, sched *models.Schedule, agent *models.Agent) (*Result, error) {
	handler, ok := h.table[sched.ActionType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, sched.ActionType)
	}
	return handler(ctx, sched, agent)
}

// Actions lists the registered action types, for validation and diagnostics.
func (h *Handlers) Actions() []string {
	out := make([]string, 0, len(h.table))
	for name := range h.table {
		out = append(out, name)
	}
	return out
}

// delegate wraps a trigger builder into a handler that runs the reasoning
// loop and reports the run outcome.
func (h *Handlers) delegate(build func(*models.Schedule) *models.TriggerContext) Handler {
	return func(ctx context.Context, sched *models.Schedule, agent *models.Agent) (*Result, error) {
		if h.runner == nil {
			return nil, fmt.Errorf("scheduler: no runner wired for action %q", sched.ActionType)
		}
		run, err := h.runner.Run(ctx, agent.ID, build(sched))
		if err != nil {
			return nil, err
		}
		summary := run.FinalThought
		if summary == "" {
			summary = fmt.Sprintf("Completed in %d iterations", run.Iterations)
		}
		return &Result{Summary: summary, Tokens: run.TokensUsed}, nil
	}
}

// checkMessages is a read-only aggregation of the agent's inbox.
func (h *Handlers) checkMessages(ctx context.Context, _ *models.Schedule, agent *models.Agent) (*Result, error) {
	unread, err := h.stores.Messages.CountUnread(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: count unread: %w", err)
	}
	return &Result{Summary: fmt.Sprintf("%d unread agent messages", unread)}, nil
}

// reviewTasks summarizes the agent's open task queue.
func (h *Handlers) reviewTasks(ctx context.Context, _ *models.Schedule, agent *models.Agent) (*Result, error) {
	open, err := h.stores.Tasks.ListByAssignee(ctx, agent.ID, []models.TaskStatus{
		models.TaskPending, models.TaskAssigned, models.TaskInProgress, models.TaskBlocked,
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: list tasks: %w", err)
	}
	counts := map[models.TaskStatus]int{}
	var overdue int
	now := h.now()
	for _, t := range open {
		counts[t.Status]++
		if t.DueAt != nil && t.DueAt.Before(now) {
			overdue++
		}
	}
	var parts []string
	for _, status := range []models.TaskStatus{models.TaskPending, models.TaskAssigned, models.TaskInProgress, models.TaskBlocked} {
		if counts[status] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[status], status))
		}
	}
	if len(parts) == 0 {
		return &Result{Summary: "No open tasks"}, nil
	}
	summary := strings.Join(parts, ", ")
	if overdue > 0 {
		summary += fmt.Sprintf(" (%d overdue)", overdue)
	}
	return &Result{Summary: summary}, nil
}

// healthSummary aggregates the agent's operational counters.
func (h *Handlers) healthSummary(ctx context.Context, _ *models.Schedule, agent *models.Agent) (*Result, error) {
	var parts []string

	open, err := h.stores.Tasks.ListByAssignee(ctx, agent.ID, []models.TaskStatus{
		models.TaskPending, models.TaskAssigned, models.TaskInProgress, models.TaskBlocked,
	})
	if err == nil {
		parts = append(parts, fmt.Sprintf("%d open tasks", len(open)))
	}
	if unread, err := h.stores.Messages.CountUnread(ctx, agent.ID); err == nil {
		parts = append(parts, fmt.Sprintf("%d unread messages", unread))
	}
	if pending, err := h.stores.Approvals.ListPending(ctx, agent.ID); err == nil {
		parts = append(parts, fmt.Sprintf("%d pending approvals", len(pending)))
	}
	if agent.DailyBudget > 0 {
		parts = append(parts, fmt.Sprintf("budget $%.2f of $%.2f used", agent.DailyBudgetUsed, agent.DailyBudget))
	}
	if len(parts) == 0 {
		return &Result{Summary: "No health data available"}, nil
	}
	return &Result{Summary: strings.Join(parts, "; ")}, nil
}

// consolidateMemory runs the memory maintenance pass for the agent.
func (h *Handlers) consolidateMemory(ctx context.Context, _ *models.Schedule, agent *models.Agent) (*Result, error) {
	report, err := h.memory.Consolidate(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Summary: fmt.Sprintf("Memories consolidated: %d expired, %d merged, %d promoted, %d summarized",
		report.Expired, report.Merged, report.Promoted, report.Summarized)}, nil
}

// resetBudgets zeroes every agent's daily spend counter. It ignores which
// agent's schedule fired it; the reset is global by design.
func (h *Handlers) resetBudgets(ctx context.Context, _ *models.Schedule, _ *models.Agent) (*Result, error) {
	n, err := h.budgets.ResetDailyBudgets(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{Summary: fmt.Sprintf("Daily budgets reset for %d agents", n)}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Package usage is the cost ledger. It prices every AI request, persists a
// usage row, advances the owning agent's daily spend, and raises budget
// notifications when the 80% and 100% thresholds are crossed.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/internal/observability"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// Notifier dispatches a master notification. Implemented by the notify
// service; nil disables dispatch.
type Notifier interface {
	Notify(ctx context.Context, n *models.MasterNotification) error
}

// Service implements ai.UsageRecorder and the summary/reset operations.
type Service struct {
	usage    store.UsageStore
	agents   store.AgentStore
	activity store.ActivityStore
	notifier Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

var _ ai.UsageRecorder = (*Service)(nil)

// NewService builds the ledger. notifier and metrics may be nil.
func NewService(stores store.StoreSet, notifier Notifier, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		usage:    stores.Usage,
		agents:   stores.Agents,
		activity: stores.Activity,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With("component", "usage"),
		now:      time.Now,
	}
}

// Record prices and persists one usage record, then applies the budget side
// effects. The row write is authoritative; threshold bookkeeping failures
// are logged and swallowed.
func (s *Service) Record(ctx context.Context, rec *models.UsageRecord) error {
	if rec == nil {
		return fmt.Errorf("usage: nil record")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	}
	if rec.CostUSD == 0 {
		rec.CostUSD = PriceFor(rec.Provider, rec.Model).Cost(rec.InputTokens, rec.OutputTokens)
	}

	if err := s.usage.Record(ctx, rec); err != nil {
		return fmt.Errorf("usage: record: %w", err)
	}

	if s.metrics != nil {
		s.metrics.AICostUSD.WithLabelValues(rec.Provider, rec.Model).Add(rec.CostUSD)
	}

	if rec.AgentID != "" {
		s.applyBudget(ctx, rec)
	}

	return nil
}

// applyBudget advances daily spend and fires threshold events. Crossings are
// edge-triggered: a threshold fires only on the request that crosses it.
func (s *Service) applyBudget(ctx context.Context, rec *models.UsageRecord) {
	used, err := s.agents.AddBudgetUsed(ctx, rec.AgentID, rec.CostUSD)
	if err != nil {
		s.logger.Warn("budget increment failed",
			"agent_id", rec.AgentID,
			"cost_usd", rec.CostUSD,
			"error", err)
		return
	}

	agent, err := s.agents.Get(ctx, rec.AgentID)
	if err != nil {
		s.logger.Warn("budget lookup failed", "agent_id", rec.AgentID, "error", err)
		return
	}
	if agent.DailyBudget <= 0 {
		return
	}

	before := used - rec.CostUSD
	if crossed(before, used, agent.DailyBudget, 1.0) {
		s.raiseBudgetEvent(ctx, agent, rec, used, models.NotifyBudgetExceeded)
	} else if crossed(before, used, agent.DailyBudget, 0.8) {
		s.raiseBudgetEvent(ctx, agent, rec, used, models.NotifyBudgetWarning)
	}
}

func crossed(before, after, budget, threshold float64) bool {
	limit := budget * threshold
	return before < limit && after >= limit
}

func (s *Service) raiseBudgetEvent(ctx context.Context, agent *models.Agent, rec *models.UsageRecord, used float64, kind models.NotificationType) {
	title := "Daily budget at 80%"
	if kind == models.NotifyBudgetExceeded {
		title = "Daily budget exceeded"
	}
	body := fmt.Sprintf("%s has used $%.4f of its $%.2f daily budget.", agent.Name, used, agent.DailyBudget)

	if s.activity != nil {
		entry := &models.ActivityEntry{
			ID:      uuid.NewString(),
			AgentID: agent.ID,
			UserID:  agent.UserID,
			Kind:    string(kind),
			Summary: body,
			Detail: map[string]any{
				"daily_budget": agent.DailyBudget,
				"used":         used,
				"record_id":    rec.ID,
			},
			CreatedAt: s.now().UTC(),
		}
		if err := s.activity.Append(ctx, entry); err != nil {
			s.logger.Warn("budget event log failed", "agent_id", agent.ID, "error", err)
		}
	}

	if s.notifier == nil || !agent.HasMaster() {
		return
	}
	n := &models.MasterNotification{
		ID:      uuid.NewString(),
		AgentID: agent.ID,
		UserID:  agent.UserID,
		Type:    kind,
		Title:   title,
		Body:    body,
		Channel: agent.Master.Channel,
		Address: agent.Master.Address,
		Context: map[string]any{
			"daily_budget": agent.DailyBudget,
			"used":         used,
		},
		ReferenceType: "usage",
		ReferenceID:   rec.ID,
		Status:        models.DeliveryPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("budget notification failed", "agent_id", agent.ID, "type", kind, "error", err)
	}
}

// SummaryOptions selects the aggregation window. Explicit From/To win over
// Period; the default window is today.
type SummaryOptions struct {
	Period string // day | week | month
	From   time.Time
	To     time.Time
}

// Summary aggregates usage over a window and attaches the agent's budget
// position. Empty agentID aggregates all agents without a budget position.
func (s *Service) Summary(ctx context.Context, agentID string, opts SummaryOptions) (*models.UsageSummary, error) {
	from, to := s.window(opts)
	summary, err := s.usage.Summarize(ctx, agentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("usage: summarize: %w", err)
	}

	if agentID != "" {
		agent, err := s.agents.Get(ctx, agentID)
		if err == nil {
			summary.DailyBudget = agent.DailyBudget
			summary.DailyBudgetUsed = agent.DailyBudgetUsed
		}
	}
	return summary, nil
}

func (s *Service) window(opts SummaryOptions) (time.Time, time.Time) {
	if !opts.From.IsZero() || !opts.To.IsZero() {
		from, to := opts.From, opts.To
		if to.IsZero() {
			to = s.now().UTC()
		}
		return from, to
	}

	now := s.now().UTC()
	switch opts.Period {
	case "week":
		return now.AddDate(0, 0, -7), now
	case "month":
		return now.AddDate(0, -1, 0), now
	default:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return day, now
	}
}

// BudgetState returns an agent's current spend against its daily budget.
func (s *Service) BudgetState(ctx context.Context, agentID string) (*models.BudgetState, error) {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &models.BudgetState{
		AgentID:     agent.ID,
		DailyBudget: agent.DailyBudget,
		UsedToday:   agent.DailyBudgetUsed,
	}, nil
}

// ResetDailyBudgets zeroes every agent's daily spend. Usage history is
// untouched. Run by the budget_reset schedule action.
func (s *Service) ResetDailyBudgets(ctx context.Context) (int, error) {
	n, err := s.agents.ResetDailyBudgets(ctx)
	if err != nil {
		return 0, fmt.Errorf("usage: reset budgets: %w", err)
	}
	s.logger.Info("daily budgets reset", "agents", n)
	return n, nil
}

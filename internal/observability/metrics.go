package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central collection of Prometheus metrics for the runtime.
//
// Tracked dimensions:
//   - Reasoning run counts, iterations, and wall time by trigger type
//   - Tool execution counts and latencies
//   - AI request performance, token, and cost accounting
//   - Scheduler job outcomes by action type
//   - Approval and notification flows
//   - Rate limit and budget denials
type Metrics struct {
	// ReasoningRuns counts completed runs.
	// Labels: trigger, outcome (completed|silent|error|rate_limited|budget|cancelled)
	ReasoningRuns *prometheus.CounterVec

	// ReasoningIterations observes iterations consumed per run.
	// Labels: trigger
	ReasoningIterations *prometheus.HistogramVec

	// ReasoningDuration measures run wall time in seconds.
	// Labels: trigger
	ReasoningDuration *prometheus.HistogramVec

	// ActiveRuns gauges currently executing reasoning runs.
	ActiveRuns prometheus.Gauge

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (executed|failed|queued_for_approval|async_started)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// AIRequests counts model calls.
	// Labels: provider, model, status (success|error)
	AIRequests *prometheus.CounterVec

	// AIRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	AIRequestDuration *prometheus.HistogramVec

	// AITokens tracks token consumption.
	// Labels: provider, model, type (input|output)
	AITokens *prometheus.CounterVec

	// AICostUSD accumulates estimated spend in US dollars.
	// Labels: provider, model
	AICostUSD *prometheus.CounterVec

	// SchedulerJobs counts schedule firings.
	// Labels: action, status (success|failed|skipped|cancelled)
	SchedulerJobs *prometheus.CounterVec

	// SchedulerJobDuration measures job runtime in seconds.
	// Labels: action
	SchedulerJobDuration *prometheus.HistogramVec

	// Approvals counts approval requests by terminal status.
	// Labels: status (pending|approved|rejected|expired)
	Approvals *prometheus.CounterVec

	// Notifications counts master notifications.
	// Labels: type, status (sent|failed|suppressed)
	Notifications *prometheus.CounterVec

	// RateLimitDenials counts runs refused by the hourly cycle cap.
	// Labels: trigger
	RateLimitDenials *prometheus.CounterVec

	// BudgetDenials counts runs refused because the daily budget was spent.
	BudgetDenials prometheus.Counter

	// Errors tracks errors by component and type.
	// Labels: component, error_type
	Errors *prometheus.CounterVec

	// WSClients gauges connected websocket event subscribers.
	WSClients prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics against reg. Tests pass an isolated
// prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReasoningRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legion_reasoning_runs_total",
				Help: "Total reasoning runs by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),

		ReasoningIterations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "legion_reasoning_iterations",
				Help:    "Iterations consumed per reasoning run",
				Buckets: []float64{1, 2, 3, 5, 8, 12, 15, 20},
			},
			[]string{"trigger"},
		),

		ReasoningDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "legion_reasoning_duration_seconds",
				Help:    "Wall time of reasoning runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 240},
			},
			[]string{"trigger"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "legion_active_runs",
				Help: "Currently executing reasoning runs",
			},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legion_tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "legion_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		AIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legion_ai_requests_total",
				Help: "Total AI model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		AIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "legion_ai_request_duration_seconds",
				Help:    "Duration of AI model requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		AITokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legion_ai_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		AICostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legion_ai_cost_usd_total",
				Help: "Estimated AI spend in US dollars",
			},
			[]string{"provider", "model"},
		),

		SchedulerJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legion_scheduler_jobs_total",
				Help: "Total scheduled job executions by action and status",
			},
			[]string{"action", "status"},
		),

		SchedulerJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "legion_scheduler_job_duration_seconds",
				Help:    "Duration of scheduled jobs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"action"},
		),

		Approvals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legion_approvals_total",
				Help: "Approval requests by status transition",
			},
			[]string{"status"},
		),

		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legion_notifications_total",
				Help: "Master notifications by type and delivery status",
			},
			[]string{"type", "status"},
		),

		RateLimitDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legion_rate_limit_denials_total",
				Help: "Reasoning runs refused by the hourly cycle cap",
			},
			[]string{"trigger"},
		),

		BudgetDenials: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "legion_budget_denials_total",
				Help: "Reasoning runs refused because the daily budget was exhausted",
			},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legion_errors_total",
				Help: "Total errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		WSClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "legion_ws_clients",
				Help: "Connected websocket event subscribers",
			},
		),
	}
}

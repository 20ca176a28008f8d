package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/legionruntime/legion/internal/observability"
	"github.com/legionruntime/legion/pkg/models"
)

// UsageRecorder receives exactly one record per AI request. Implementations
// own cost derivation and budget side effects.
type UsageRecorder interface {
	Record(ctx context.Context, rec *models.UsageRecord) error
}

// RecordingRouter decorates a Router with usage accounting and metrics.
// Accounting failures are logged and never propagate; the response already
// happened and the caller should get it.
type RecordingRouter struct {
	next    Router
	usage   UsageRecorder
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecordingRouter wraps next. usage and metrics may be nil, in which case
// the corresponding sink is skipped.
func NewRecordingRouter(next Router, usage UsageRecorder, metrics *observability.Metrics, logger *slog.Logger) *RecordingRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingRouter{
		next:    next,
		usage:   usage,
		metrics: metrics,
		logger:  logger.With("component", "ai_recorder"),
		now:     time.Now,
	}
}

func (r *RecordingRouter) Process(ctx context.Context, req *Request, opts *Options) (*Response, error) {
	start := r.now()
	resp, err := r.next.Process(ctx, req, opts)
	elapsed := r.now().Sub(start)

	if err != nil {
		if r.metrics != nil {
			provider := req.ForceProvider
			if provider == "" {
				provider = "unknown"
			}
			r.metrics.AIRequests.WithLabelValues(provider, "unknown", "error").Inc()
		}
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.AIRequests.WithLabelValues(resp.Provider, resp.Model, "ok").Inc()
		r.metrics.AIRequestDuration.WithLabelValues(resp.Provider, resp.Model).Observe(elapsed.Seconds())
		r.metrics.AITokens.WithLabelValues(resp.Provider, resp.Model, "input").Add(float64(resp.Usage.PromptTokens))
		r.metrics.AITokens.WithLabelValues(resp.Provider, resp.Model, "output").Add(float64(resp.Usage.CompletionTokens))
	}

	if r.usage != nil {
		requestType := req.RequestType
		if requestType == "" {
			requestType = "reasoning"
		}
		rec := &models.UsageRecord{
			ID:             uuid.NewString(),
			AgentID:        req.AgentID,
			UserID:         req.UserID,
			RequestType:    requestType,
			Provider:       resp.Provider,
			Model:          resp.Model,
			InputTokens:    resp.Usage.PromptTokens,
			OutputTokens:   resp.Usage.CompletionTokens,
			TotalTokens:    resp.Usage.TotalTokens,
			TaskID:         req.TaskID,
			ConversationID: req.ConversationID,
			Source:         req.Source,
			CreatedAt:      r.now().UTC(),
		}
		if recErr := r.usage.Record(ctx, rec); recErr != nil {
			r.logger.Warn("usage record failed",
				"agent_id", req.AgentID,
				"provider", resp.Provider,
				"error", recErr)
		}
	}

	return resp, nil
}

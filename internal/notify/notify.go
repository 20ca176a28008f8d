// Package notify delivers typed notifications to an agent's master contact.
// Every notification is persisted before the first send attempt, so the
// ledger survives a crash mid-delivery; sends retry with backoff and the row
// tracks the delivery status throughout.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/observability"
	"github.com/legionruntime/legion/internal/retry"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// Sender delivers one rendered notification over a single channel. Senders
// wrap a permanent error when retrying cannot help (bad address, revoked
// credentials).
type Sender interface {
	Channel() string
	Send(ctx context.Context, address, text string) error
}

// Service fans notifications out to channel senders and tracks delivery
// status on the persisted row.
type Service struct {
	store   store.NotificationStore
	senders map[string]Sender
	policy  retry.Policy
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds the notification service. retries bounds send attempts
// per dispatch; zero means the default of three.
func NewService(stores store.StoreSet, retries int, metrics *observability.Metrics, logger *slog.Logger, senders ...Sender) *Service {
	if retries <= 0 {
		retries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:   stores.Notifications,
		senders: make(map[string]Sender, len(senders)),
		policy:  retry.Exponential(retries, time.Second, 30*time.Second),
		metrics: metrics,
		logger:  logger.With("component", "notify"),
		now:     time.Now,
	}
	for _, sd := range senders {
		s.senders[sd.Channel()] = sd
	}
	return s
}

// Register adds a channel sender. Later registrations replace earlier ones
// for the same channel.
func (s *Service) Register(sender Sender) {
	s.senders[sender.Channel()] = sender
}

// Notify persists n and dispatches it over its channel. The row is written
// even when delivery fails; the returned error reports the delivery outcome.
func (s *Service) Notify(ctx context.Context, n *models.MasterNotification) error {
	if n == nil {
		return fmt.Errorf("notify: nil notification")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if n.Status == "" {
		n.Status = models.DeliveryPending
	}

	if err := s.store.Create(ctx, n); err != nil {
		return fmt.Errorf("notify: create: %w", err)
	}
	return s.dispatch(ctx, n)
}

// DispatchPending re-sends notifications stuck in pending, typically after a
// restart killed the process between persist and send. It returns how many
// rows were dispatched successfully.
func (s *Service) DispatchPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ListPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("notify: list pending: %w", err)
	}
	sent := 0
	for _, n := range pending {
		if err := s.dispatch(ctx, n); err != nil {
			s.logger.Warn("pending notification redelivery failed",
				"notification_id", n.ID, "channel", n.Channel, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// MarkRead stamps the read receipt on a delivered notification.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("notify: get: %w", err)
	}
	if n.ReadAt != nil {
		return nil
	}
	ts := s.now().UTC()
	n.ReadAt = &ts
	if err := s.store.Update(ctx, n); err != nil {
		return fmt.Errorf("notify: update: %w", err)
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, n *models.MasterNotification) error {
	sender, ok := s.senders[n.Channel]
	if !ok {
		s.fail(ctx, n, 0, fmt.Sprintf("no sender for channel %q", n.Channel))
		return fmt.Errorf("notify: no sender for channel %q", n.Channel)
	}

	text := Format(n)
	attempts, err := s.policy.Do(ctx, func(ctx context.Context) error {
		return sender.Send(ctx, n.Address, text)
	})
	if err != nil {
		s.fail(ctx, n, attempts, err.Error())
		return fmt.Errorf("notify: send via %s: %w", n.Channel, err)
	}

	ts := s.now().UTC()
	n.Status = models.DeliverySent
	n.Attempts = attempts
	n.SentAt = &ts
	n.Error = ""
	if err := s.store.Update(ctx, n); err != nil {
		s.logger.Warn("sent notification not recorded", "notification_id", n.ID, "error", err)
	}
	s.count(n.Type, "sent")
	s.logger.Info("notification sent",
		"notification_id", n.ID, "type", n.Type, "channel", n.Channel, "attempts", attempts)
	return nil
}

func (s *Service) fail(ctx context.Context, n *models.MasterNotification, attempts int, reason string) {
	n.Status = models.DeliveryFailed
	if attempts > 0 {
		n.Attempts = attempts
	}
	n.Error = reason
	if err := s.store.Update(ctx, n); err != nil {
		s.logger.Warn("failed notification not recorded", "notification_id", n.ID, "error", err)
	}
	s.count(n.Type, "failed")
	s.logger.Warn("notification delivery failed",
		"notification_id", n.ID, "type", n.Type, "channel", n.Channel, "reason", reason)
}

func (s *Service) count(t models.NotificationType, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Notifications.WithLabelValues(string(t), status).Inc()
}

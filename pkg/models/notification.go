package models

import "time"

// NotificationType is the event class a master notification reports.
type NotificationType string

const (
	NotifyApprovalNeeded  NotificationType = "approval_needed"
	NotifyApprovalExpired NotificationType = "approval_expired"
	NotifyDailyReport     NotificationType = "daily_report"
	NotifyCriticalError   NotificationType = "critical_error"
	NotifyBudgetWarning   NotificationType = "budget_warning"
	NotifyBudgetExceeded  NotificationType = "budget_exceeded"
	NotifyTaskCompleted   NotificationType = "task_completed"
	NotifyOutOfScope      NotificationType = "out_of_scope"
	NotifyTest            NotificationType = "test"
)

// DeliveryStatus tracks a notification through the channel sender.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// MasterNotification is one message to the agent's master contact. Failed
// sends are retried with backoff before the row is marked failed.
type MasterNotification struct {
	ID      string           `json:"id"`
	AgentID string           `json:"agent_id"`
	UserID  string           `json:"user_id"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Body    string           `json:"body"`

	Channel string `json:"channel"`
	Address string `json:"address"`

	// Context carries type-specific payload rendered into the message,
	// for example the approval ID or the budget fraction crossed.
	Context map[string]any `json:"context,omitempty"`

	// ReferenceType and ReferenceID link back to the row this notification
	// is about (approval, task, usage record).
	ReferenceType string `json:"reference_type,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`

	Status   DeliveryStatus `json:"status"`
	Attempts int            `json:"attempts"`
	Error    string         `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

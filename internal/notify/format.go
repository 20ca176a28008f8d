package notify

import (
	"fmt"
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

// Priority orders notifications for formatting and client display.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// PriorityFor maps a notification type to its display priority.
func PriorityFor(t models.NotificationType) Priority {
	switch t {
	case models.NotifyCriticalError, models.NotifyBudgetExceeded:
		return PriorityUrgent
	case models.NotifyApprovalNeeded, models.NotifyBudgetWarning, models.NotifyOutOfScope:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Format renders a notification into channel-ready text. Approval requests
// carry the reply keywords so the master can answer in place.
func Format(n *models.MasterNotification) string {
	var b strings.Builder

	switch PriorityFor(n.Type) {
	case PriorityUrgent:
		b.WriteString("🚨 ")
	case PriorityHigh:
		b.WriteString("⚠️ ")
	}
	b.WriteString(strings.TrimSpace(n.Title))

	if body := strings.TrimSpace(n.Body); body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}

	if n.Type == models.NotifyApprovalNeeded {
		if id, ok := n.Context["approval_id"].(string); ok && id != "" {
			fmt.Fprintf(&b, "\n\nReply APPROVE %s or REJECT %s.", id, id)
		}
	}
	return b.String()
}

package notify

import (
	"strings"
	"testing"

	"github.com/legionruntime/legion/pkg/models"
)

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		typ  models.NotificationType
		want Priority
	}{
		{models.NotifyCriticalError, PriorityUrgent},
		{models.NotifyBudgetExceeded, PriorityUrgent},
		{models.NotifyApprovalNeeded, PriorityHigh},
		{models.NotifyBudgetWarning, PriorityHigh},
		{models.NotifyOutOfScope, PriorityHigh},
		{models.NotifyTaskCompleted, PriorityNormal},
		{models.NotifyDailyReport, PriorityNormal},
		{models.NotifyTest, PriorityNormal},
	}
	for _, tt := range tests {
		if got := PriorityFor(tt.typ); got != tt.want {
			t.Errorf("PriorityFor(%s) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	t.Run("urgent prefix", func(t *testing.T) {
		got := Format(&models.MasterNotification{
			Type:  models.NotifyBudgetExceeded,
			Title: "Daily budget exceeded",
			Body:  "Atlas has used $1.04 of $1.00 today.",
		})
		if !strings.HasPrefix(got, "🚨 Daily budget exceeded") {
			t.Errorf("Format() = %q, want urgent prefix", got)
		}
		if !strings.Contains(got, "\n\nAtlas has used") {
			t.Errorf("Format() = %q, want body on its own paragraph", got)
		}
	})

	t.Run("normal has no prefix", func(t *testing.T) {
		got := Format(&models.MasterNotification{
			Type:  models.NotifyTaskCompleted,
			Title: "Task finished",
		})
		if got != "Task finished" {
			t.Errorf("Format() = %q, want bare title", got)
		}
	})

	t.Run("approval carries reply keywords", func(t *testing.T) {
		got := Format(&models.MasterNotification{
			Type:    models.NotifyApprovalNeeded,
			Title:   "Approval needed: send email",
			Body:    "Atlas wants to email john@example.com.",
			Context: map[string]any{"approval_id": "apr-42"},
		})
		if !strings.Contains(got, "Reply APPROVE apr-42 or REJECT apr-42.") {
			t.Errorf("Format() = %q, want reply instructions", got)
		}
	})

	t.Run("approval without id omits keywords", func(t *testing.T) {
		got := Format(&models.MasterNotification{
			Type:  models.NotifyApprovalNeeded,
			Title: "Approval needed",
		})
		if strings.Contains(got, "APPROVE") {
			t.Errorf("Format() = %q, want no reply instructions without an id", got)
		}
	})
}

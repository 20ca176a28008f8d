package doctor

import (
	"context"
	"fmt"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// DatabaseReport summarizes the persisted runtime state.
type DatabaseReport struct {
	Agents           int
	ActiveSchedules  int
	PendingApprovals int
	Warnings         []string
}

// InspectDatabase counts the rows an operator cares about and flags state
// that suggests an unclean shutdown.
func InspectDatabase(ctx context.Context, stores store.StoreSet) (*DatabaseReport, error) {
	report := &DatabaseReport{}

	_, total, err := stores.Agents.List(ctx, "", 1, 0)
	if err != nil {
		return nil, fmt.Errorf("count agents: %w", err)
	}
	report.Agents = total

	schedules, err := stores.Schedules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	report.ActiveSchedules = len(schedules)

	pending, err := stores.Approvals.ListPending(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	report.PendingApprovals = len(pending)

	for _, s := range schedules {
		if s.NextRunAt == nil && s.Type != models.ScheduleEvent {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"schedule %s is active but has no next run time", s.ID))
		}
	}
	return report, nil
}

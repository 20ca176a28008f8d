package tools

import (
	"context"
	"fmt"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// agentStatusTool reports the agent's own operational state: familiarity,
// budget, skills, and open work. Read-only, so it stays in the safe set.
func agentStatusTool(stores store.StoreSet) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "agentStatus",
			Description: "Report your own status: budget, skills, and open work.",
			Group:       GroupStandard,
			Safe:        true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			profile, err := stores.Agents.Get(ctx, tctx.AgentID)
			if err != nil {
				if isNotFound(err) {
					return errResult("agent not found: %s", tctx.AgentID), nil
				}
				return nil, fmt.Errorf("get agent: %w", err)
			}

			status := map[string]any{
				"name":         profile.Name,
				"autonomy":     string(profile.Autonomy),
				"interactions": profile.InteractionCount,
				"familiarity":  string(models.FamiliarityBand(profile.InteractionCount)),
			}
			if profile.DailyBudget > 0 {
				status["dailyBudget"] = profile.DailyBudget
				status["dailyBudgetUsed"] = profile.DailyBudgetUsed
			}

			if stores.Skills != nil {
				skills, err := stores.Skills.ListByAgent(ctx, tctx.AgentID)
				if err == nil && len(skills) > 0 {
					levels := make(map[string]int, len(skills))
					for _, s := range skills {
						levels[string(s.Category)] = s.Level
					}
					status["skills"] = levels
				}
			}
			if stores.Tasks != nil {
				open, err := stores.Tasks.ListByAssignee(ctx, tctx.AgentID, []models.TaskStatus{
					models.TaskPending,
					models.TaskAssigned,
					models.TaskInProgress,
					models.TaskBlocked,
				})
				if err == nil {
					status["openTasks"] = len(open)
				}
			}
			if stores.Schedules != nil {
				schedules, err := stores.Schedules.ListByAgent(ctx, tctx.AgentID)
				if err == nil {
					active := 0
					for _, s := range schedules {
						if s.Active {
							active++
						}
					}
					status["activeSchedules"] = active
				}
			}
			return okResult(status), nil
		},
	}
}

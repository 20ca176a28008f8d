package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

func goalTools(goals store.GoalStore) []Tool {
	return []Tool{createGoalTool(goals), listGoalsTool(goals), completeGoalTool(goals)}
}

func createGoalTool(goals store.GoalStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "createGoal",
			Description: "Set a standing goal that stays in your context.",
			Required:    []string{"title"},
			Optional:    []string{"detail"},
			ParamDocs: map[string]string{
				"title":  "The goal in one line.",
				"detail": "What success looks like.",
			},
			Group: GroupStandard,
			Safe:  true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Title  string `json:"title"`
				Detail string `json:"detail"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			title := strings.TrimSpace(input.Title)
			if title == "" {
				return errResult("title is required"), nil
			}

			goal := &models.Goal{
				ID:        uuid.NewString(),
				AgentID:   tctx.AgentID,
				UserID:    tctx.UserID,
				Title:     title,
				Detail:    strings.TrimSpace(input.Detail),
				Active:    true,
				CreatedAt: time.Now().UTC(),
			}
			if err := goals.Create(ctx, goal); err != nil {
				return nil, fmt.Errorf("create goal: %w", err)
			}
			return okResult(map[string]any{"goalId": goal.ID, "title": goal.Title}), nil
		},
	}
}

func listGoalsTool(goals store.GoalStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "listGoals",
			Description: "List your active goals.",
			Group:       GroupStandard,
			Baseline:    true,
			Safe:        true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			active, err := goals.ListActive(ctx, tctx.AgentID)
			if err != nil {
				return nil, fmt.Errorf("list goals: %w", err)
			}
			items := make([]map[string]any, 0, len(active))
			for _, g := range active {
				items = append(items, map[string]any{
					"goalId": g.ID,
					"title":  g.Title,
					"detail": g.Detail,
				})
			}
			return okResult(map[string]any{"count": len(items), "goals": items}), nil
		},
	}
}

func completeGoalTool(goals store.GoalStore) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "completeGoal",
			Description: "Retire a goal that is done or no longer relevant.",
			Required:    []string{"goalId"},
			ParamDocs: map[string]string{
				"goalId": "ID of the goal to retire.",
			},
			Group: GroupStandard,
			Safe:  true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			id, fail := requiredName(params, "goalId")
			if fail != nil {
				return fail, nil
			}

			// Deactivate only goals this agent actually owns.
			active, err := goals.ListActive(ctx, tctx.AgentID)
			if err != nil {
				return nil, fmt.Errorf("list goals: %w", err)
			}
			owned := false
			for _, g := range active {
				if g.ID == id {
					owned = true
					break
				}
			}
			if !owned {
				return errResult("goal not found: %s", id), nil
			}

			if err := goals.Deactivate(ctx, id); err != nil {
				return nil, fmt.Errorf("deactivate goal: %w", err)
			}
			return okResult(map[string]any{"goalId": id, "active": false}), nil
		},
	}
}

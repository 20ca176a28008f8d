package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

// Planner decomposes a goal into an executable plan.
type Planner interface {
	Decompose(ctx context.Context, tctx *models.ToolContext, goal string) (*models.Plan, error)
}

func generatePlanTool(planner Planner) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "generatePlan",
			Description: "Break a complex goal into an executable multi-step plan.",
			Required:    []string{"goal"},
			Optional:    []string{"context"},
			ParamDocs: map[string]string{
				"goal":    "The goal to decompose.",
				"context": "Constraints or background for the planner.",
			},
			Group: GroupStandard,
			Safe:  true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Goal    string `json:"goal"`
				Context string `json:"context"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			goal := strings.TrimSpace(input.Goal)
			if goal == "" {
				return errResult("goal is required"), nil
			}
			if extra := strings.TrimSpace(input.Context); extra != "" {
				goal = goal + "\n\nContext: " + extra
			}

			plan, err := planner.Decompose(ctx, tctx, goal)
			if err != nil {
				return nil, fmt.Errorf("generate plan: %w", err)
			}
			steps := make([]string, len(plan.Steps))
			for i, s := range plan.Steps {
				steps[i] = s.Title
			}
			return okResult(map[string]any{
				"planId": plan.ID,
				"steps":  steps,
			}), nil
		},
	}
}

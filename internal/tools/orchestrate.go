package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

// AgentManager creates child agents and delegates work to them.
type AgentManager interface {
	// Orchestrate hands a task to a child agent (picked by specialist name
	// or chosen automatically) and returns a tracking ID. The child runs
	// asynchronously and reports back through a task_response event.
	Orchestrate(ctx context.Context, tctx *models.ToolContext, task, specialist string) (string, error)

	// CreateSpecialist provisions a named child agent.
	CreateSpecialist(ctx context.Context, tctx *models.ToolContext, name, role, systemPrompt string) (*models.Agent, error)
}

func orchestrationTools(agents AgentManager) []Tool {
	return []Tool{orchestrateTool(agents), createSpecialistTool(agents)}
}

func orchestrateTool(agents AgentManager) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "orchestrate",
			Description: "Delegate a task to one of your specialist agents.",
			Required:    []string{"task"},
			Optional:    []string{"specialist"},
			ParamDocs: map[string]string{
				"task":       "What the specialist should do.",
				"specialist": "Name of the specialist to use; omit to pick automatically.",
			},
			Group: GroupOrchestration,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Task       string `json:"task"`
				Specialist string `json:"specialist"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			task := strings.TrimSpace(input.Task)
			if task == "" {
				return errResult("task is required"), nil
			}

			trackingID, err := agents.Orchestrate(ctx, tctx, task, strings.TrimSpace(input.Specialist))
			if err != nil {
				return nil, fmt.Errorf("orchestrate: %w", err)
			}
			return asyncResult(trackingID), nil
		},
	}
}

func createSpecialistTool(agents AgentManager) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "createSpecialist",
			Description: "Create a new specialist agent under your control.",
			Required:    []string{"name", "role"},
			Optional:    []string{"systemPrompt"},
			ParamDocs: map[string]string{
				"name":         "Short name for the specialist.",
				"role":         "What the specialist is for.",
				"systemPrompt": "Custom instructions; a default is derived from the role.",
			},
			Group: GroupOrchestration,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Name         string `json:"name"`
				Role         string `json:"role"`
				SystemPrompt string `json:"systemPrompt"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			name := strings.TrimSpace(input.Name)
			if name == "" {
				return errResult("name is required"), nil
			}
			role := strings.TrimSpace(input.Role)
			if role == "" {
				return errResult("role is required"), nil
			}

			child, err := agents.CreateSpecialist(ctx, tctx, name, role, strings.TrimSpace(input.SystemPrompt))
			if err != nil {
				return nil, fmt.Errorf("create specialist: %w", err)
			}
			return okResult(map[string]any{
				"agentId": child.ID,
				"name":    child.Name,
			}), nil
		},
	}
}

package tools

import (
	"context"
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

// HumanInput relays a question to the agent's master and returns the
// tracking ID of the created request. The reply arrives as a later trigger.
type HumanInput interface {
	Ask(ctx context.Context, tctx *models.ToolContext, question, detail, taskID string) (string, error)
}

func coreTools(deps Deps) []Tool {
	out := []Tool{respondTool(), doneTool(), silentTool()}
	if deps.Humans != nil {
		out = append(out, requestHumanInputTool(deps.Humans))
	}
	return out
}

func respondTool() Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "respond",
			Description: "Send a message to the person you are talking with.",
			Required:    []string{"message"},
			ParamDocs:   map[string]string{"message": "The message text to send."},
			Group:       GroupCore,
			Baseline:    true,
			Safe:        true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Message string `json:"message"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			msg := strings.TrimSpace(input.Message)
			if msg == "" {
				return errResult("message is required"), nil
			}

			sent := false
			if tctx != nil && tctx.Trigger != nil && tctx.Trigger.Respond != nil {
				if err := tctx.Trigger.Respond(msg); err == nil {
					sent = true
				}
			}
			return okResult(map[string]any{
				"message":         msg,
				"sentImmediately": sent,
			}), nil
		},
	}
}

func doneTool() Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "done",
			Description: "Finish the current run when the work is complete.",
			Optional:    []string{"summary"},
			ParamDocs:   map[string]string{"summary": "Short summary of what was accomplished."},
			Group:       GroupCore,
			Baseline:    true,
			Safe:        true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Summary string `json:"summary"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			return okResult(map[string]any{"summary": strings.TrimSpace(input.Summary)}), nil
		},
	}
}

func silentTool() Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "silent",
			Description: "Finish without sending any user-facing message.",
			Optional:    []string{"reason"},
			ParamDocs:   map[string]string{"reason": "Why no response is needed."},
			Group:       GroupCore,
			Baseline:    true,
			Safe:        true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Reason string `json:"reason"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			return okResult(map[string]any{"reason": strings.TrimSpace(input.Reason)}), nil
		},
	}
}

func requestHumanInputTool(humans HumanInput) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "requestHumanInput",
			Description: "Ask your master a question and continue once they reply.",
			Required:    []string{"question"},
			Optional:    []string{"context", "taskId"},
			ParamDocs: map[string]string{
				"question": "The question to ask.",
				"context":  "Background that helps the master answer.",
				"taskId":   "Task to mark blocked while waiting.",
			},
			Group:    GroupCore,
			Baseline: true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Question string `json:"question"`
				Context  string `json:"context"`
				TaskID   string `json:"taskId"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			question := strings.TrimSpace(input.Question)
			if question == "" {
				return errResult("question is required"), nil
			}

			id, err := humans.Ask(ctx, tctx, question, strings.TrimSpace(input.Context), strings.TrimSpace(input.TaskID))
			if err != nil {
				return nil, err
			}
			return asyncResult(id), nil
		},
	}
}

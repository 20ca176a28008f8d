package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/pkg/models"
)

// cliToolIDs maps authenticated CLI provider names onto their prompt tools.
var cliToolIDs = map[string]string{
	"claude-code": "promptClaudeCode",
	"codex":       "promptCodex",
	"gemini-cli":  "promptGemini",
	"aider":       "promptAider",
}

func cliPromptTools(router ai.Router, providers []string) []Tool {
	var out []Tool
	for _, provider := range providers {
		id, known := cliToolIDs[strings.ToLower(strings.TrimSpace(provider))]
		if !known {
			continue
		}
		out = append(out, cliPromptTool(router, id, strings.ToLower(strings.TrimSpace(provider))))
	}
	return out
}

func cliPromptTool(router ai.Router, id, provider string) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          id,
			Description: fmt.Sprintf("Hand a coding or document task to the %s CLI and return its output.", provider),
			Required:    []string{"prompt"},
			Optional:    []string{"workdir"},
			ParamDocs: map[string]string{
				"prompt":  "The task for the CLI, with full context.",
				"workdir": "Workspace subdirectory to run in.",
			},
			Group:       GroupCLI,
			CLIProvider: provider,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Prompt  string `json:"prompt"`
				Workdir string `json:"workdir"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			prompt := strings.TrimSpace(input.Prompt)
			if prompt == "" {
				return errResult("prompt is required"), nil
			}
			if dir := strings.TrimSpace(input.Workdir); dir != "" {
				prompt = fmt.Sprintf("Working directory: %s\n\n%s", dir, prompt)
			}

			resp, err := router.Process(ctx, &ai.Request{
				Task:          "cli delegation",
				Messages:      []ai.Message{{Role: "user", Content: prompt}},
				ForceProvider: provider,
				AgentID:       tctx.AgentID,
				UserID:        tctx.UserID,
				RequestType:   "reasoning",
				Source:        id,
			}, &ai.Options{IsAgentic: true})
			if err != nil {
				return nil, fmt.Errorf("prompt %s: %w", provider, err)
			}

			result := map[string]any{
				"provider": provider,
				"response": resp.Content,
			}
			if len(resp.OutputFiles) > 0 {
				files := make([]map[string]any, 0, len(resp.OutputFiles))
				for _, f := range resp.OutputFiles {
					files = append(files, map[string]any{
						"name": f.Name,
						"path": f.FullPath,
						"size": f.SizeHuman,
					})
				}
				result["outputFiles"] = files
			}
			return okResult(result), nil
		},
	}
}

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

// DocumentGenerator writes agent-produced files into the user's workspace
// and returns the stored path.
type DocumentGenerator interface {
	Generate(ctx context.Context, tctx *models.ToolContext, filename, format, content string) (string, error)
}

func generateDocumentTool(docs DocumentGenerator) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "generateDocument",
			Description: "Write a document into the workspace for later delivery.",
			Required:    []string{"filename", "content"},
			Optional:    []string{"format"},
			ParamDocs: map[string]string{
				"filename": "Name for the file, without directories.",
				"content":  "The document body.",
				"format":   "markdown, html, csv, or txt (default markdown).",
			},
			Group: GroupStandard,
			Safe:  true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Filename string `json:"filename"`
				Content  string `json:"content"`
				Format   string `json:"format"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			filename := strings.TrimSpace(input.Filename)
			if filename == "" {
				return errResult("filename is required"), nil
			}
			if strings.ContainsAny(filename, "/\\") {
				return errResult("filename must not contain path separators"), nil
			}
			if input.Content == "" {
				return errResult("content is required"), nil
			}
			format := strings.ToLower(strings.TrimSpace(input.Format))
			if format == "" {
				format = "markdown"
			}

			path, err := docs.Generate(ctx, tctx, filename, format, input.Content)
			if err != nil {
				return nil, fmt.Errorf("generate document: %w", err)
			}
			return okResult(map[string]any{
				"filename": filename,
				"format":   format,
				"path":     path,
			}), nil
		},
	}
}

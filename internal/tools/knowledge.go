package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

// KnowledgeSnippet is one retrieved passage from an internal library.
type KnowledgeSnippet struct {
	Library  string  `json:"library"`
	Document string  `json:"document"`
	Source   string  `json:"source,omitempty"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// KnowledgeBase answers semantic queries over an agent's document
// libraries. The rag service implements it.
type KnowledgeBase interface {
	Retrieve(ctx context.Context, agentID, query string, topK int, minScore float64) ([]KnowledgeSnippet, error)
}

const (
	defaultKnowledgeResults  = 3
	defaultKnowledgeMinScore = 0.5
)

func searchKnowledgeTool(kb KnowledgeBase) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "searchKnowledge",
			Description: "Search the agent's internal knowledge libraries. Prefer this over searchWeb for anything the libraries might cover.",
			Required:    []string{"query"},
			Optional:    []string{"maxResults"},
			ParamDocs: map[string]string{
				"query":      "What to look up.",
				"maxResults": "How many passages to return (default 3).",
			},
			ParamTypes: map[string]string{"maxResults": "integer"},
			Group:      GroupStandard,
			Baseline:   true,
			Safe:       true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Query      string `json:"query"`
				MaxResults int    `json:"maxResults"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			query := strings.TrimSpace(input.Query)
			if query == "" {
				return errResult("query is required"), nil
			}
			topK := input.MaxResults
			if topK <= 0 {
				topK = defaultKnowledgeResults
			}

			snippets, err := kb.Retrieve(ctx, tctx.AgentID, query, topK, defaultKnowledgeMinScore)
			if err != nil {
				return nil, fmt.Errorf("knowledge search: %w", err)
			}
			return okResult(map[string]any{
				"query":    query,
				"count":    len(snippets),
				"snippets": snippets,
			}), nil
		},
	}
}

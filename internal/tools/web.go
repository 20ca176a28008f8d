package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

// SearchResult is one hit returned by a Searcher.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher is the web search backend offered to agents.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

const defaultSearchResults = 5

func searchWebTool(search Searcher) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "searchWeb",
			Description: "Search the web and return titles, links and snippets.",
			Required:    []string{"query"},
			Optional:    []string{"maxResults"},
			ParamDocs: map[string]string{
				"query":      "The search query.",
				"maxResults": "How many results to return (default 5).",
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
			limit := input.MaxResults
			if limit <= 0 {
				limit = defaultSearchResults
			}

			results, err := search.Search(ctx, query, limit)
			if err != nil {
				return nil, fmt.Errorf("web search: %w", err)
			}
			return okResult(map[string]any{
				"query":   query,
				"count":   len(results),
				"results": results,
			}), nil
		},
	}
}

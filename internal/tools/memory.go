package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/pkg/models"
)

// MemoryAccess is the slice of the memory service the builtin tools need.
// store.MemoryStore satisfies it directly; the memory manager wraps it with
// embedding-backed search.
type MemoryAccess interface {
	Create(ctx context.Context, m *models.Memory) error
	Search(ctx context.Context, agentID, query string, limit int) ([]*models.Memory, error)
}

const defaultMemoryResults = 5

func memoryTools(mem MemoryAccess) []Tool {
	return []Tool{saveMemoryTool(mem), searchMemoryTool(mem)}
}

func saveMemoryTool(mem MemoryAccess) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "saveMemory",
			Description: "Store a durable memory for future conversations.",
			Required:    []string{"content"},
			Optional:    []string{"kind", "importance", "tags"},
			ParamDocs: map[string]string{
				"content":    "What to remember.",
				"kind":       "Memory kind: learning, preference, decision, entity, context.",
				"importance": "Relevance weight from 0 to 1 (default 0.5).",
				"tags":       "Labels for later filtering.",
			},
			ParamTypes: map[string]string{"importance": "number", "tags": "array"},
			Group:      GroupStandard,
			Safe:       true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Content    string   `json:"content"`
				Kind       string   `json:"kind"`
				Importance *float64 `json:"importance"`
				Tags       []string `json:"tags"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			content := strings.TrimSpace(input.Content)
			if content == "" {
				return errResult("content is required"), nil
			}

			kind := models.MemoryKind(strings.TrimSpace(input.Kind))
			if kind == "" {
				kind = models.MemoryLearning
			}
			importance := 0.5
			if input.Importance != nil {
				importance = *input.Importance
				if importance < 0 {
					importance = 0
				}
				if importance > 1 {
					importance = 1
				}
			}

			now := time.Now().UTC()
			m := &models.Memory{
				ID:         uuid.NewString(),
				AgentID:    tctx.AgentID,
				UserID:     tctx.UserID,
				Kind:       kind,
				Content:    content,
				Importance: importance,
				Tags:       input.Tags,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := mem.Create(ctx, m); err != nil {
				return nil, fmt.Errorf("save memory: %w", err)
			}
			return okResult(map[string]any{"memoryId": m.ID, "kind": string(kind)}), nil
		},
	}
}

func searchMemoryTool(mem MemoryAccess) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "searchMemory",
			Description: "Search your long-term memories.",
			Required:    []string{"query"},
			Optional:    []string{"limit"},
			ParamDocs: map[string]string{
				"query": "What to look for.",
				"limit": "How many memories to return (default 5).",
			},
			ParamTypes: map[string]string{"limit": "integer"},
			Group:      GroupStandard,
			Baseline:   true,
			Safe:       true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			query := strings.TrimSpace(input.Query)
			if query == "" {
				return errResult("query is required"), nil
			}
			limit := input.Limit
			if limit <= 0 {
				limit = defaultMemoryResults
			}

			found, err := mem.Search(ctx, tctx.AgentID, query, limit)
			if err != nil {
				return nil, fmt.Errorf("search memory: %w", err)
			}
			items := make([]map[string]any, 0, len(found))
			for _, m := range found {
				items = append(items, map[string]any{
					"content":    m.Content,
					"kind":       string(m.Kind),
					"importance": m.Importance,
				})
			}
			return okResult(map[string]any{"count": len(items), "memories": items}), nil
		},
	}
}

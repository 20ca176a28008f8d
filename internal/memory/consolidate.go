package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

const (
	// promoteAccessCount is how many retrievals mark a memory as
	// load-bearing enough to promote.
	promoteAccessCount  = 5
	promoteImportanceBy = 0.1

	summarizeOverChars = 400
	summaryChars       = 200
)

// ConsolidationReport summarizes one consolidation pass.
type ConsolidationReport struct {
	Expired    int `json:"expired"`
	Merged     int `json:"merged"`
	Promoted   int `json:"promoted"`
	Summarized int `json:"summarized"`
}

// Consolidate runs the scheduled maintenance pass for one agent: expired
// rows are removed, near-duplicates merged into the stronger copy,
// frequently accessed rows promoted, and long rows given a summary.
// Individual row failures are logged and skipped; the pass keeps going.
func (m *Manager) Consolidate(ctx context.Context, agentID string) (ConsolidationReport, error) {
	var report ConsolidationReport

	all, err := m.memories.ListAll(ctx, agentID)
	if err != nil {
		return report, fmt.Errorf("list memories: %w", err)
	}
	now := m.now()

	// Expiry first so dead rows never merge or promote.
	live := make([]*models.Memory, 0, len(all))
	for _, mem := range all {
		if !mem.Expired(now) {
			live = append(live, mem)
			continue
		}
		if err := m.Forget(ctx, mem.ID); err != nil {
			m.logger.Warn("expired memory delete failed", "memory_id", mem.ID, "error", err)
			continue
		}
		report.Expired++
	}

	live, report.Merged = m.mergeDuplicates(ctx, live)

	for _, mem := range live {
		changed := false
		if mem.AccessCount >= promoteAccessCount && mem.Importance < 1 {
			mem.Importance = clamp(mem.Importance+promoteImportanceBy, 0, 1)
			report.Promoted++
			changed = true
		}
		if mem.Summary == "" && len(mem.Content) > summarizeOverChars {
			mem.Summary = summarize(mem.Content)
			report.Summarized++
			changed = true
		}
		if changed {
			mem.UpdatedAt = now
			if err := m.memories.Update(ctx, mem); err != nil {
				m.logger.Warn("consolidation update failed", "memory_id", mem.ID, "error", err)
			}
		}
	}

	m.logger.Info("memory consolidation finished",
		"agent_id", agentID,
		"expired", report.Expired,
		"merged", report.Merged,
		"promoted", report.Promoted,
		"summarized", report.Summarized)
	return report, nil
}

// mergeDuplicates collapses same-kind rows with matching normalized content.
// The higher-importance row survives and absorbs the other's access count,
// tags, and latest access time.
func (m *Manager) mergeDuplicates(ctx context.Context, mems []*models.Memory) ([]*models.Memory, int) {
	type key struct {
		kind    models.MemoryKind
		content string
	}
	slot := make(map[key]int, len(mems))
	kept := make([]*models.Memory, 0, len(mems))
	merged := 0

	for _, mem := range mems {
		k := key{mem.Kind, normalizeContent(mem.Content)}
		i, ok := slot[k]
		if !ok {
			slot[k] = len(kept)
			kept = append(kept, mem)
			continue
		}

		winner, loser := kept[i], mem
		if loser.Importance > winner.Importance {
			winner, loser = loser, winner
			kept[i] = winner
		}
		winner.AccessCount += loser.AccessCount
		winner.Tags = mergeTags(winner.Tags, loser.Tags)
		if loser.LastAccessedAt != nil &&
			(winner.LastAccessedAt == nil || loser.LastAccessedAt.After(*winner.LastAccessedAt)) {
			winner.LastAccessedAt = loser.LastAccessedAt
		}
		winner.UpdatedAt = m.now()

		if err := m.memories.Update(ctx, winner); err != nil {
			m.logger.Warn("merge update failed", "memory_id", winner.ID, "error", err)
			continue
		}
		if err := m.Forget(ctx, loser.ID); err != nil {
			m.logger.Warn("merge delete failed", "memory_id", loser.ID, "error", err)
			continue
		}
		merged++
	}
	return kept, merged
}

func normalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func mergeTags(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string(nil), a...), b...) {
		k := strings.ToLower(strings.TrimSpace(t))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

// summarize keeps the head of content, cut at a word boundary.
func summarize(content string) string {
	runes := []rune(content)
	if len(runes) <= summaryChars {
		return content
	}
	cut := string(runes[:summaryChars])
	if i := strings.LastIndex(cut, " "); i > summaryChars/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

const defaultMinScore = 0.3

// Manager implements memory writes and recall on top of the relational
// store. The vector index is eventually consistent with the store: indexing
// failures are logged, never returned, and search falls back to substring
// matching when the semantic path is unavailable or empty-handed.
type Manager struct {
	memories store.MemoryStore
	index    *Index
	embedder Embedder
	minScore float64
	logger   *slog.Logger

	now func() time.Time
}

// NewManager wires the memory manager. index and embedder may both be nil;
// recall then uses the store's substring search only.
func NewManager(memories store.MemoryStore, index *Index, embedder Embedder, minScore float64, logger *slog.Logger) *Manager {
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		memories: memories,
		index:    index,
		embedder: embedder,
		minScore: minScore,
		logger:   logger.With("component", "memory"),
		now:      time.Now,
	}
}

// Create persists a memory and indexes its embedding. The relational row is
// authoritative; an indexing failure leaves the memory findable by substring
// search until the next rebuild.
func (m *Manager) Create(ctx context.Context, mem *models.Memory) error {
	if mem == nil {
		return errors.New("memory is required")
	}
	if mem.AgentID == "" {
		return errors.New("memory agent ID is required")
	}
	if strings.TrimSpace(mem.Content) == "" {
		return errors.New("memory content is required")
	}
	if mem.ID == "" {
		mem.ID = uuid.New().String()
	}
	if mem.Kind == "" {
		mem.Kind = models.MemoryContext
	}
	mem.Importance = clamp(mem.Importance, 0, 1)
	mem.Valence = clamp(mem.Valence, -1, 1)
	now := m.now()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = now
	}
	mem.UpdatedAt = now

	if err := m.memories.Create(ctx, mem); err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	m.indexMemory(ctx, mem)
	return nil
}

func (m *Manager) indexMemory(ctx context.Context, mem *models.Memory) {
	if m.embedder == nil || m.index == nil {
		return
	}
	vec, err := m.embedder.Embed(ctx, mem.Content)
	if err != nil {
		m.logger.Warn("memory embedding failed", "memory_id", mem.ID, "provider", m.embedder.Name(), "error", err)
		return
	}
	if err := m.index.Add(ctx, mem.AgentID, mem.ID, vec); err != nil {
		m.logger.Warn("memory indexing failed", "memory_id", mem.ID, "error", err)
	}
}

// Search returns the agent's memories most relevant to query, best first.
// With an embedder configured it ranks by cosine similarity; otherwise, or
// whenever the semantic path fails or finds nothing, it falls back to the
// store's substring search. Returned rows are touched for access tracking.
func (m *Manager) Search(ctx context.Context, agentID, query string, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 5
	}
	results := m.semanticSearch(ctx, agentID, query, limit)
	if len(results) == 0 {
		var err error
		results, err = m.memories.Search(ctx, agentID, query, limit)
		if err != nil {
			return nil, fmt.Errorf("search memories: %w", err)
		}
	}

	now := m.now()
	for _, mem := range results {
		if err := m.memories.Touch(ctx, mem.ID, now); err != nil {
			m.logger.Debug("memory touch failed", "memory_id", mem.ID, "error", err)
		}
	}
	return results, nil
}

// semanticSearch returns nil when the semantic path is unavailable or broken
// so the caller can fall back.
func (m *Manager) semanticSearch(ctx context.Context, agentID, query string, limit int) []*models.Memory {
	if m.embedder == nil || m.index == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		m.logger.Warn("query embedding failed, using substring search", "provider", m.embedder.Name(), "error", err)
		return nil
	}
	matches, err := m.index.Search(ctx, agentID, vec, limit, m.minScore)
	if err != nil {
		m.logger.Warn("vector search failed, using substring search", "error", err)
		return nil
	}

	out := make([]*models.Memory, 0, len(matches))
	for _, match := range matches {
		mem, err := m.memories.Get(ctx, match.MemoryID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Row deleted since indexing; drop the stale vector.
				if derr := m.index.Delete(ctx, match.MemoryID); derr != nil {
					m.logger.Debug("stale vector cleanup failed", "memory_id", match.MemoryID, "error", derr)
				}
				continue
			}
			m.logger.Warn("memory fetch failed", "memory_id", match.MemoryID, "error", err)
			continue
		}
		out = append(out, mem)
	}
	return out
}

// Forget deletes a memory row and its vector.
func (m *Manager) Forget(ctx context.Context, id string) error {
	if err := m.memories.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if m.index != nil {
		if err := m.index.Delete(ctx, id); err != nil {
			m.logger.Warn("vector delete failed", "memory_id", id, "error", err)
		}
	}
	return nil
}

// Rebuild re-embeds every memory the agent has and rewrites its vectors.
// Used when the index file was lost or the embedding model changed. Returns
// the number of vectors written.
func (m *Manager) Rebuild(ctx context.Context, agentID string) (int, error) {
	if m.embedder == nil || m.index == nil {
		return 0, errors.New("rebuild requires an embedder and an index")
	}
	all, err := m.memories.ListAll(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("list memories: %w", err)
	}

	batch := m.embedder.MaxBatchSize()
	if batch <= 0 {
		batch = 1
	}
	indexed := 0
	for start := 0; start < len(all); start += batch {
		end := min(start+batch, len(all))
		chunk := all[start:end]
		texts := make([]string, len(chunk))
		for i, mem := range chunk {
			texts[i] = mem.Content
		}
		vecs, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		for i, vec := range vecs {
			if i >= len(chunk) || len(vec) == 0 {
				continue
			}
			if err := m.index.Add(ctx, agentID, chunk[i].ID, vec); err != nil {
				return indexed, fmt.Errorf("index memory %s: %w", chunk[i].ID, err)
			}
			indexed++
		}
	}
	return indexed, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

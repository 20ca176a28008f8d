package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Index stores embeddings in a SQLite sidecar file and answers similarity
// queries by brute-force cosine scan over one agent's vectors. Fleets are
// small enough that a scan beats carrying a vector-extension dependency;
// the file can be deleted and rebuilt from the relational store.
type Index struct {
	db  *sql.DB
	dim int
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	// Path of the index database file. Empty runs in memory.
	Path string

	// Dimension of stored vectors. When set, vectors of any other width
	// are rejected, which catches embedding-model changes early.
	Dimension int
}

// NewIndex opens (or creates) the index database at cfg.Path.
func NewIndex(cfg IndexConfig) (*Index, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	db.SetMaxOpenConns(1)

	ix := &Index{db: db, dim: cfg.Dimension}
	if err := ix.init(); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) init() error {
	_, err := ix.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_vectors (
			memory_id  TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			embedding  BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create memory_vectors: %w", err)
	}
	_, err = ix.db.Exec(`CREATE INDEX IF NOT EXISTS idx_memory_vectors_agent ON memory_vectors(agent_id)`)
	if err != nil {
		return fmt.Errorf("index memory_vectors: %w", err)
	}
	return nil
}

// Add upserts the vector for one memory row.
func (ix *Index) Add(ctx context.Context, agentID, memoryID string, vec []float32) error {
	if agentID == "" || memoryID == "" {
		return errors.New("agent and memory IDs are required")
	}
	if len(vec) == 0 {
		return errors.New("vector is empty")
	}
	if ix.dim > 0 && len(vec) != ix.dim {
		return fmt.Errorf("vector has %d dimensions, index expects %d", len(vec), ix.dim)
	}
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO memory_vectors (memory_id, agent_id, embedding, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		memoryID, agentID, encodeVector(vec), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

// Match is one scored hit from the index.
type Match struct {
	MemoryID string
	Score    float64
}

// Search returns the agent's closest vectors to query, best first. Matches
// scoring below minScore are dropped.
func (ix *Index) Search(ctx context.Context, agentID string, query []float32, limit int, minScore float64) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := ix.db.QueryContext(ctx,
		`SELECT memory_id, embedding FROM memory_vectors WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		score := cosineSimilarity(query, decodeVector(blob))
		if score < minScore {
			continue
		}
		matches = append(matches, Match{MemoryID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Delete removes vectors by memory ID. Missing IDs are not an error.
func (ix *Index) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := ix.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id = ?`, id); err != nil {
			return fmt.Errorf("delete vector %s: %w", id, err)
		}
	}
	return nil
}

// Count reports how many vectors the agent has indexed.
func (ix *Index) Count(ctx context.Context, agentID string) (int64, error) {
	var n int64
	err := ix.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_vectors WHERE agent_id = ?`, agentID).Scan(&n)
	return n, err
}

// Compact reclaims file space after large deletions.
func (ix *Index) Compact(ctx context.Context) error {
	_, err := ix.db.ExecContext(ctx, "VACUUM")
	return err
}

func (ix *Index) Close() error { return ix.db.Close() }

// encodeVector packs float32 values little-endian for BLOB storage.
func encodeVector(vec []float32) []byte {
	data := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

func decodeVector(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

// cosineSimilarity is 0 for mismatched widths or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Package rag stores internal knowledge documents and retrieves the
// passages most relevant to a query. Documents are split into chunks and
// embedded on ingest; retrieval embeds the query and ranks chunks by
// cosine similarity. The database is a sidecar file the runtime can
// rebuild by re-ingesting sources.
package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/legionruntime/legion/internal/memory"
)

// Embedder is the vector backend. The memory package's embedders
// satisfy it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	MaxBatchSize() int
}

var _ Embedder = (memory.Embedder)(nil)

// Library is one named knowledge collection owned by an agent.
type Library struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Name      string    `json:"name"`
	Documents int       `json:"documents"`
	CreatedAt time.Time `json:"createdAt"`
}

// Document is one ingested source text.
type Document struct {
	ID        string `json:"id"`
	LibraryID string `json:"libraryId"`
	AgentID   string `json:"agentId"`
	Name      string `json:"name"`
	Source    string `json:"source,omitempty"`

	// Content is consumed on ingest and not stored whole; chunks carry it.
	Content string `json:"-"`

	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snippet is one retrieved passage.
type Snippet struct {
	Library  string  `json:"library"`
	Document string  `json:"document"`
	Source   string  `json:"source,omitempty"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// Config configures the knowledge service.
type Config struct {
	// Path of the knowledge database file. Empty runs in memory.
	Path string

	// Chunking bounds for document splitting.
	Chunking ChunkConfig
}

// Service owns the knowledge database. Retrieval is a brute-force cosine
// scan over one agent's chunks, the same trade the memory index makes:
// corpora stay small enough that a scan beats a vector-extension
// dependency.
type Service struct {
	db       *sql.DB
	embedder Embedder
	chunking ChunkConfig
	logger   *slog.Logger
	now      func() time.Time
}

// Open opens (or creates) the knowledge database at cfg.Path.
func Open(cfg Config, embedder Embedder, logger *slog.Logger) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("rag: embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Service{
		db:       db,
		embedder: embedder,
		chunking: cfg.Chunking.normalized(),
		logger:   logger.With("component", "rag"),
		now:      time.Now,
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS knowledge_libraries (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_libraries_agent ON knowledge_libraries(agent_id)`,
		`CREATE TABLE IF NOT EXISTS knowledge_documents (
			id TEXT PRIMARY KEY,
			library_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_documents_library ON knowledge_documents(library_id)`,
		`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			library_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_agent ON knowledge_chunks(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_document ON knowledge_chunks(document_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init knowledge db: %w", err)
		}
	}
	return nil
}

// CreateLibrary registers a new knowledge collection for an agent.
func (s *Service) CreateLibrary(ctx context.Context, agentID, name string) (*Library, error) {
	agentID = strings.TrimSpace(agentID)
	name = strings.TrimSpace(name)
	if agentID == "" {
		return nil, errors.New("agent id is required")
	}
	if name == "" {
		return nil, errors.New("library name is required")
	}
	lib := &Library{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_libraries (id, agent_id, name, created_at) VALUES (?, ?, ?, ?)`,
		lib.ID, lib.AgentID, lib.Name, lib.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create library: %w", err)
	}
	return lib, nil
}

// Libraries lists an agent's knowledge collections with document counts.
func (s *Service) Libraries(ctx context.Context, agentID string) ([]Library, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.agent_id, l.name, l.created_at,
		        (SELECT COUNT(*) FROM knowledge_documents d WHERE d.library_id = l.id)
		 FROM knowledge_libraries l
		 WHERE l.agent_id = ?
		 ORDER BY l.created_at ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	defer rows.Close()

	var libs []Library
	for rows.Next() {
		var lib Library
		if err := rows.Scan(&lib.ID, &lib.AgentID, &lib.Name, &lib.CreatedAt, &lib.Documents); err != nil {
			return nil, fmt.Errorf("scan library: %w", err)
		}
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// AddDocument splits, embeds and stores one document. The write is
// atomic: a failed embedding leaves no partial rows behind.
func (s *Service) AddDocument(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	if strings.TrimSpace(doc.AgentID) == "" {
		return errors.New("agent id is required")
	}
	if strings.TrimSpace(doc.LibraryID) == "" {
		return errors.New("library id is required")
	}
	if strings.TrimSpace(doc.Name) == "" {
		return errors.New("document name is required")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return errors.New("document content is empty")
	}

	var libAgent string
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id FROM knowledge_libraries WHERE id = ?`, doc.LibraryID).Scan(&libAgent)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("library %s not found", doc.LibraryID)
	}
	if err != nil {
		return fmt.Errorf("look up library: %w", err)
	}
	if libAgent != doc.AgentID {
		return fmt.Errorf("library %s belongs to another agent", doc.LibraryID)
	}

	chunks := SplitText(doc.Content, s.chunking)
	if len(chunks) == 0 {
		return errors.New("document produced no chunks")
	}
	vecs, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed document %q: %w", doc.Name, err)
	}

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.Chunks = len(chunks)
	doc.CreatedAt = s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO knowledge_documents (id, library_id, agent_id, name, source, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.LibraryID, doc.AgentID, doc.Name, doc.Source, doc.Chunks, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	for i, chunk := range chunks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO knowledge_chunks (id, document_id, library_id, agent_id, idx, content, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), doc.ID, doc.LibraryID, doc.AgentID, i, chunk, encodeVector(vecs[i]), doc.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest: %w", err)
	}

	s.logger.Info("document ingested",
		"agent_id", doc.AgentID,
		"library_id", doc.LibraryID,
		"document", doc.Name,
		"chunks", doc.Chunks)
	return nil
}

func (s *Service) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	batchSize := s.embedder.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = 1
	}
	vecs := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		batch, err := s.embedder.EmbedBatch(ctx, chunks[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(batch), end-start)
		}
		vecs = append(vecs, batch...)
	}
	return vecs, nil
}

// DeleteDocument removes a document and its chunks.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM knowledge_chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM knowledge_documents WHERE id = ?`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Retrieve returns the agent's topK most similar passages scoring at
// least minScore.
func (s *Service) Retrieve(ctx context.Context, agentID, query string, topK int, minScore float64) ([]Snippet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if topK <= 0 {
		topK = 3
	}
	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.content, c.embedding, d.name, d.source, l.name
		 FROM knowledge_chunks c
		 JOIN knowledge_documents d ON d.id = c.document_id
		 JOIN knowledge_libraries l ON l.id = c.library_id
		 WHERE c.agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	var snippets []Snippet
	for rows.Next() {
		var content, docName, source, libName string
		var blob []byte
		if err := rows.Scan(&content, &blob, &docName, &source, &libName); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		score := cosineSimilarity(qvec, decodeVector(blob))
		if score < minScore {
			continue
		}
		snippets = append(snippets, Snippet{
			Library:  libName,
			Document: docName,
			Source:   source,
			Content:  content,
			Score:    score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(snippets, func(i, j int) bool { return snippets[i].Score > snippets[j].Score })
	if len(snippets) > topK {
		snippets = snippets[:topK]
	}
	return snippets, nil
}

// Close releases the database handle.
func (s *Service) Close() error { return s.db.Close() }

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

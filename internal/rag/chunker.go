package rag

import (
	"strings"
	"unicode/utf8"
)

// ChunkConfig bounds chunk sizes in characters.
type ChunkConfig struct {
	// ChunkSize is the target maximum characters per chunk.
	ChunkSize int

	// ChunkOverlap repeats this many trailing characters of a chunk at
	// the head of the next one, so sentences cut at a boundary stay
	// findable from both sides.
	ChunkOverlap int

	// MinChunkSize merges smaller fragments into their neighbor.
	MinChunkSize int
}

// DefaultChunkConfig returns the standard splitting bounds.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunkSize: 100,
	}
}

func (c ChunkConfig) normalized() ChunkConfig {
	def := DefaultChunkConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = def.ChunkOverlap
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 5
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = def.MinChunkSize
	}
	if c.MinChunkSize > c.ChunkSize {
		c.MinChunkSize = c.ChunkSize
	}
	return c
}

// separators is the split hierarchy, tried largest semantic unit first.
// Markdown headings come before paragraph breaks so section boundaries
// win when both are present.
var separators = []string{
	"\n## ",
	"\n### ",
	"\n\n",
	"\n",
	". ",
	"? ",
	"! ",
	"; ",
	", ",
	" ",
	"",
}

// SplitText splits text into chunks of at most cfg.ChunkSize characters,
// preferring heading, paragraph and sentence boundaries, with
// cfg.ChunkOverlap characters of context repeated between neighbors.
func SplitText(text string, cfg ChunkConfig) []string {
	cfg = cfg.normalized()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := splitBySeparators(text, separators, cfg.ChunkSize)
	chunks := packPieces(pieces, cfg)
	return overlapChunks(chunks, cfg.ChunkOverlap)
}

// splitBySeparators recursively cuts text until every piece fits the
// size bound. The separator stays attached to the left piece so "Mr."
// style fragments keep their punctuation.
func splitBySeparators(text string, seps []string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}
	if len(seps) == 0 || seps[0] == "" {
		return splitByWidth(text, size)
	}

	sep := seps[0]
	if !strings.Contains(text, sep) {
		return splitBySeparators(text, seps[1:], size)
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if len(part) > size {
			out = append(out, splitBySeparators(part, seps[1:], size)...)
		} else if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitByWidth is the last resort for separator-free runs. It cuts on
// rune boundaries so multi-byte characters are never torn.
func splitByWidth(text string, size int) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		if b.Len()+len(string(r)) > size && b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// packPieces greedily fills chunks up to the size bound and folds a
// too-small tail into the previous chunk.
func packPieces(pieces []string, cfg ChunkConfig) []string {
	var chunks []string
	var b strings.Builder

	flush := func() {
		content := strings.TrimSpace(b.String())
		b.Reset()
		if content == "" {
			return
		}
		if len(content) < cfg.MinChunkSize && len(chunks) > 0 {
			chunks[len(chunks)-1] += "\n" + content
			return
		}
		chunks = append(chunks, content)
	}

	for _, piece := range pieces {
		if b.Len() > 0 && b.Len()+len(piece) > cfg.ChunkSize {
			flush()
		}
		b.WriteString(piece)
	}
	flush()
	return chunks
}

// overlapChunks prefixes every chunk after the first with the tail of
// its predecessor.
func overlapChunks(chunks []string, overlap int) []string {
	if len(chunks) <= 1 || overlap <= 0 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		start := len(prev) - overlap
		if start < 0 {
			start = 0
		}
		for start < len(prev) && !utf8.RuneStart(prev[start]) {
			start++
		}
		tail := prev[start:]
		if idx := strings.IndexAny(tail, " \n"); idx >= 0 && idx < len(tail)-1 {
			tail = tail[idx+1:]
		}
		out[i] = tail + chunks[i]
	}
	return out
}

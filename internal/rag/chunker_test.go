package rag

import (
	"strings"
	"testing"
)

func TestSplitText_ShortTextSingleChunk(t *testing.T) {
	chunks := SplitText("  The deploy runbook lives in the wiki.  ", DefaultChunkConfig())
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0] != "The deploy runbook lives in the wiki." {
		t.Fatalf("chunk = %q", chunks[0])
	}
}

func TestSplitText_EmptyInput(t *testing.T) {
	if got := SplitText("", DefaultChunkConfig()); got != nil {
		t.Fatalf("empty text produced %d chunks", len(got))
	}
	if got := SplitText("   \n\t ", DefaultChunkConfig()); got != nil {
		t.Fatalf("blank text produced %d chunks", len(got))
	}
}

func TestSplitText_PrefersParagraphBoundaries(t *testing.T) {
	para1 := strings.TrimSpace(strings.Repeat("alpha ", 15))
	para2 := strings.TrimSpace(strings.Repeat("bravo ", 15))
	text := para1 + "\n\n" + para2

	cfg := ChunkConfig{ChunkSize: 100, ChunkOverlap: 0, MinChunkSize: 10}
	chunks := SplitText(text, cfg)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2: %q", len(chunks), chunks)
	}
	if chunks[0] != para1 {
		t.Fatalf("first chunk = %q, want the first paragraph", chunks[0])
	}
	if chunks[1] != para2 {
		t.Fatalf("second chunk = %q, want the second paragraph", chunks[1])
	}
}

func TestSplitText_OverlapCarriesTail(t *testing.T) {
	para1 := strings.TrimSpace(strings.Repeat("alpha ", 15))
	para2 := strings.TrimSpace(strings.Repeat("bravo ", 15))
	text := para1 + "\n\n" + para2

	cfg := ChunkConfig{ChunkSize: 100, ChunkOverlap: 20, MinChunkSize: 10}
	chunks := SplitText(text, cfg)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if !strings.Contains(chunks[1], "alpha") {
		t.Fatalf("second chunk carries no overlap from the first: %q", chunks[1])
	}
	if !strings.Contains(chunks[1], "bravo") {
		t.Fatalf("second chunk lost its own content: %q", chunks[1])
	}
	if strings.Contains(chunks[0], "bravo") {
		t.Fatalf("overlap must only flow forward: %q", chunks[0])
	}
}

func TestSplitText_LongUnbrokenRun(t *testing.T) {
	text := strings.Repeat("x", 2500)
	cfg := ChunkConfig{ChunkSize: 1000, ChunkOverlap: 200, MinChunkSize: 100}
	chunks := SplitText(text, cfg)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	var total int
	for i, c := range chunks {
		if len(c) > cfg.ChunkSize+cfg.ChunkOverlap {
			t.Fatalf("chunk %d has %d chars, exceeds size+overlap", i, len(c))
		}
		total += len(c)
	}
	// 2500 original characters plus a 200-char overlap on chunks 2 and 3.
	if total != 2500+2*cfg.ChunkOverlap {
		t.Fatalf("total chars = %d, want %d", total, 2500+2*cfg.ChunkOverlap)
	}
}

func TestSplitText_SmallTailMergesBack(t *testing.T) {
	para1 := strings.TrimSpace(strings.Repeat("gamma ", 25))
	tail := "short note"
	text := para1 + "\n\n" + tail

	cfg := ChunkConfig{ChunkSize: 160, ChunkOverlap: 0, MinChunkSize: 50}
	chunks := SplitText(text, cfg)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want the tail folded into one: %q", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0], tail) {
		t.Fatalf("tail was dropped: %q", chunks[0])
	}
}

func TestChunkConfigNormalized(t *testing.T) {
	got := ChunkConfig{}.normalized()
	if got != DefaultChunkConfig() {
		t.Fatalf("zero config = %+v, want defaults", got)
	}

	got = ChunkConfig{ChunkSize: 100, ChunkOverlap: 150, MinChunkSize: 10}.normalized()
	if got.ChunkOverlap != 20 {
		t.Fatalf("oversized overlap = %d, want size/5", got.ChunkOverlap)
	}

	got = ChunkConfig{ChunkSize: 50, ChunkOverlap: 5, MinChunkSize: 80}.normalized()
	if got.MinChunkSize != 50 {
		t.Fatalf("min chunk = %d, want clamped to size", got.MinChunkSize)
	}
}

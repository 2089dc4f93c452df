package chunk

import (
	"strings"
	"testing"
)

func TestChunk_CharFallback_RespectsWindowAndStride(t *testing.T) {
	c := &Chunker{} // no tokenizer registered: forces char fallback
	text := strings.Repeat("word ", 500)

	chunks := c.Chunk(text, 100, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if ch != strings.TrimSpace(ch) {
			t.Errorf("chunk not trimmed: %q", ch)
		}
		if ch == "" {
			t.Error("empty chunk should have been dropped")
		}
	}
}

func TestChunk_EmptyTextYieldsNoChunks(t *testing.T) {
	c := &Chunker{}
	if got := c.Chunk("   ", 100, 20); got != nil {
		t.Errorf("expected nil for blank text, got %+v", got)
	}
}

func TestChunk_DefaultsAppliedWhenZero(t *testing.T) {
	c := &Chunker{}
	text := strings.Repeat("a", 5000)
	chunks := c.Chunk(text, 0, 0)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk with defaults")
	}
}

func TestChunk_OverlapGreaterThanWidthFallsBackToDefault(t *testing.T) {
	c := &Chunker{}
	text := strings.Repeat("a", 5000)
	// overlapTokens >= chunkTokens should not hang or produce a non-advancing stride
	chunks := c.Chunk(text, 50, 50)
	if len(chunks) == 0 {
		t.Fatal("expected chunks to be produced")
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c := &Chunker{}
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 50)
	a := c.Chunk(text, 200, 40)
	b := c.Chunk(text, 200, 40)
	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk counts: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

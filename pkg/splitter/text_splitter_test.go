package splitter

import (
	"strings"
	"testing"
)

func TestSplitTextRespectsChunkSize(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(50, 0)
	text := strings.Repeat("Sentence about batteries.\n\n", 10)

	chunks, err := ts.SplitText(text)
	if err != nil {
		t.Fatalf("SplitText: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d has %d chars, exceeds size 50", i, len(c))
		}
	}
}

func TestFirstChunksCapsLength(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(40, 0)
	text := strings.Repeat("A fact about electrolytes.\n\n", 20)

	got, err := ts.FirstChunks(text, 120)
	if err != nil {
		t.Fatalf("FirstChunks: %v", err)
	}
	if got == "" {
		t.Fatal("FirstChunks returned nothing")
	}
	// Chunk boundaries plus separators can only undershoot the cap.
	if len(got) > 120+len("\n") {
		t.Errorf("FirstChunks returned %d chars, cap was 120", len(got))
	}
	if !strings.Contains(got, "A fact about electrolytes.") {
		t.Errorf("FirstChunks dropped leading content: %q", got)
	}
}

func TestFirstChunksShortTextUnchanged(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(1000, 0)
	got, err := ts.FirstChunks("short text", 500)
	if err != nil {
		t.Fatalf("FirstChunks: %v", err)
	}
	if got != "short text" {
		t.Errorf("FirstChunks = %q, want input unchanged", got)
	}
}

package splitter

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// TextSplitter wraps the langchaingo recursive character splitter.
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

// NewRecursiveCharacterTextSplitter creates a new recursive character text splitter
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	return &TextSplitter{splitter: ts}
}

// SplitText splits text into chunks
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	return ts.splitter.SplitText(text)
}

// FirstChunks returns whole leading chunks of text up to maxChars total, so
// truncation lands on a chunk boundary instead of mid-sentence.
func (ts *TextSplitter) FirstChunks(text string, maxChars int) (string, error) {
	chunks, err := ts.splitter.SplitText(text)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, chunk := range chunks {
		if b.Len()+len(chunk) > maxChars {
			break
		}
		b.WriteString(chunk)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

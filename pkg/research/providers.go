package research

import (
	"context"
	"fmt"
)

// SearchProvider returns results for one query. The engine treats an error
// exactly like an empty result set: it logs and moves on.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// ContentProvider fetches a URL and converts it to readable text. An error or
// empty string means the page is skipped.
type ContentProvider interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Generator is the language-model boundary. GenerateStructured returns the
// recovered JSON bytes of a response that was asked to follow schema; the
// caller unmarshals and validates the shape. GenerateText is free-form and
// used only for the final report.
type Generator interface {
	GenerateStructured(ctx context.Context, prompt, schema, system string) ([]byte, TokenUsage, error)
	GenerateText(ctx context.Context, prompt, system string) (string, TokenUsage, error)
}

// InsufficientSourcesError refuses report generation when too few independent
// sources back the learnings. Producing an uncited document would be worse
// than failing.
type InsufficientSourcesError struct {
	Count   int
	Minimum int
}

func (e *InsufficientSourcesError) Error() string {
	return fmt.Sprintf("research: only %d distinct source(s) found, need at least %d to generate a report", e.Count, e.Minimum)
}

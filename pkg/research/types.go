package research

import "sync"

// Config holds the knobs for a single research run. It is read-only once the
// engine starts.
type Config struct {
	Depth              int `json:"depth"`
	Breadth            int `json:"breadth"`
	Concurrency        int `json:"concurrency"`
	LearningsPerChunk  int `json:"learnings_per_chunk"`
	MaxResultsPerQuery int `json:"max_results_per_query"`
}

// Normalize clamps every field to its minimum legal value.
func (c Config) Normalize() Config {
	if c.Depth < 0 {
		c.Depth = 0
	}
	if c.Breadth < 1 {
		c.Breadth = 1
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.LearningsPerChunk < 1 {
		c.LearningsPerChunk = 1
	}
	if c.MaxResultsPerQuery < 1 {
		c.MaxResultsPerQuery = 1
	}
	return c
}

// DefaultConfig mirrors the CLI flag defaults.
func DefaultConfig() Config {
	return Config{
		Depth:              2,
		Breadth:            3,
		Concurrency:        3,
		LearningsPerChunk:  5,
		MaxResultsPerQuery: 5,
	}
}

// SearchResult represents a single search result
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SourceRecord is the permanent identity of one distinct source. URL and
// FirstSeenQuery are fixed at first sight and never change, even if the same
// canonical URL is rediscovered later under a different raw form.
type SourceRecord struct {
	ID             int    `json:"id"`
	URL            string `json:"url"`
	CanonicalURL   string `json:"canonical_url"`
	FirstSeenQuery string `json:"first_seen_query"`
}

// Learning is one extracted fact tied to the source and query that produced it.
type Learning struct {
	Text        string `json:"text"`
	SourceID    int    `json:"source_id"`
	SourceQuery string `json:"source_query"`
}

// TokenUsage accumulates token consumption reported by the model provider.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Prompt:     u.Prompt + o.Prompt,
		Completion: u.Completion + o.Completion,
		Total:      u.Total + o.Total,
	}
}

// State tracks everything accumulated during one run. The engine owns the
// single instance; concurrent branches mutate it only through the methods
// below, which take the internal lock.
type State struct {
	mu        sync.Mutex
	learnings []Learning
	visited   map[string]bool
	usage     TokenUsage
	Sources   *SourceRegistry
}

// NewState returns an empty run state with a fresh source registry.
func NewState() *State {
	return &State{
		visited: make(map[string]bool),
		Sources: NewSourceRegistry(),
	}
}

// TryVisit marks a canonical URL as queued. It returns true exactly once per
// URL; the check and insert are a single critical section so two concurrent
// branches can never both admit the same URL.
func (s *State) TryVisit(canonicalURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visited[canonicalURL] {
		return false
	}
	s.visited[canonicalURL] = true
	return true
}

// Visited reports whether the canonical URL has been queued at any point.
func (s *State) Visited(canonicalURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited[canonicalURL]
}

// AddLearnings appends extracted facts in completion order.
func (s *State) AddLearnings(ls ...Learning) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learnings = append(s.learnings, ls...)
}

// Learnings returns a copy of the accumulated learnings.
func (s *State) Learnings() []Learning {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Learning, len(s.learnings))
	copy(out, s.learnings)
	return out
}

// AddUsage folds one provider-reported usage into the running totals.
func (s *State) AddUsage(u TokenUsage) TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Prompt += u.Prompt
	s.usage.Completion += u.Completion
	s.usage.Total = s.usage.Prompt + s.usage.Completion
	return s.usage
}

// Usage returns a snapshot of the running totals.
func (s *State) Usage() TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

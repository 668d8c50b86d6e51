package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// --- provider fakes ---

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]SearchResult
	queries []string
	err     error
}

func (f *fakeSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func (f *fakeSearch) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

type fakeContent struct {
	pages map[string]string
	calls int32
}

func (f *fakeContent) Fetch(ctx context.Context, url string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	content, ok := f.pages[url]
	if !ok {
		return "", errors.New("unreachable")
	}
	return content, nil
}

type fakeGen struct {
	structuredFn    func(prompt, schema string) ([]byte, TokenUsage, error)
	textFn          func(prompt string) (string, TokenUsage, error)
	structuredCalls int32
	textCalls       int32
}

func (f *fakeGen) GenerateStructured(ctx context.Context, prompt, schema, system string) ([]byte, TokenUsage, error) {
	atomic.AddInt32(&f.structuredCalls, 1)
	return f.structuredFn(prompt, schema)
}

func (f *fakeGen) GenerateText(ctx context.Context, prompt, system string) (string, TokenUsage, error) {
	atomic.AddInt32(&f.textCalls, 1)
	if f.textFn == nil {
		return "", TokenUsage{}, errors.New("unexpected text generation")
	}
	return f.textFn(prompt)
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Emit(ev Event, usage TokenUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) ofType(t EventType) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func page(n int) string {
	return strings.Repeat("solid state battery facts. ", n)
}

// genUsage is reported by the fake on every structured call so token
// accumulation is checkable.
var genUsage = TokenUsage{Prompt: 10, Completion: 5, Total: 15}

// scriptedGen answers the query-list schema with queries and the extraction
// schema with one learning plus the given follow-ups.
func scriptedGen(queries []string, followUps []string) *fakeGen {
	return &fakeGen{
		structuredFn: func(prompt, schema string) ([]byte, TokenUsage, error) {
			if strings.Contains(schema, "followUpQuestions") {
				resp := `{"learnings":["one extracted fact"],"followUpQuestions":[`
				for i, q := range followUps {
					if i > 0 {
						resp += ","
					}
					resp += `"` + q + `"`
				}
				resp += `]}`
				return []byte(resp), genUsage, nil
			}
			resp := `{"queries":[`
			for i, q := range queries {
				if i > 0 {
					resp += ","
				}
				resp += `"` + q + `"`
			}
			resp += `]}`
			return []byte(resp), genUsage, nil
		},
	}
}

// --- tests ---

func TestRunDepthZeroDoesNothing(t *testing.T) {
	search := &fakeSearch{}
	content := &fakeContent{}
	gen := &fakeGen{structuredFn: func(string, string) ([]byte, TokenUsage, error) {
		t.Error("structured generation called at depth 0")
		return nil, TokenUsage{}, errors.New("no")
	}}

	e := NewEngine(Config{Depth: 0, Breadth: 2, Concurrency: 2, LearningsPerChunk: 2, MaxResultsPerQuery: 2},
		search, content, gen)
	state := e.Run(context.Background(), "solid state batteries")

	if len(search.calls()) != 0 {
		t.Errorf("search called %d times at depth 0", len(search.calls()))
	}
	if atomic.LoadInt32(&content.calls) != 0 {
		t.Errorf("fetch called %d times at depth 0", content.calls)
	}
	if got := len(state.Learnings()); got != 0 {
		t.Errorf("learnings = %d, want 0", got)
	}
	if state.Sources.Count() != 0 {
		t.Errorf("sources = %d, want 0", state.Sources.Count())
	}
	if state.Usage() != (TokenUsage{}) {
		t.Errorf("usage = %+v, want zero", state.Usage())
	}
}

func TestRunEndToEnd(t *testing.T) {
	search := &fakeSearch{results: map[string][]SearchResult{
		"q1": {{Title: "A", URL: "https://a.com/x"}},
		"q2": {{Title: "B", URL: "https://b.com/y"}},
	}}
	content := &fakeContent{pages: map[string]string{
		"https://a.com/x": page(20),
		"https://b.com/y": page(20),
	}}
	gen := scriptedGen([]string{"q1", "q2"}, nil)
	gen.textFn = func(prompt string) (string, TokenUsage, error) {
		// The report prompt must enumerate every source and learning.
		for _, want := range []string{"[1] ", "[2] ", "one extracted fact"} {
			if !strings.Contains(prompt, want) {
				t.Errorf("report prompt missing %q", want)
			}
		}
		return "# Report", TokenUsage{Prompt: 100, Completion: 50, Total: 150}, nil
	}

	sink := &captureSink{}
	e := NewEngine(Config{Depth: 1, Breadth: 2, Concurrency: 2, LearningsPerChunk: 3, MaxResultsPerQuery: 2},
		search, content, gen)
	e.Events = sink

	state := e.Run(context.Background(), "solid state batteries")

	if state.Sources.Count() != 2 {
		t.Fatalf("sources = %d, want 2", state.Sources.Count())
	}
	learnings := state.Learnings()
	if len(learnings) != 2 {
		t.Fatalf("learnings = %d, want 2", len(learnings))
	}
	for _, l := range learnings {
		if url := state.Sources.LookupURLByID(l.SourceID); url == "unknown" {
			t.Errorf("learning references unknown source id %d", l.SourceID)
		}
		if l.SourceQuery != "q1" && l.SourceQuery != "q2" {
			t.Errorf("unexpected source query %q", l.SourceQuery)
		}
	}

	// Depth 1: only the two top-level queries may hit the search provider.
	if calls := search.calls(); len(calls) != 2 {
		t.Errorf("search calls = %v, want exactly q1 and q2", calls)
	}

	// Two sources already meet the hard minimum; the diversity rounds run
	// but find nothing new, then report generation proceeds.
	report, err := e.GenerateReport(context.Background(), "solid state batteries")
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	if report != "# Report" {
		t.Errorf("report = %q", report)
	}
	if atomic.LoadInt32(&gen.textCalls) != 1 {
		t.Errorf("text generation called %d times, want 1", gen.textCalls)
	}

	if got := len(sink.ofType(EventReportGeneration)); got != 1 {
		t.Errorf("report_generation events = %d, want 1", got)
	}
	if got := len(sink.ofType(EventSearch)); got < 2 {
		t.Errorf("search events = %d, want at least 2", got)
	}
}

func TestRunDeduplicatesEquivalentURLs(t *testing.T) {
	// Both queries surface the same page in different raw spellings.
	search := &fakeSearch{results: map[string][]SearchResult{
		"q1": {{Title: "A", URL: "https://Example.com/a/?utm_source=x&b=2&a=1"}},
		"q2": {{Title: "A again", URL: "https://example.com/a?b=2&a=1"}},
	}}
	content := &fakeContent{pages: map[string]string{
		"https://Example.com/a/?utm_source=x&b=2&a=1": page(20),
		"https://example.com/a?b=2&a=1":               page(20),
	}}
	gen := scriptedGen([]string{"q1", "q2"}, nil)

	e := NewEngine(Config{Depth: 1, Breadth: 2, Concurrency: 1, LearningsPerChunk: 3, MaxResultsPerQuery: 2},
		search, content, gen)
	state := e.Run(context.Background(), "topic")

	if state.Sources.Count() != 1 {
		t.Errorf("sources = %d, want 1 after dedup", state.Sources.Count())
	}
	if got := atomic.LoadInt32(&content.calls); got != 1 {
		t.Errorf("fetch calls = %d, want 1 after dedup", got)
	}
}

func TestRunScreensDisallowedURLs(t *testing.T) {
	search := &fakeSearch{results: map[string][]SearchResult{
		"q1": {
			{Title: "Auth", URL: "https://example.com/login"},
			{Title: "Social", URL: "https://www.facebook.com/page"},
			{Title: "Good", URL: "https://example.com/article"},
		},
	}}
	content := &fakeContent{pages: map[string]string{
		"https://example.com/article": page(20),
	}}
	gen := scriptedGen([]string{"q1"}, nil)

	e := NewEngine(Config{Depth: 1, Breadth: 1, Concurrency: 1, LearningsPerChunk: 2, MaxResultsPerQuery: 5},
		search, content, gen)
	state := e.Run(context.Background(), "topic")

	if state.Sources.Count() != 1 {
		t.Fatalf("sources = %d, want 1", state.Sources.Count())
	}
	if got := state.Sources.LookupURLByID(1); got != "https://example.com/article" {
		t.Errorf("admitted source = %q", got)
	}
}

func TestRunRecursesOnFollowUps(t *testing.T) {
	search := &fakeSearch{results: map[string][]SearchResult{
		"q1":        {{Title: "A", URL: "https://a.com/x"}},
		"follow-up": {{Title: "B", URL: "https://b.com/y"}},
	}}
	content := &fakeContent{pages: map[string]string{
		"https://a.com/x": page(20),
		"https://b.com/y": page(20),
	}}

	// First query round yields q1; extraction yields a follow-up; the second
	// round's query generation fails, forcing the fallback to the follow-up
	// prompt itself.
	var round int32
	gen := &fakeGen{}
	gen.structuredFn = func(prompt, schema string) ([]byte, TokenUsage, error) {
		if strings.Contains(schema, "followUpQuestions") {
			return []byte(`{"learnings":["fact"],"followUpQuestions":["follow-up"]}`), genUsage, nil
		}
		if atomic.AddInt32(&round, 1) == 1 {
			return []byte(`{"queries":["q1"]}`), genUsage, nil
		}
		return nil, genUsage, errors.New("model unavailable")
	}

	e := NewEngine(Config{Depth: 2, Breadth: 1, Concurrency: 2, LearningsPerChunk: 2, MaxResultsPerQuery: 2},
		search, content, gen)
	state := e.Run(context.Background(), "topic")

	calls := search.calls()
	found := false
	for _, q := range calls {
		if q == "follow-up" {
			found = true
		}
	}
	if !found {
		t.Errorf("recursion did not search the follow-up question; calls = %v", calls)
	}
	if state.Sources.Count() != 2 {
		t.Errorf("sources = %d, want 2", state.Sources.Count())
	}
}

func TestQueryGenerationFallback(t *testing.T) {
	search := &fakeSearch{results: map[string][]SearchResult{}}
	content := &fakeContent{}
	gen := &fakeGen{structuredFn: func(string, string) ([]byte, TokenUsage, error) {
		return nil, genUsage, errors.New("model unavailable")
	}}

	sink := &captureSink{}
	e := NewEngine(Config{Depth: 1, Breadth: 3, Concurrency: 1, LearningsPerChunk: 2, MaxResultsPerQuery: 2},
		search, content, gen)
	e.Events = sink
	e.Run(context.Background(), "the original topic")

	calls := search.calls()
	if len(calls) != 1 || calls[0] != "the original topic" {
		t.Errorf("fallback search calls = %v, want just the topic", calls)
	}
	if len(sink.ofType(EventError)) == 0 {
		t.Error("no error event emitted for query generation failure")
	}
}

func TestShortContentSkipped(t *testing.T) {
	search := &fakeSearch{results: map[string][]SearchResult{
		"q1": {{Title: "Thin", URL: "https://thin.com/page"}},
	}}
	content := &fakeContent{pages: map[string]string{
		"https://thin.com/page": "too short",
	}}
	gen := scriptedGen([]string{"q1"}, nil)

	sink := &captureSink{}
	e := NewEngine(Config{Depth: 1, Breadth: 1, Concurrency: 1, LearningsPerChunk: 2, MaxResultsPerQuery: 2},
		search, content, gen)
	e.Events = sink
	state := e.Run(context.Background(), "topic")

	if state.Sources.Count() != 0 {
		t.Errorf("sources = %d, want 0 for short content", state.Sources.Count())
	}
	scrapes := sink.ofType(EventScrape)
	if len(scrapes) != 1 || scrapes[0].Status != "failed" {
		t.Errorf("scrape events = %+v, want one failed", scrapes)
	}
}

func TestTokenUsageAccumulation(t *testing.T) {
	search := &fakeSearch{results: map[string][]SearchResult{
		"q1": {{Title: "A", URL: "https://a.com/x"}},
		"q2": {{Title: "B", URL: "https://b.com/y"}},
	}}
	content := &fakeContent{pages: map[string]string{
		"https://a.com/x": page(20),
		"https://b.com/y": page(20),
	}}
	gen := scriptedGen([]string{"q1", "q2"}, nil)

	e := NewEngine(Config{Depth: 1, Breadth: 2, Concurrency: 2, LearningsPerChunk: 2, MaxResultsPerQuery: 2},
		search, content, gen)
	state := e.Run(context.Background(), "topic")

	n := int(atomic.LoadInt32(&gen.structuredCalls))
	if n == 0 {
		t.Fatal("no structured calls recorded")
	}
	usage := state.Usage()
	if usage.Prompt != n*genUsage.Prompt || usage.Completion != n*genUsage.Completion {
		t.Errorf("usage = %+v after %d calls reporting %+v each", usage, n, genUsage)
	}
	if usage.Total != usage.Prompt+usage.Completion {
		t.Errorf("usage total %d != prompt %d + completion %d", usage.Total, usage.Prompt, usage.Completion)
	}
}

func TestGenerateReportRefusesBelowHardMinimum(t *testing.T) {
	// Search finds nothing, so the diversity rounds cannot help.
	search := &fakeSearch{results: map[string][]SearchResult{}}
	content := &fakeContent{}
	gen := scriptedGen([]string{"qa", "qb"}, nil)

	e := NewEngine(Config{Depth: 1, Breadth: 2, Concurrency: 1, LearningsPerChunk: 2, MaxResultsPerQuery: 2},
		search, content, gen)

	// One source discovered during the run; below the hard minimum of two.
	e.State.Sources.GetOrCreate("https://only.com/source", "q")
	e.State.AddLearnings(Learning{Text: "lonely fact", SourceID: 1, SourceQuery: "q"})

	_, err := e.GenerateReport(context.Background(), "topic")
	if err == nil {
		t.Fatal("expected refusal with a single source")
	}
	var insufficient *InsufficientSourcesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error = %v, want InsufficientSourcesError", err)
	}
	if insufficient.Count != 1 || insufficient.Minimum != 2 {
		t.Errorf("error carries count=%d minimum=%d", insufficient.Count, insufficient.Minimum)
	}
	if atomic.LoadInt32(&gen.textCalls) != 0 {
		t.Error("text generation was called despite refusal")
	}
}

func TestDiversityRoundsStopWhenSatisfied(t *testing.T) {
	search := &fakeSearch{results: map[string][]SearchResult{
		"diverse-1": {{Title: "C", URL: "https://c.com/z"}},
	}}
	content := &fakeContent{pages: map[string]string{
		"https://c.com/z": page(20),
	}}
	gen := scriptedGen([]string{"diverse-1"}, nil)
	gen.textFn = func(string) (string, TokenUsage, error) {
		return "# Report", TokenUsage{}, nil
	}

	e := NewEngine(Config{Depth: 1, Breadth: 1, Concurrency: 1, LearningsPerChunk: 2, MaxResultsPerQuery: 2},
		search, content, gen)

	// Two pre-existing sources: meets the hard minimum but not the diversity
	// target of three, so exactly the retry rounds should fire.
	e.State.Sources.GetOrCreate("https://a.com/x", "q")
	e.State.Sources.GetOrCreate("https://b.com/y", "q")
	e.State.AddLearnings(
		Learning{Text: "fact a", SourceID: 1, SourceQuery: "q"},
		Learning{Text: "fact b", SourceID: 2, SourceQuery: "q"},
	)

	report, err := e.GenerateReport(context.Background(), "topic")
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	if report != "# Report" {
		t.Errorf("report = %q", report)
	}
	// The first diversity round finds the third source; the second round
	// must not run.
	if calls := search.calls(); len(calls) != 1 {
		t.Errorf("diversity search calls = %v, want one round", calls)
	}
	if e.State.Sources.Count() != 3 {
		t.Errorf("sources = %d, want 3", e.State.Sources.Count())
	}
}

func TestStateVisitOnce(t *testing.T) {
	s := NewState()
	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryVisit("https://same.com/page") {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	if admitted != 1 {
		t.Errorf("TryVisit admitted %d goroutines, want 1", admitted)
	}
	if !s.Visited("https://same.com/page") {
		t.Error("URL not marked visited")
	}
}

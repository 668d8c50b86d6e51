package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mikeboe/deep-research/pkg/splitter"
)

const (
	// Pages shorter than this after HTML stripping carry no extractable facts.
	minContentLength = 100
	// Fetched text is trimmed to roughly this many characters before extraction.
	maxContentChars  = 25000
	contentChunkSize = 4000

	maxFollowUps = 3

	// Before synthesis the engine hunts for at least this many distinct
	// sources, in up to diversityMaxAttempts extra rounds.
	diversityTargetSources = 3
	diversityMaxAttempts   = 2
	// Below this many sources the report is refused outright.
	hardMinimumSources = 2
)

// Engine drives the recursive research loop: generate queries, search, screen
// and dedup the results, fetch and extract facts, then recurse on the
// follow-up questions, all under one shared concurrency budget.
type Engine struct {
	Config   Config
	State    *State
	Search   SearchProvider
	Content  ContentProvider
	Gen      Generator
	Screener *Screener
	Logger   *slog.Logger
	Events   EventSink

	splitter *splitter.TextSplitter
	sem      *semaphore.Weighted
}

// NewEngine wires an engine with default screener, logger and a discarding
// event sink; callers override the exported fields before Run.
func NewEngine(cfg Config, search SearchProvider, content ContentProvider, gen Generator) *Engine {
	cfg = cfg.Normalize()
	screener, _ := NewScreener(nil, nil)
	return &Engine{
		Config:   cfg,
		State:    NewState(),
		Search:   search,
		Content:  content,
		Gen:      gen,
		Screener: screener,
		Logger:   slog.Default(),
		Events:   NopSink{},
		splitter: splitter.NewRecursiveCharacterTextSplitter(contentChunkSize, 0),
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Run researches the topic to the configured depth and returns the
// accumulated state. Individual provider failures are logged and skipped; Run
// itself always completes.
func (e *Engine) Run(ctx context.Context, topic string) *State {
	e.Logger.Info("Starting research", "topic", topic, "depth", e.Config.Depth, "breadth", e.Config.Breadth)
	e.researchRecursive(ctx, topic, e.Config.Depth)
	e.Logger.Info("Research finished",
		"sources", e.State.Sources.Count(),
		"learnings", len(e.State.Learnings()),
		"tokens", e.State.Usage().Total)
	return e.State
}

func (e *Engine) researchRecursive(ctx context.Context, prompt string, depth int) {
	if depth <= 0 || ctx.Err() != nil {
		return
	}

	queries := e.generateQueries(ctx,
		buildQueryPrompt(prompt, e.Config.Breadth, e.State.Learnings(), e.State.Sources),
		prompt)
	e.emit(Event{Type: EventQueryGenerated, Depth: depth, Query: prompt, Queries: queries, Count: len(queries)})

	pairs := e.searchPhase(ctx, depth, queries)
	followUps := e.fetchExtractPhase(ctx, depth, pairs)

	if depth > 1 && len(followUps) > 0 {
		next := followUps
		if len(next) > e.Config.Breadth {
			next = next[:e.Config.Breadth]
		}
		var wg sync.WaitGroup
		for _, q := range next {
			wg.Add(1)
			go func(q string) {
				defer wg.Done()
				e.researchRecursive(ctx, q, depth-1)
			}(q)
		}
		wg.Wait()
	}
}

// generateQueries asks the model for up to breadth search queries. On any
// failure the run degrades to the original prompt as the single query rather
// than stalling.
func (e *Engine) generateQueries(ctx context.Context, queryPrompt, fallback string) []string {
	var result queryListResult
	err := e.structured(ctx, queryPrompt, queryListSchema, &result)
	if err == nil {
		err = result.validate()
	}
	if err != nil {
		e.Logger.Error("Query generation failed, falling back to topic", "error", err)
		e.emit(Event{Type: EventError, Message: fmt.Sprintf("query generation failed: %v", err)})
		return []string{fallback}
	}
	if len(result.Queries) > e.Config.Breadth {
		result.Queries = result.Queries[:e.Config.Breadth]
	}
	return result.Queries
}

type searchPair struct {
	query  string
	result SearchResult
}

// searchPhase fans the queries out to the search provider under the shared
// budget, then screens, dedups and truncates the results in query-submission
// order.
func (e *Engine) searchPhase(ctx context.Context, depth int, queries []string) []searchPair {
	type outcome struct {
		results []SearchResult
		err     error
	}
	outcomes := make([]outcome, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			e.withSlot(ctx, func() {
				res, err := e.Search.Search(ctx, q)
				outcomes[i] = outcome{results: res, err: err}
			})
		}(i, q)
	}
	wg.Wait()

	var pairs []searchPair
	for i, q := range queries {
		o := outcomes[i]
		if o.err != nil {
			e.Logger.Error("Search failed", "query", q, "error", o.err)
			e.emit(Event{Type: EventError, Query: q, Message: fmt.Sprintf("search failed: %v", o.err)})
			continue
		}
		e.emit(Event{Type: EventSearch, Depth: depth, Query: q, Count: len(o.results)})

		admitted := 0
		for _, r := range o.results {
			if admitted >= e.Config.MaxResultsPerQuery {
				break
			}
			if !e.Screener.IsAllowed(r.URL) {
				continue
			}
			// TryVisit claims the canonical URL atomically, which also
			// covers duplicates within this batch and across sibling
			// branches running concurrently.
			if !e.State.TryVisit(CanonicalURL(r.URL)) {
				continue
			}
			pairs = append(pairs, searchPair{query: q, result: r})
			admitted++
		}
	}
	return pairs
}

// fetchExtractPhase fetches every admitted URL, extracts learnings, and
// returns the follow-up questions collected across the batch. Failures skip
// the page without aborting the batch.
func (e *Engine) fetchExtractPhase(ctx context.Context, depth int, pairs []searchPair) []string {
	var (
		mu        sync.Mutex
		followUps []string
		wg        sync.WaitGroup
	)

	for _, p := range pairs {
		wg.Add(1)
		go func(p searchPair) {
			defer wg.Done()

			var content string
			var fetchErr error
			ok := e.withSlot(ctx, func() {
				content, fetchErr = e.Content.Fetch(ctx, p.result.URL)
			})
			if !ok {
				return
			}
			if fetchErr != nil || len(content) < minContentLength {
				e.Logger.Warn("Scrape failed", "url", p.result.URL, "error", fetchErr)
				e.emit(Event{Type: EventScrape, Depth: depth, Query: p.query, URL: p.result.URL, Status: "failed"})
				return
			}
			e.emit(Event{Type: EventScrape, Depth: depth, Query: p.query, URL: p.result.URL, Status: "success"})

			extraction := e.extractLearnings(ctx, p.query, p.result.URL, e.trimContent(content))

			if len(extraction.Learnings) > 0 {
				rec := e.State.Sources.GetOrCreate(p.result.URL, p.query)
				learnings := make([]Learning, 0, len(extraction.Learnings))
				for _, text := range extraction.Learnings {
					learnings = append(learnings, Learning{Text: text, SourceID: rec.ID, SourceQuery: p.query})
				}
				e.State.AddLearnings(learnings...)
				e.emit(Event{Type: EventLearnings, Depth: depth, Query: p.query, URL: p.result.URL, Count: len(learnings)})
			}

			if len(extraction.FollowUpQuestions) > 0 {
				mu.Lock()
				followUps = append(followUps, extraction.FollowUpQuestions...)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return followUps
}

// extractLearnings runs the structured extraction call. Any failure is
// demoted to zero learnings and zero follow-ups.
func (e *Engine) extractLearnings(ctx context.Context, query, url, content string) extractionResult {
	var result extractionResult
	err := e.structured(ctx, buildExtractionPrompt(query, content, e.Config.LearningsPerChunk), extractionSchema, &result)
	if err == nil {
		err = result.validate()
	}
	if err != nil {
		e.Logger.Error("Extraction failed", "url", url, "error", err)
		e.emit(Event{Type: EventError, Query: query, URL: url, Message: fmt.Sprintf("extraction failed: %v", err)})
		return extractionResult{}
	}
	if len(result.Learnings) > e.Config.LearningsPerChunk {
		result.Learnings = result.Learnings[:e.Config.LearningsPerChunk]
	}
	if len(result.FollowUpQuestions) > maxFollowUps {
		result.FollowUpQuestions = result.FollowUpQuestions[:maxFollowUps]
	}
	return result
}

// ensureSourceDiversity runs extra non-recursive search rounds until at least
// target distinct sources exist or attempts are exhausted. Falling short is a
// logged condition, not a failure; the hard minimum is enforced by the caller.
func (e *Engine) ensureSourceDiversity(ctx context.Context, topic string, target, attempts int) {
	for attempt := 1; attempt <= attempts; attempt++ {
		if e.State.Sources.Count() >= target {
			return
		}
		e.Logger.Info("Seeking additional sources", "attempt", attempt, "have", e.State.Sources.Count(), "want", target)

		queries := e.generateQueries(ctx, buildDiversityPrompt(topic, e.Config.Breadth), topic)
		e.emit(Event{Type: EventQueryGenerated, Query: topic, Queries: queries, Count: len(queries)})

		pairs := e.searchPhase(ctx, 0, queries)
		// Follow-ups are intentionally dropped: diversity rounds never recurse.
		e.fetchExtractPhase(ctx, 0, pairs)
	}
	if count := e.State.Sources.Count(); count < target {
		e.Logger.Warn("Source diversity below target after retries", "have", count, "want", target)
		e.emit(Event{Type: EventError, Message: fmt.Sprintf("only %d distinct source(s) after diversity retries, wanted %d", count, target)})
	}
}

// GenerateReport compiles the accumulated learnings into a cited Markdown
// document. It refuses with InsufficientSourcesError when fewer than the hard
// minimum of distinct sources back the learnings.
func (e *Engine) GenerateReport(ctx context.Context, topic string) (string, error) {
	e.ensureSourceDiversity(ctx, topic, diversityTargetSources, diversityMaxAttempts)

	if count := e.State.Sources.Count(); count < hardMinimumSources {
		err := &InsufficientSourcesError{Count: count, Minimum: hardMinimumSources}
		e.emit(Event{Type: EventError, Message: err.Error()})
		return "", err
	}

	prompt := buildReportPrompt(topic, e.State.Learnings(), e.State.Sources.Records())

	var report string
	var usage TokenUsage
	var genErr error
	ok := e.withSlot(ctx, func() {
		report, usage, genErr = e.Gen.GenerateText(ctx, prompt, systemPrompt())
	})
	if !ok {
		return "", ctx.Err()
	}
	e.State.AddUsage(usage)
	if genErr != nil {
		e.emit(Event{Type: EventError, Message: fmt.Sprintf("report generation failed: %v", genErr)})
		return "", fmt.Errorf("report generation failed: %w", genErr)
	}

	e.emit(Event{Type: EventReportGeneration, Count: len(report)})
	e.Logger.Info("Report generated", "length", len(report), "sources", e.State.Sources.Count())
	return report, nil
}

// structured performs one structured generation call under the shared budget
// and decodes the recovered JSON into out.
func (e *Engine) structured(ctx context.Context, prompt, schema string, out any) error {
	var data []byte
	var usage TokenUsage
	var err error
	ok := e.withSlot(ctx, func() {
		data, usage, err = e.Gen.GenerateStructured(ctx, prompt, schema, systemPrompt())
	})
	e.State.AddUsage(usage)
	if !ok {
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("structured response did not match expected shape: %w", err)
	}
	return nil
}

// trimContent caps page text to roughly maxContentChars, splitting on
// natural boundaries so the cut does not land mid-sentence.
func (e *Engine) trimContent(content string) string {
	if len(content) <= maxContentChars {
		return content
	}
	trimmed, err := e.splitter.FirstChunks(content, maxContentChars)
	if err != nil || trimmed == "" {
		return content[:maxContentChars]
	}
	return trimmed
}

// withSlot runs fn while holding one slot of the shared concurrency budget.
// Slots are held only across individual provider calls, never across whole
// branches, so recursion depth can exceed the budget without deadlocking
// while total in-flight I/O stays bounded.
func (e *Engine) withSlot(ctx context.Context, fn func()) bool {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer e.sem.Release(1)
	fn()
	return true
}

func (e *Engine) emit(ev Event) {
	if e.Events == nil {
		return
	}
	e.Events.Emit(ev, e.State.Usage())
}

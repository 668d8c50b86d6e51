package research

import "sync"

// SourceRegistry assigns stable 1-based ids to canonical URLs. The first
// sighting of a canonical URL wins: later calls with an equivalent URL return
// the original record unchanged.
type SourceRegistry struct {
	mu      sync.Mutex
	byCanon map[string]*SourceRecord
	records []*SourceRecord
}

func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{byCanon: make(map[string]*SourceRecord)}
}

// GetOrCreate looks up the record for rawURL's canonical form, allocating the
// next id on a miss. Lookup and create are a single critical section.
func (r *SourceRegistry) GetOrCreate(rawURL, firstSeenQuery string) SourceRecord {
	canon := CanonicalURL(rawURL)

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.byCanon[canon]; ok {
		return *rec
	}

	rec := &SourceRecord{
		ID:             len(r.records) + 1,
		URL:            rawURL,
		CanonicalURL:   canon,
		FirstSeenQuery: firstSeenQuery,
	}
	r.byCanon[canon] = rec
	r.records = append(r.records, rec)
	return *rec
}

// LookupURLByID resolves an id to its raw URL for prompt rendering. Unknown
// ids come back as "unknown" rather than an error; this is display-only.
func (r *SourceRegistry) LookupURLByID(id int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 1 || id > len(r.records) {
		return "unknown"
	}
	return r.records[id-1].URL
}

// Count returns the number of distinct sources seen so far.
func (r *SourceRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Records returns the sources in id order.
func (r *SourceRegistry) Records() []SourceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SourceRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = *rec
	}
	return out
}

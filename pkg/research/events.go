package research

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EventType tags what happened; the set matches the phases of the pipeline.
type EventType string

const (
	EventQueryGenerated   EventType = "query_generated"
	EventSearch           EventType = "search"
	EventScrape           EventType = "scrape"
	EventLearnings        EventType = "learnings"
	EventReportGeneration EventType = "report_generation"
	EventError            EventType = "error"
)

// Event is one entry in the run's append-only activity log. Only the fields
// relevant to the event type are set.
type Event struct {
	Type    EventType `json:"type"`
	Depth   int       `json:"depth,omitempty"`
	Query   string    `json:"query,omitempty"`
	URL     string    `json:"url,omitempty"`
	Status  string    `json:"status,omitempty"`
	Count   int       `json:"count,omitempty"`
	Queries []string  `json:"queries,omitempty"`
	Message string    `json:"message,omitempty"`
}

// EventSink receives events as they happen. Implementations must not block:
// the engine emits inline with its own progress.
type EventSink interface {
	Emit(ev Event, usage TokenUsage)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(Event, TokenUsage) {}

type sinkRecord struct {
	Time  time.Time  `json:"time"`
	Usage TokenUsage `json:"usage"`
	Event
}

// FileSink appends events as newline-delimited JSON. Writes happen on a
// background goroutine fed by a buffered channel so Emit never blocks the
// producer; if the buffer fills, events are dropped rather than stalling the
// run.
type FileSink struct {
	ch   chan sinkRecord
	done chan struct{}
	once sync.Once
}

// NewFileSink starts a sink writing NDJSON records to w. The caller retains
// ownership of w and should call Close before closing it.
func NewFileSink(w io.Writer) *FileSink {
	s := &FileSink{
		ch:   make(chan sinkRecord, 256),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		enc := json.NewEncoder(w)
		for rec := range s.ch {
			_ = enc.Encode(rec)
		}
	}()
	return s
}

func (s *FileSink) Emit(ev Event, usage TokenUsage) {
	rec := sinkRecord{Time: time.Now(), Usage: usage, Event: ev}
	select {
	case s.ch <- rec:
	default:
	}
}

// Close drains buffered events and stops the writer goroutine.
func (s *FileSink) Close() {
	s.once.Do(func() { close(s.ch) })
	<-s.done
}

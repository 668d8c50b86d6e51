package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
)

// DBLogHandler is a slog.Handler that writes records to the database
type DBLogHandler struct {
	DB    *database.PostgresDB
	JobID uuid.UUID
}

func NewDBLogHandler(db *database.PostgresDB, jobID uuid.UUID) *DBLogHandler {
	return &DBLogHandler{
		DB:    db,
		JobID: jobID,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true // Log everything
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	// Extract attributes to JSON
	attrs := make(map[string]interface{})
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO research_logs (job_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Use background context so logs persist even if the request context
	// cancels mid-run.
	_, err = h.DB.Pool.Exec(context.Background(), query, h.JobID, r.Time, r.Level.String(), r.Message, metaJSON)
	return err
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Attribute chaining is not needed for per-job log rows.
	return h
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	return h
}

// DBEventSink persists pipeline events to research_events. Inserts run on a
// background goroutine fed by a buffered channel so the engine never waits on
// the database; overflow events are dropped.
type DBEventSink struct {
	db    *database.PostgresDB
	jobID uuid.UUID
	ch    chan dbEvent
	done  chan struct{}
}

type dbEvent struct {
	ev    research.Event
	usage research.TokenUsage
}

func NewDBEventSink(db *database.PostgresDB, jobID uuid.UUID) *DBEventSink {
	s := &DBEventSink{
		db:    db,
		jobID: jobID,
		ch:    make(chan dbEvent, 256),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *DBEventSink) loop() {
	defer close(s.done)
	for e := range s.ch {
		payload, err := json.Marshal(e.ev)
		if err != nil {
			continue
		}
		usage, _ := json.Marshal(e.usage)
		_, _ = s.db.Pool.Exec(context.Background(),
			`INSERT INTO research_events (job_id, type, payload, usage) VALUES ($1, $2, $3, $4)`,
			s.jobID, string(e.ev.Type), payload, usage)
	}
}

func (s *DBEventSink) Emit(ev research.Event, usage research.TokenUsage) {
	select {
	case s.ch <- dbEvent{ev: ev, usage: usage}:
	default:
	}
}

// Close drains pending events and stops the insert goroutine.
func (s *DBEventSink) Close() {
	close(s.ch)
	<-s.done
}

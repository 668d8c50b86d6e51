package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/fetch"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
)

type Service struct {
	DB  *database.PostgresDB
	Cfg *config.Config
}

func NewService(db *database.PostgresDB, cfg *config.Config) *Service {
	return &Service{
		DB:  db,
		Cfg: cfg,
	}
}

type Job struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	Status    string          `json:"status"`
	Report    *string         `json:"report,omitempty"`
	Sources   json.RawMessage `json:"sources,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Config    json.RawMessage `json:"config"`
}

type CreateJobRequest struct {
	Topic              string `json:"topic"`
	Depth              int    `json:"depth"`
	Breadth            int    `json:"breadth"`
	Concurrency        int    `json:"concurrency"`
	LearningsPerChunk  int    `json:"learnings_per_chunk"`
	MaxResultsPerQuery int    `json:"max_results_per_query"`
}

func (req CreateJobRequest) researchConfig(defaults *config.Config) research.Config {
	cfg := research.Config{
		Depth:              req.Depth,
		Breadth:            req.Breadth,
		Concurrency:        req.Concurrency,
		LearningsPerChunk:  req.LearningsPerChunk,
		MaxResultsPerQuery: req.MaxResultsPerQuery,
	}
	if cfg.Depth == 0 {
		cfg.Depth = defaults.Depth
	}
	if cfg.Breadth == 0 {
		cfg.Breadth = defaults.Breadth
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.LearningsPerChunk == 0 {
		cfg.LearningsPerChunk = defaults.Learnings
	}
	if cfg.MaxResultsPerQuery == 0 {
		cfg.MaxResultsPerQuery = defaults.MaxResults
	}
	return cfg.Normalize()
}

func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	rcfg := req.researchConfig(s.Cfg)
	configJSON, _ := json.Marshal(rcfg)

	jobID := uuid.New()
	query := `
		INSERT INTO research_jobs (id, topic, status, config)
		VALUES ($1, $2, 'pending', $3)
		RETURNING id, topic, status, created_at, updated_at
	`

	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, jobID, req.Topic, configJSON).Scan(
		&job.ID, &job.Topic, &job.Status, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	// Start background worker
	go s.runWorker(job.ID, req.Topic, rcfg)

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `
		SELECT id, topic, status, report, sources, created_at, updated_at, config
		FROM research_jobs
		WHERE id = $1
	`
	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.Topic, &job.Status, &job.Report, &job.Sources, &job.CreatedAt, &job.UpdatedAt, &job.Config,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	query := `
		SELECT id, topic, status, report, sources, created_at, updated_at, config
		FROM research_jobs
		ORDER BY created_at DESC
		LIMIT 50
	`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.Topic, &job.Status, &job.Report, &job.Sources, &job.CreatedAt, &job.UpdatedAt, &job.Config); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

type EventEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Usage     json.RawMessage `json:"usage"`
}

func (s *Service) GetJobEvents(ctx context.Context, jobID uuid.UUID) ([]EventEntry, error) {
	query := `
		SELECT id, timestamp, type, payload, usage
		FROM research_events
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []EventEntry
	for rows.Next() {
		var e EventEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &e.Payload, &e.Usage); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *Service) buildEngine(ctx context.Context, rcfg research.Config) (*research.Engine, error) {
	var gen *research.LLMGenerator
	switch s.Cfg.Provider {
	case "google":
		model, err := clients.GoogleAI(ctx, s.Cfg.GoogleApiKey, s.Cfg.Model)
		if err != nil {
			return nil, err
		}
		gen = research.NewLLMGenerator(model)
	default:
		model, err := clients.OpenAI(s.Cfg.OpenAIApiKey, s.Cfg.Model, s.Cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		gen = research.NewLLMGenerator(model)
	}

	fetcher := fetch.NewHTTP()
	if s.Cfg.MistralApiKey != "" {
		fetcher.OCR = fetch.NewMistralOCR(s.Cfg.MistralApiKey)
	}

	searcher := search.NewDuckDuckGo(rcfg.MaxResultsPerQuery)
	return research.NewEngine(rcfg, searcher, fetcher, gen), nil
}

func (s *Service) runWorker(jobID uuid.UUID, topic string, rcfg research.Config) {
	ctx := context.Background()

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE research_jobs SET status = 'running', updated_at = NOW() WHERE id = $1", jobID)

	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID))

	engine, err := s.buildEngine(ctx, rcfg)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Failed to init engine: %v", err))
		return
	}

	sink := NewDBEventSink(s.DB, jobID)
	defer sink.Close()

	engine.Logger = dbLogger
	engine.Events = sink

	state := engine.Run(ctx, topic)

	report, err := engine.GenerateReport(ctx, topic)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Research failed: %v", err))
		return
	}

	sourcesJSON, err := json.Marshal(state.Sources.Records())
	if err != nil {
		sourcesJSON = []byte("[]")
	}

	_, err = s.DB.Pool.Exec(ctx,
		"UPDATE research_jobs SET status = 'completed', report = $2, sources = $3, updated_at = NOW() WHERE id = $1",
		jobID, report, sourcesJSON)
	if err != nil {
		dbLogger.Error("Failed to save final report to DB", "error", err)
	}
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, reason string) {
	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID))
	dbLogger.Error(reason)

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE research_jobs SET status = 'failed', updated_at = NOW() WHERE id = $1", jobID)
}

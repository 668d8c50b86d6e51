package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/fetch"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
)

var (
	topic         string
	depth         int
	breadth       int
	concurrency   int
	modelName     string
	baseURL       string
	provider      string
	searchBackend string
	learnings     int
	maxResults    int
	outputPath    string
	logFilePath   string
)

func main() {
	// Setup structured logging
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	// Load .env file; it's okay if it doesn't exist as long as env vars are set
	_ = godotenv.Load()

	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "A terminal-based deep research agent",
		Long: `deep-research explores a topic by recursively generating search queries,
scraping and reading the results, extracting cited learnings, and compiling
them into a Markdown report with source references.`,
		Run: func(cmd *cobra.Command, args []string) {
			if !cmd.Flags().Changed("topic") {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Enter research topic: ")
				input, _ := reader.ReadString('\n')
				topic = strings.TrimSpace(input)
			}
			if topic == "" {
				slog.Error("Topic cannot be empty")
				os.Exit(1)
			}

			if err := runResearch(cmd.Context(), cfg); err != nil {
				slog.Error("Research failed", "error", err)
				os.Exit(1)
			}
		},
	}

	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic")
	rootCmd.Flags().IntVar(&depth, "depth", cfg.Depth, "Recursion depth of the query tree")
	rootCmd.Flags().IntVar(&breadth, "breadth", cfg.Breadth, "Queries and follow-ups explored per level")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", cfg.Concurrency, "Concurrent provider calls across the whole run")
	rootCmd.Flags().StringVar(&modelName, "model", cfg.Model, "Model identifier")
	rootCmd.Flags().StringVar(&baseURL, "base-url", cfg.BaseURL, "OpenAI-compatible endpoint (empty for api.openai.com)")
	rootCmd.Flags().StringVar(&provider, "provider", cfg.Provider, "LLM provider: openai or google")
	rootCmd.Flags().StringVar(&searchBackend, "search", "duckduckgo", "Search backend: duckduckgo or arxiv")
	rootCmd.Flags().IntVar(&learnings, "learnings", cfg.Learnings, "Learnings extracted per page")
	rootCmd.Flags().IntVar(&maxResults, "max-results", cfg.MaxResults, "Search results kept per query")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Report output file (default stdout)")
	rootCmd.Flags().StringVar(&logFilePath, "log-file", "", "Append NDJSON event log to this file")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func runResearch(ctx context.Context, cfg *config.Config) error {
	var gen *research.LLMGenerator
	switch provider {
	case "google":
		model, err := clients.GoogleAI(ctx, cfg.GoogleApiKey, modelName)
		if err != nil {
			return fmt.Errorf("failed to init LLM: %w", err)
		}
		gen = research.NewLLMGenerator(model)
	case "openai":
		model, err := clients.OpenAI(cfg.OpenAIApiKey, modelName, baseURL)
		if err != nil {
			return fmt.Errorf("failed to init LLM: %w", err)
		}
		gen = research.NewLLMGenerator(model)
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}

	var searcher research.SearchProvider
	switch searchBackend {
	case "arxiv":
		searcher = search.NewArxiv(maxResults)
	case "duckduckgo":
		searcher = search.NewDuckDuckGo(maxResults)
	default:
		return fmt.Errorf("unknown search backend %q", searchBackend)
	}

	fetcher := fetch.NewHTTP()
	if cfg.MistralApiKey != "" {
		fetcher.OCR = fetch.NewMistralOCR(cfg.MistralApiKey)
	}

	rcfg := research.Config{
		Depth:              depth,
		Breadth:            breadth,
		Concurrency:        concurrency,
		LearningsPerChunk:  learnings,
		MaxResultsPerQuery: maxResults,
	}

	engine := research.NewEngine(rcfg, searcher, fetcher, gen)

	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		sink := research.NewFileSink(f)
		defer sink.Close()
		engine.Events = sink
	}

	engine.Run(ctx, topic)

	report, err := engine.GenerateReport(ctx, topic)
	if err != nil {
		return err
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(report), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		slog.Info("Report written", "path", outputPath)
		return nil
	}
	fmt.Println(report)
	return nil
}

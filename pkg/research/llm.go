package research

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/jsonextract"
)

// LLMGenerator implements Generator on top of a langchaingo model. Structured
// calls run in JSON mode and pass the response through the tolerant extractor
// before it is accepted.
type LLMGenerator struct {
	Model  llms.Model
	Logger *slog.Logger
}

func NewLLMGenerator(model llms.Model) *LLMGenerator {
	return &LLMGenerator{Model: model, Logger: slog.Default()}
}

// generateWithRetry attempts a generation and validates it with the provided
// function, retrying up to 3 times with linear backoff on provider or
// validation failure.
func (g *LLMGenerator) generateWithRetry(ctx context.Context, prompts []llms.MessageContent, validator func(string) error, opts ...llms.CallOption) (string, TokenUsage, error) {
	maxRetries := 3
	var lastErr error
	var usage TokenUsage

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			g.Logger.Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
			select {
			case <-time.After(time.Second * time.Duration(i)):
			case <-ctx.Done():
				return "", usage, ctx.Err()
			}
		}

		resp, err := g.Model.GenerateContent(ctx, prompts, opts...)
		if err != nil {
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("llm returned no choices")
			continue
		}

		choice := resp.Choices[0]
		usage = usage.Add(usageFromInfo(choice.GenerationInfo))

		if err := validator(choice.Content); err != nil {
			lastErr = fmt.Errorf("validation failed: %w", err)
			continue
		}
		return choice.Content, usage, nil
	}
	return "", usage, fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}

func (g *LLMGenerator) GenerateStructured(ctx context.Context, prompt, schema, system string) ([]byte, TokenUsage, error) {
	var recovered []byte
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system+"\n\n# Response Format:\n"+schema),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	_, usage, err := g.generateWithRetry(ctx, content, func(raw string) error {
		data, err := jsonextract.Extract(raw)
		if err != nil {
			return err
		}
		recovered = data
		return nil
	}, llms.WithJSONMode())
	if err != nil {
		return nil, usage, err
	}
	return recovered, usage, nil
}

func (g *LLMGenerator) GenerateText(ctx context.Context, prompt, system string) (string, TokenUsage, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	out, usage, err := g.generateWithRetry(ctx, content, func(raw string) error {
		if raw == "" {
			return fmt.Errorf("empty completion")
		}
		return nil
	})
	return out, usage, err
}

// usageFromInfo digs token counts out of GenerationInfo. Key names differ per
// backend (OpenAI-compatible vs Gemini), so several spellings are tried.
func usageFromInfo(info map[string]any) TokenUsage {
	prompt := intFromInfo(info, "PromptTokens", "prompt_tokens", "input_tokens")
	completion := intFromInfo(info, "CompletionTokens", "completion_tokens", "output_tokens")
	return TokenUsage{Prompt: prompt, Completion: completion, Total: prompt + completion}
}

func intFromInfo(info map[string]any, keys ...string) int {
	for _, k := range keys {
		v, ok := info[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int32:
			return int(n)
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

package clients

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOpenAIModel is used when no model is specified for the openai provider.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI builds a model client for any OpenAI-compatible endpoint. baseURL is
// optional; leaving it empty targets api.openai.com, setting it points the
// client at a compatible server (Ollama, vLLM, a proxy).
func OpenAI(apiKey, model, baseURL string) (*openai.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is not set")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return llm, nil
}

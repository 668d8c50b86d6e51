package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/googleai"
)

// DefaultGoogleModel is used when no model is specified for the google provider.
const DefaultGoogleModel = "gemini-2.5-flash"

// GoogleAI builds a Gemini-backed model client.
// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models.
func GoogleAI(ctx context.Context, apiKey, model string) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google api key is not set")
	}
	if model == "" {
		model = DefaultGoogleModel
	}
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return llm, nil
}

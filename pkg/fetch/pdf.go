package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const mistralOCREndpoint = "https://api.mistral.ai/v1/ocr"

// MistralOCR extracts text from PDF documents through the Mistral OCR API.
type MistralOCR struct {
	APIKey string
	Client *http.Client
}

func NewMistralOCR(apiKey string) *MistralOCR {
	return &MistralOCR{
		APIKey: apiKey,
		Client: &http.Client{Timeout: 60 * time.Second},
	}
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

// ExtractText sends the document URL to the OCR endpoint and concatenates the
// per-page markdown.
func (m *MistralOCR) ExtractText(ctx context.Context, docURL string) (string, error) {
	if m.APIKey == "" {
		return "", fmt.Errorf("mistral api key is not set")
	}
	docURL = strings.Replace(docURL, "http://", "https://", 1)

	reqBody := map[string]interface{}{
		"model": "mistral-ocr-latest",
		"document": map[string]string{
			"type":         "document_url",
			"document_url": docURL,
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mistralOCREndpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.APIKey)

	resp, err := m.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OCR request failed with status %s: %s", resp.Status, string(body))
	}

	var ocr ocrResponse
	if err := json.Unmarshal(body, &ocr); err != nil {
		return "", fmt.Errorf("failed to unmarshal OCR response: %w", err)
	}

	var b strings.Builder
	for _, page := range ocr.Pages {
		b.WriteString(page.Markdown)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()), nil
}

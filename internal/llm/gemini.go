package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider calls Google Gemini through the generative-ai SDK.
type GeminiProvider struct {
	Model  string
	client *genai.Client
}

// NewGeminiProvider creates a Gemini client bound to one model.
func NewGeminiProvider(ctx context.Context, model, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &GeminiProvider{Model: model, client: client}, nil
}

// IsConfigured reports whether a client was created.
func (g *GeminiProvider) IsConfigured() bool {
	return g.client != nil
}

// Generate sends a prompt to Gemini and returns the concatenated text parts.
func (g *GeminiProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("Gemini client not configured")
	}
	model := g.client.GenerativeModel(g.Model)
	model.SetTemperature(0)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return geminiText(resp)
}

// Close releases the underlying client.
func (g *GeminiProvider) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in Gemini response")
	}
	c := resp.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in Gemini response")
	}

	var parts []string
	for _, part := range c.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in Gemini response")
	}
	return strings.Join(parts, ""), nil
}

package completion

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-2.5-flash"

// Gemini completes prompts through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if model == "" {
		model = geminiDefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("completion: gemini: create client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	temperature := float32(0)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: defaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("completion: gemini: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

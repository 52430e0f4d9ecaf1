package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	openAIURL          = "https://api.openai.com/v1/chat/completions"
	openAIDefaultModel = "gpt-4o"
)

type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = openAIDefaultModel
	}
	return &OpenAI{
		apiKey:  apiKey,
		model:   model,
		baseURL: openAIURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// WithBaseURL points the client at another chat completions endpoint.
func (o *OpenAI) WithBaseURL(url string) *OpenAI {
	o.baseURL = url
	return o
}

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"model": o.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  defaultMaxTokens,
		"temperature": 0,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("completion: openai: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("completion: openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion: openai: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("completion: openai: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion: openai: status %d: %s", resp.StatusCode, truncate(respBytes))
	}

	var openaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &openaiResp); err != nil {
		return "", fmt.Errorf("completion: openai: decode: %w", err)
	}
	if openaiResp.Error.Message != "" {
		return "", fmt.Errorf("completion: openai: %s", openaiResp.Error.Message)
	}
	if len(openaiResp.Choices) == 0 || openaiResp.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return openaiResp.Choices[0].Message.Content, nil
}

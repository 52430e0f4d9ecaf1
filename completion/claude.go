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
	claudeURL          = "https://api.anthropic.com/v1/messages"
	claudeDefaultModel = "claude-sonnet-4-20250514"
	claudeAPIVersion   = "2023-06-01"
)

type Claude struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewClaude(apiKey, model string) *Claude {
	if model == "" {
		model = claudeDefaultModel
	}
	return &Claude{
		apiKey:  apiKey,
		model:   model,
		baseURL: claudeURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// WithBaseURL points the client at another messages endpoint.
func (c *Claude) WithBaseURL(url string) *Claude {
	c.baseURL = url
	return c
}

func (c *Claude) Complete(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  defaultMaxTokens,
		"temperature": 0,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("completion: claude: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("completion: claude: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion: claude: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("completion: claude: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion: claude: status %d: %s", resp.StatusCode, truncate(respBytes))
	}

	var claudeResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &claudeResp); err != nil {
		return "", fmt.Errorf("completion: claude: decode: %w", err)
	}
	if claudeResp.Error.Message != "" {
		return "", fmt.Errorf("completion: claude: %s", claudeResp.Error.Message)
	}
	for _, block := range claudeResp.Content {
		if block.Text != "" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyCompletion
}

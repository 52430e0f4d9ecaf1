// Package completion talks to external text-completion services used to
// polish rendered letters. Every provider satisfies Client.
package completion

import (
	"context"
	"errors"
)

var (
	ErrEmptyCompletion = errors.New("completion: empty response")
	ErrMissingAPIKey   = errors.New("completion: api key is required")
)

// Client returns a completion for prompt.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const (
	defaultMaxTokens = 4000
	maxErrorBody     = 512
)

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}

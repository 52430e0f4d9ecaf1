package completion

import (
	"context"
	"fmt"
	"strings"
)

// Provider names a completion backend.
type Provider string

const (
	ProviderNone   Provider = "none"
	ProviderClaude Provider = "claude"
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Settings selects and configures a provider.
type Settings struct {
	Provider Provider
	Model    string
	APIKey   string
}

// New builds the client for settings. ProviderNone, or an empty provider,
// returns a nil Client and no error: enhancement is then disabled.
func New(ctx context.Context, s Settings) (Client, error) {
	switch Provider(strings.ToLower(string(s.Provider))) {
	case ProviderNone, "":
		return nil, nil
	case ProviderClaude:
		if s.APIKey == "" {
			return nil, fmt.Errorf("%w: claude", ErrMissingAPIKey)
		}
		return NewClaude(s.APIKey, s.Model), nil
	case ProviderOpenAI:
		if s.APIKey == "" {
			return nil, fmt.Errorf("%w: openai", ErrMissingAPIKey)
		}
		return NewOpenAI(s.APIKey, s.Model), nil
	case ProviderGemini:
		g, err := NewGemini(ctx, s.APIKey, s.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("completion: unsupported provider %q (supported: none, claude, openai, gemini)", s.Provider)
	}
}

// Providers lists the supported provider names.
func Providers() []Provider {
	return []Provider{ProviderNone, ProviderClaude, ProviderOpenAI, ProviderGemini}
}

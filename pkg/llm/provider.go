package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Options selects and configures a provider.
type Options struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// New builds the Client for opts.Provider. An empty provider means OpenAI.
func New(ctx context.Context, opts Options) (Client, error) {
	switch opts.Provider {
	case "", ProviderOpenAI:
		return NewOpenAIClient(opts.APIKey, opts.Model, opts.BaseURL, opts.Timeout, nil), nil
	case ProviderGemini:
		c, err := NewGeminiClient(ctx, opts.APIKey, opts.Model, opts.BaseURL, &http.Client{Timeout: opts.Timeout})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", opts.Provider)
	}
}

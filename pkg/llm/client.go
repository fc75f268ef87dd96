// Package llm talks to the language models that classify user text.
package llm

import (
	"context"
	"errors"
)

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("llm: empty response")

type Message struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Images  []Image `json:"-"`
}

// Image is an inline picture attached to a user message.
type Image struct {
	MIMEType string
	Data     []byte
}

type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
}

type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
	MaxTokens   int     `json:"max_tokens"`
	// JSONMode asks the provider to return a single JSON object.
	JSONMode bool `json:"-"`
}

type Response struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

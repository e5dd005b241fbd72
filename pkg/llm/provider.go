// Package llm is a minimal chat-completion client interface.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimited is returned when the backend refuses a request for quota
// reasons.
var ErrRateLimited = errors.New("llm rate limited")

// Provider sends chat completion requests to a model backend.
type Provider interface {
	// Complete sends messages and returns the model's reply.
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

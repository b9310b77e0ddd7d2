// Package provider defines the inference client interface for the
// language-model service backing classification and enrichment.
package provider

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no API key is configured. It is
// terminal: the queue never retries it.
var ErrNotConfigured = errors.New("inference API key not configured")

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tune a single completion request. Zero values fall back to the
// provider's configured defaults.
type Options struct {
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	JSONMode    bool    `json:"json_mode,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a completed provider response.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Provider is an inference backend.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "mock").
	Name() string

	// Complete sends a blocking completion request and returns the full
	// response.
	Complete(ctx context.Context, messages []Message, opts Options) (*Response, error)
}

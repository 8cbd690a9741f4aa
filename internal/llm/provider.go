// Package llm defines the provider-agnostic generation contract and
// its Genkit-backed implementation.
package llm

import (
	"context"
	"iter"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting of one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one buffered generation result.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Stream is a lazy, finite, non-restartable sequence of text
// fragments. Iteration stops at the first non-nil error.
type Stream = iter.Seq2[string, error]

// Provider generates model responses from message exchanges.
type Provider interface {
	// Generate runs a buffered generation.
	Generate(ctx context.Context, messages []Message) (*Response, error)

	// GenerateStream returns the fragment sequence un-consumed; the
	// caller drains it.
	GenerateStream(ctx context.Context, messages []Message) Stream
}

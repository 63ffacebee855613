// Package llm defines the completion client interface and the providers
// behind the dispatcher's AI fallback stage.
//
// Each provider wraps one vendor SDK (or HTTP API) behind Client. A Registry
// holds the configured providers and a FailoverClient walks them in order
// when one is unavailable.
package llm

import (
	"context"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a Complete call.
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// CompletionResponse is the result of a completion.
type CompletionResponse struct {
	Content    string        `json:"content"`
	StopReason string        `json:"stopReason,omitempty"`
	Usage      Usage         `json:"usage"`
	Model      string        `json:"model,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Client is the interface all completion providers implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name (e.g., "gemini", "ollama").
	Name() string
}

// Prompt joins the non-system messages of a request into one prompt string,
// for providers that take a single text input.
func Prompt(req CompletionRequest) string {
	if len(req.Messages) == 1 {
		return req.Messages[0].Content
	}
	var out string
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		switch m.Role {
		case RoleAssistant:
			out += "Assistant: " + m.Content
		default:
			out += "User: " + m.Content
		}
	}
	return out
}

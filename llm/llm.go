package llm

import (
	"context"
	"fmt"
	"strings"
)

// Message is one chat turn in provider-neutral form. ToolCalls is set on
// assistant messages that requested tools; ToolCallID links a tool-role
// message back to the call it answers.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is the canonical tool-call shape every adapter must produce,
// regardless of how the backend represents calls on the wire.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolSchema describes one callable tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	ToolChoice  string
	Temperature float64
	MaxTokens   int
}

// ChatResult is the normalized completion result shared by all backends.
type ChatResult struct {
	Content   string
	Model     string
	Usage     Usage
	ToolCalls []ToolCall
}

// Provider is the uniform surface over heterogeneous AI backends.
// Available is a cheap configuration check; HealthCheck performs a live
// probe with its own short timeout and never returns an error.
type Provider interface {
	Name() string
	Model() string
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResult, error)
	Available() bool
	HealthCheck(ctx context.Context) bool
}

// ProviderError reports an upstream backend failure: transport errors,
// rejected credentials, or a malformed payload.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if e.Err != nil {
		if msg == "" {
			return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
		}
		return fmt.Sprintf("%s provider error: %s: %v", e.Provider, msg, e.Err)
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func newProviderError(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Err: err}
}

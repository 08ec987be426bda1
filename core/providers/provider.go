// Package providers abstracts the interchangeable chat backends. Cloud
// providers (Anthropic, OpenAI) support both streaming completion and tool
// calling; the local Ollama provider streams only. The Selector picks a
// provider once per process by fixed precedence and re-evaluates only after
// a terminal failure.
package providers

import (
	"context"
	"errors"
)

// ErrNoProvider indicates no chat backend is configured and reachable.
// Every chat request fails fast with this instead of attempting network
// calls.
var ErrNoProvider = errors.New("no chat provider configured")

// ProviderAdapter is the capability surface the conversation engine needs.
type ProviderAdapter interface {
	// Name returns the provider identifier ("anthropic", "openai", "ollama").
	Name() string

	// Model returns the model the adapter will use.
	Model() string

	// SupportsTools reports whether the provider can request tool calls.
	SupportsTools() bool

	// Complete performs a single non-streaming completion.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// StreamWithHandler performs a streaming completion, invoking the
	// handler for each chunk in order. A handler error aborts the stream.
	StreamWithHandler(ctx context.Context, req *Request, handler StreamHandler) error

	// CheckReady verifies the provider can serve requests: credentials
	// present, and for local providers, the endpoint reachable.
	CheckReady(ctx context.Context) error
}

// StreamHandler receives stream chunks in emission order.
type StreamHandler func(chunk *StreamChunk) error

// Request is a provider-neutral completion request.
type Request struct {
	Messages     []Message `json:"messages"`
	Model        string    `json:"model,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  *float64  `json:"temperature,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Tools        []Tool    `json:"tools,omitempty"`
}

// Message is one turn of conversation history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Tool is a schema-described callable advertised to the provider.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a provider's request to invoke a tool. Arguments is the raw
// JSON argument object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is a provider-neutral completion result.
type Response struct {
	Content    string     `json:"content"`
	Model      string     `json:"model"`
	StopReason StopReason `json:"stop_reason"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// StopReason classifies why a completion ended.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonError     StopReason = "error"
)

// Package chat runs assistant sessions: streaming completions with a
// bounded tool-call loop on providers that support tools, and plain
// streaming on the rest.
package chat

// EventType classifies a session event sent to the client.
type EventType string

const (
	// EventTokenDelta carries a fragment of assistant text.
	EventTokenDelta EventType = "token_delta"
	// EventToolCallStarted announces a tool invocation.
	EventToolCallStarted EventType = "tool_call_started"
	// EventToolCallResult carries a completed tool result.
	EventToolCallResult EventType = "tool_call_result"
	// EventError carries a terminal session error.
	EventError EventType = "error"
	// EventDone marks normal session completion.
	EventDone EventType = "done"
)

// Event is one unit of session output, in emission order.
type Event struct {
	Type EventType `json:"type"`

	// Text is the delta for token events and the message for errors.
	Text string `json:"text,omitempty"`

	// ToolName and ToolCallID identify the tool for tool events.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	// IsError marks a failed tool result.
	IsError bool `json:"is_error,omitempty"`
}

// Emitter receives session events in order. Returning an error aborts the
// session.
type Emitter func(Event) error

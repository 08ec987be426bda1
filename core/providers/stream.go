package providers

import "strings"

// StreamChunkType classifies a single streaming event.
type StreamChunkType string

const (
	// StreamChunkTypeStart marks the beginning of a stream.
	StreamChunkTypeStart StreamChunkType = "start"
	// StreamChunkTypeText carries a text delta.
	StreamChunkTypeText StreamChunkType = "text"
	// StreamChunkTypeToolStart marks the beginning of a tool call.
	StreamChunkTypeToolStart StreamChunkType = "tool_start"
	// StreamChunkTypeToolDelta carries a tool call argument delta.
	StreamChunkTypeToolDelta StreamChunkType = "tool_delta"
	// StreamChunkTypeToolEnd marks the end of a tool call.
	StreamChunkTypeToolEnd StreamChunkType = "tool_end"
	// StreamChunkTypeEnd marks the end of a stream.
	StreamChunkTypeEnd StreamChunkType = "end"
	// StreamChunkTypeError carries a stream error.
	StreamChunkTypeError StreamChunkType = "error"
)

// StreamChunk is one event from a streaming completion.
type StreamChunk struct {
	Type StreamChunkType `json:"type"`

	// Text is the text delta for text chunks.
	Text string `json:"text,omitempty"`

	// ToolCallID, ToolName and ToolDelta describe tool call chunks.
	// ToolDelta is a fragment of the JSON argument object.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolDelta  string `json:"tool_delta,omitempty"`

	// StopReason is set on end chunks.
	StopReason StopReason `json:"stop_reason,omitempty"`

	// Err is set on error chunks.
	Err error `json:"-"`
}

// StreamAccumulator reassembles a full Response from a chunk sequence.
// It is not safe for concurrent use; a stream delivers chunks serially.
type StreamAccumulator struct {
	content    strings.Builder
	stopReason StopReason

	toolCalls []ToolCall
	toolArgs  map[string]*strings.Builder
	toolIndex map[string]int
}

// NewStreamAccumulator returns an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{
		toolArgs:  make(map[string]*strings.Builder),
		toolIndex: make(map[string]int),
	}
}

// Add folds one chunk into the accumulated state.
func (a *StreamAccumulator) Add(chunk *StreamChunk) {
	switch chunk.Type {
	case StreamChunkTypeText:
		a.content.WriteString(chunk.Text)
	case StreamChunkTypeToolStart:
		a.toolIndex[chunk.ToolCallID] = len(a.toolCalls)
		a.toolCalls = append(a.toolCalls, ToolCall{
			ID:   chunk.ToolCallID,
			Name: chunk.ToolName,
		})
		a.toolArgs[chunk.ToolCallID] = &strings.Builder{}
	case StreamChunkTypeToolDelta:
		if b, ok := a.toolArgs[chunk.ToolCallID]; ok {
			b.WriteString(chunk.ToolDelta)
		}
	case StreamChunkTypeToolEnd:
		if i, ok := a.toolIndex[chunk.ToolCallID]; ok {
			a.toolCalls[i].Arguments = a.toolArgs[chunk.ToolCallID].String()
		}
	case StreamChunkTypeEnd:
		a.stopReason = chunk.StopReason
	}
}

// Response materializes the accumulated completion.
func (a *StreamAccumulator) Response(model string) *Response {
	resp := &Response{
		Content:    a.content.String(),
		Model:      model,
		StopReason: a.stopReason,
	}
	if len(a.toolCalls) > 0 {
		resp.ToolCalls = a.toolCalls
		if resp.StopReason == "" || resp.StopReason == StopReasonEndTurn {
			resp.StopReason = StopReasonToolUse
		}
	}
	return resp
}

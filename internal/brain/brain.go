// Package brain wraps the LLM conversation for a single loop turn: system
// prompt, running conversation, tool schema catalogue, model tier,
// and sampling parameters in; a stream of (text-chunk | tool-call-intent |
// done | aborted | error) events plus final input/output token counts
// out. There is no separate final-answer event kind; a turn's answer is the
// text streamed before done. Streaming contract: text chunks arrive in order, a tool-call-intent
// is atomic, done is emitted exactly once, and cancelling ctx aborts the
// call and yields an Aborted event.
package brain

import (
	"context"
	"encoding/json"

	"github.com/nexus-core/agentruntime/internal/models"
)

// EventKind discriminates a single streamed Event.
type EventKind string

const (
	EventText     EventKind = "text"
	EventToolCall EventKind = "tool_call"
	EventDone     EventKind = "done"
	EventAborted  EventKind = "aborted"
	EventError    EventKind = "error"
)

// Event is one item in the stream Complete returns. Exactly one of Text,
// ToolCall, or Err is populated for EventText/EventToolCall/EventError;
// EventDone carries the final token counts and EventAborted carries
// ctx.Err().
type Event struct {
	Kind         EventKind
	Text         string
	ToolCall     *models.ToolCall
	InputTokens  int
	OutputTokens int
	Err          error
}

// Message is one turn in the conversation handed to the model: a role, its
// text content, and any tool calls or tool results it carries.
type Message struct {
	Role        string            `json:"role"` // "user", "assistant", "tool"
	Content     string            `json:"content,omitempty"`
	ToolCalls   []models.ToolCall `json:"toolCalls,omitempty"`
	ToolResults []models.ToolCall `json:"toolResults,omitempty"`
}

// ToolSchema is the subset of a ToolDefinition the Brain needs to build a
// tool-calling prompt: name, description, and JSON Schema parameters.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  []byte
}

// Request bundles everything needed for a single turn's completion.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolSchema
	Model       string
	MaxTokens   int
	Temperature float64
}

// Brain owns the LLM conversation for a loop turn.
type Brain interface {
	// Complete streams a turn's response. The returned channel is closed
	// after the terminal event (Done, Aborted, or Error) is sent.
	Complete(ctx context.Context, req Request) (<-chan Event, error)

	// Name identifies the backing provider, for logs and metrics labels.
	Name() string
}

// marshalArguments renders an arbitrary decoded tool-call-intent input as
// the json.RawMessage the rest of the runtime expects for ToolCall.Arguments.
func marshalArguments(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

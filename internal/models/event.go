package models

import "time"

// EventType enumerates the events an Agent Loop run emits: run
// lifecycle, streamed text, tool-call lifecycle, and approval decisions.
type EventType string

const (
	EventRunStarted      EventType = "run.started"
	EventTextDelta       EventType = "text.delta"
	EventToolCallStarted EventType = "tool_call.started"
	EventToolCallDone    EventType = "tool_call.completed"
	EventApprovalAsked   EventType = "approval.requested"
	EventApprovalDenied  EventType = "approval.denied"
	EventRunDone         EventType = "run.done"
	EventRunFailed       EventType = "run.failed"
	EventRunCancelled    EventType = "run.cancelled"
)

// AgentEvent is one totally-ordered, causally-consistent event within a
// session's run. Sequence is monotonic and gap-free per session.
type AgentEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Sequence  uint64    `json:"sequence"`
	Turn      int       `json:"turn"`
	Time      time.Time `json:"time"`

	Text         string     `json:"text,omitempty"`
	ToolCall     *ToolCall  `json:"toolCall,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Result       *RunResult `json:"result,omitempty"`
}

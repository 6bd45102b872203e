package models

import "time"

// SessionStatus is the lifecycle state of an in-flight agent run.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionComplete  SessionStatus = "complete"
	SessionCancelled SessionStatus = "cancelled"
	SessionError     SessionStatus = "error"
)

// Session is an in-flight agent run, owned by the Gateway (WS runs) or the
// Scheduler (scheduled runs). Status transitions are monotonic except that
// running->cancelled may occur from outside the owning goroutine.
type Session struct {
	SessionID string        `json:"sessionId"`
	ClientID  string        `json:"clientId,omitempty"`
	Task      string        `json:"task"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   *time.Time    `json:"endedAt,omitempty"`
}

// Terminal reports whether the session has reached a terminal status.
func (s *Session) Terminal() bool {
	switch s.Status {
	case SessionComplete, SessionCancelled, SessionError:
		return true
	default:
		return false
	}
}

// StoppedReason explains why an Agent Loop run ended.
type StoppedReason string

const (
	StoppedDone            StoppedReason = "Done"
	StoppedFailed          StoppedReason = "Failed"
	StoppedCancelled       StoppedReason = "Cancelled"
	StoppedBudgetExhausted StoppedReason = "BudgetExhausted"
	StoppedDepthExceeded   StoppedReason = "DepthExceeded"
)

// RunStats accumulates per-run token/turn/time counters, attached to
// terminal events and schedule history entries.
type RunStats struct {
	Turns            int           `json:"turns"`
	ToolCalls        int           `json:"toolCalls"`
	TotalInputTokens int           `json:"totalInputTokens"`
	TotalOutputTokens int          `json:"totalOutputTokens"`
	WallClock        time.Duration `json:"wallClock"`
}

// RunResult is the final outcome of an Agent Loop run.
type RunResult struct {
	SessionID     string        `json:"sessionId"`
	Success       bool          `json:"success"`
	Answer        string        `json:"answer"`
	StoppedReason StoppedReason `json:"stoppedReason"`
	Stats         RunStats      `json:"stats"`
}

package models

import "time"

// ModelTier selects the LLM capability/cost tier a sub-agent runs at.
type ModelTier string

const (
	TierFlash  ModelTier = "flash"
	TierSonnet ModelTier = "sonnet"
	TierOpus   ModelTier = "opus"
)

// SubagentState is the lifecycle state of a persisted sub-agent.
type SubagentState string

const (
	SubagentActive SubagentState = "active"
	SubagentPaused SubagentState = "paused"
)

// Subagent is a scoped, persistent agent configuration created explicitly
// (by a user or by a parent loop via the subagent_create tool) and
// persisted in the KV store until deleted explicitly.
type Subagent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Purpose    string        `json:"purpose"`
	Tools      []string      `json:"tools"`
	Skills     []string      `json:"skills,omitempty"`
	Tier       ModelTier     `json:"tier"`
	MaxTurns   int           `json:"maxTurns"`
	Schedule   *ScheduleRef  `json:"schedule,omitempty"`
	State      SubagentState `json:"state"`
	RunCount   int           `json:"runCount"`
	LastRunAt  *time.Time    `json:"lastRunAt,omitempty"`
	LastError  string        `json:"lastError,omitempty"`
}

// ScheduleRef is the inline cron reference carried on a Subagent record.
type ScheduleRef struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone"`
	Task     string `json:"task"`
}

// Schedule is a standalone recurring-job record tied to a sub-agent id.
type Schedule struct {
	ID         string        `json:"id"`
	SubagentID string        `json:"subagentId"`
	Cron       string        `json:"cron"`
	Timezone   string        `json:"timezone"`
	Task       string        `json:"task"`
	State      SubagentState `json:"state"`
	Next       time.Time     `json:"next"`
	LastRun    *time.Time    `json:"lastRun,omitempty"`
	LastResult string        `json:"lastResult,omitempty"`
	FailCount  int           `json:"failCount"`
}

// RunHistoryEntry records one scheduled fire outcome, capped at the most
// recent 20 per job by the scheduler.
type RunHistoryEntry struct {
	RanAt           time.Time `json:"ranAt"`
	Success         bool      `json:"success"`
	Turns           int       `json:"turns"`
	TotalTokens     int       `json:"totalTokens"`
	TruncatedAnswer string    `json:"truncatedAnswer"`
}

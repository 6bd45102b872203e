// Package approval decides whether a tool call needs human confirmation
// and, when it does, publishes a notification and awaits the answer
// through a correlation-id keyed KV entry.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-core/agentruntime/internal/kv"
	"github.com/nexus-core/agentruntime/internal/models"
)

// Policy is the approval gate in effect: none, destructive-only, or all.
type Policy string

const (
	PolicyNone        Policy = "none"
	PolicyDestructive Policy = "destructive"
	PolicyAll         Policy = "all"
)

// Config selects the approval policy; AllowedPaths configures the "write on
// paths outside an allow-list" carve-out for the destructive policy.
type Config struct {
	Policy          Policy
	AllowedPathArgs []string // argument keys whose value is checked against AllowedPaths
	AllowedPaths    []string
	PollInterval    time.Duration
	Timeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicyDestructive
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}

// Decision is the outcome of a Check.
type Decision struct {
	Required bool
	Approved bool
	Reason   string
}

// Manager gates tool calls behind the configured policy.
type Manager struct {
	cfg    Config
	kv     *kv.Client
	logger *slog.Logger
}

// New builds a Manager.
func New(cfg Config, kvClient *kv.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg.withDefaults(), kv: kvClient, logger: logger}
}

// Requires reports whether call needs confirmation under the current
// policy: destructive requires confirmation if the tool's scope includes
// destructive or shell, or write outside the path allow-list.
func (m *Manager) Requires(def models.ToolDefinition, call models.ToolCall) bool {
	switch m.cfg.Policy {
	case PolicyNone:
		return false
	case PolicyAll:
		return true
	default: // PolicyDestructive
		if def.HasScope(models.ScopeDestructive) || def.HasScope(models.ScopeShell) {
			return true
		}
		if def.HasScope(models.ScopeWrite) && !m.writesToAllowedPath(call) {
			return true
		}
		if def.RequiresApproval != nil && def.RequiresApproval(call.Arguments) {
			return true
		}
		return false
	}
}

func (m *Manager) writesToAllowedPath(call models.ToolCall) bool {
	if len(m.cfg.AllowedPaths) == 0 {
		return false
	}
	var args map[string]any
	if len(call.Arguments) == 0 {
		return false
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return false
	}
	for _, key := range m.cfg.AllowedPathArgs {
		v, ok := args[key].(string)
		if !ok {
			continue
		}
		for _, prefix := range m.cfg.AllowedPaths {
			if hasPrefix(v, prefix) {
				return true
			}
		}
	}
	return false
}

// notifier publishes an approval_request event; kept as a narrow interface
// so the Manager doesn't need the full notify package.
type notifier interface {
	Publish(ctx context.Context, channel, event string, data any)
}

// Await publishes an approval request and polls for the answer.
// A timeout is treated as denial. When the call is not approved,
// Decision.Reason holds a human-readable explanation suitable as an
// observation; an approval carries an empty Reason.
func (m *Manager) Await(ctx context.Context, notify notifier, sessionID string, call models.ToolCall) Decision {
	correlationID := uuid.NewString()
	key := "core:approval:" + correlationID

	notify.Publish(ctx, models.ChannelApproval, "approval_request", map[string]any{
		"correlationId": correlationID,
		"sessionId":     sessionID,
		"toolCallId":    call.CallID,
		"toolName":      call.Name,
		"arguments":     call.Arguments,
	})

	deadline := time.Now().Add(m.cfg.Timeout)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		answer, err := m.kv.Get(ctx, key)
		if err == nil && answer != "" {
			_ = m.kv.Del(ctx, key)
			if answer == "approve" {
				return Decision{Required: true, Approved: true}
			}
			return Decision{Required: true, Approved: false, Reason: fmt.Sprintf("user denied: %s", call.Name)}
		}

		if time.Now().After(deadline) {
			return Decision{Required: true, Approved: false, Reason: fmt.Sprintf("approval timed out after %s", m.cfg.Timeout)}
		}

		select {
		case <-ctx.Done():
			return Decision{Required: true, Approved: false, Reason: "cancelled while awaiting approval"}
		case <-ticker.C:
		}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

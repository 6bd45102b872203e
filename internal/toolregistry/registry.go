// Package toolregistry is the process-wide mapping from tool name to
// ToolDefinition. Registration is by name; re-registering replaces the
// executor atomically. Dispatch validates arguments against the tool's
// JSON schema (with a one-pass repair attempt), enforces a per-tool
// timeout, and always returns a structured ToolResult. Dispatch does not
// check approval policy; the Agent Loop consults the Approval Manager
// before it dispatches.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-core/agentruntime/internal/models"
)

// Registry is a thread-safe name->ToolDefinition map.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]models.ToolDefinition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]models.ToolDefinition)}
}

// Register adds or atomically replaces a tool by name.
func (r *Registry) Register(def models.ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool definition by name.
func (r *Registry) Get(name string) (models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// Snapshot returns every ToolDefinition currently registered, for exporting
// as a tool-calling catalogue to the Brain or the gateway's tools.list.
func (r *Registry) Snapshot() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDefinition, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

// FilterAllowed returns the subset of names that are registered, used by
// the Sub-agent Registry to build a scoped tool list.
func (r *Registry) FilterAllowed(names []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := r.tools[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

const defaultTimeout = 30 * time.Second

// Dispatch resolves, validates, and executes a tool call. It never returns
// a Go error for tool-level failures — those are folded into the returned
// ToolResult so the Agent Loop can always treat the outcome as an
// observation.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) models.ToolResult {
	def, ok := r.Get(call.Name)
	if !ok {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("tool not found: %s", call.Name)}
	}

	args, diff, err := ValidateAndRepair(def.Parameters, call.Arguments)
	if err != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v (%s)", err, diff)}
	}

	timeout := defaultTimeout
	if def.Timeout > 0 {
		timeout = time.Duration(def.Timeout) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, execErr := r.execute(callCtx, def, args)
	if callCtx.Err() != nil && execErr != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("tool timed out after %dms", timeout.Milliseconds())}
	}
	if execErr != nil {
		return models.ToolResult{Success: false, Error: execErr.Error()}
	}
	return capOutput(result)
}

// execute recovers executor panics and maps them to a failed ToolResult
// rather than letting a misbehaving tool take down the process.
func (r *Registry) execute(ctx context.Context, def models.ToolDefinition, args []byte) (result models.ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()

	type outcome struct {
		result models.ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		res, e := def.Executor(ctx, args)
		done <- outcome{res, e}
	}()

	select {
	case <-ctx.Done():
		return models.ToolResult{}, ctx.Err()
	case o := <-done:
		return o.result, o.err
	}
}

const maxOutputBytes = 10 << 10 // 10 KiB

func capOutput(result models.ToolResult) models.ToolResult {
	if len(result.Output) <= maxOutputBytes {
		return result
	}
	truncated, _ := json.Marshal(string(result.Output[:maxOutputBytes]) + "...(truncated)")
	result.Output = truncated
	return result
}

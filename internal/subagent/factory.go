package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nexus-core/agentruntime/internal/agentloop"
	"github.com/nexus-core/agentruntime/internal/approval"
	"github.com/nexus-core/agentruntime/internal/brain"
	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

// LoopFactory builds a configured Agent Loop for a persisted Subagent
// record. The tool registry is scoped to the sub-agent's declared tools,
// the system prompt is the runtime default prefixed to the sub-agent's
// purpose, and budgets derive from its maxTurns; the tier is not used.
type LoopFactory struct {
	Registry     *Registry
	Tools        *toolregistry.Registry
	Brain        brain.Brain
	Approval     *approval.Manager
	Memory       agentloop.MemorySource
	Sink         agentloop.Sink
	Logger       *slog.Logger
	DefaultSystemPrompt string
}

// Build constructs a Loop for the sub-agent record to run task, at the
// given session id and recursion depth.
func (f *LoopFactory) Build(sa models.Subagent, sessionID, task string, depth int) *agentloop.Loop {
	scoped := toolregistry.New()
	for _, name := range f.Tools.FilterAllowed(sa.Tools) {
		if def, ok := f.Tools.Get(name); ok {
			scoped.Register(def)
		}
	}

	schemas := make([]brain.ToolSchema, 0, len(sa.Tools))
	for _, def := range scoped.Snapshot() {
		schemas = append(schemas, brain.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}

	system := f.DefaultSystemPrompt
	if sa.Purpose != "" {
		system = system + "\n\n" + sa.Purpose
	}

	budgets := agentloop.DefaultBudgets()
	if sa.MaxTurns > 0 {
		budgets.MaxTurns = sa.MaxTurns
	}

	return agentloop.New(agentloop.Deps{
		Brain:    f.Brain,
		Tools:    scoped,
		Approval: f.Approval,
		Memory:   f.Memory,
		Spawner:  f,
		Sink:     f.Sink,
		Logger:   f.Logger,
	}, agentloop.Config{
		SessionID:    sessionID,
		Task:         task,
		SystemPrompt: system,
		Tools:        schemas,
		Budgets:      budgets,
		Depth:        depth,
	})
}

// spawnArgs is the expected shape of a subagent_run/delegate tool call's
// arguments.
type spawnArgs struct {
	SubagentID string `json:"subagentId"`
	Task       string `json:"task"`
}

// Spawn implements agentloop.Spawner: it resolves the target sub-agent,
// builds a nested Loop at depth+1 inheriting the KV client (via Registry
// and Tools, both KV-backed) but not the parent's scratchpad, and folds its
// final answer into the observation.
func (f *LoopFactory) Spawn(ctx context.Context, parent *agentloop.Loop, call models.ToolCall) models.ToolResult {
	var args spawnArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args.SubagentID == "" {
		return models.ToolResult{Success: false, Error: "subagent_run/delegate requires {subagentId, task}"}
	}

	sa, err := f.Registry.Get(ctx, args.SubagentID)
	if err != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("unknown sub-agent %q: %v", args.SubagentID, err)}
	}
	if sa.State == models.SubagentPaused {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("sub-agent %q is paused", args.SubagentID)}
	}

	task := args.Task
	if task == "" {
		task = call.Name
	}

	child := f.Build(sa, fmt.Sprintf("%s/%s", parent.SessionID(), args.SubagentID), task, parent.Depth()+1)
	result := child.Run(ctx)

	if !result.Success {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("sub-agent %q: %s", args.SubagentID, result.Answer)}
	}
	out, _ := json.Marshal(result.Answer)
	return models.ToolResult{Success: true, Output: out}
}

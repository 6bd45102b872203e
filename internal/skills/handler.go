package skills

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nexus-core/agentruntime/internal/agentloop"
	"github.com/nexus-core/agentruntime/internal/approval"
	"github.com/nexus-core/agentruntime/internal/brain"
	"github.com/nexus-core/agentruntime/internal/inbox"
	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

// Deps bundles the collaborators a bundle's handler needs to run, mirroring
// subagent.LoopFactory's construction style.
type Deps struct {
	Tools    *toolregistry.Registry
	Brain    brain.Brain
	Approval *approval.Manager
	Memory   agentloop.MemorySource
	Spawner  agentloop.Spawner
	Sink     agentloop.Sink
	Logger   *slog.Logger
}

// Router adapts a Loader's current bundle set to inbox.SkillRouter,
// building a fresh handler per dispatch so a hot-reloaded bundle takes
// effect on the very next task.
type Router struct {
	loader *Loader
	deps   Deps
}

// NewRouter builds a Router serving handlers for loader's current bundles.
func NewRouter(loader *Loader, deps Deps) *Router {
	return &Router{loader: loader, deps: deps}
}

func (r *Router) ByName(name string) (inbox.SkillHandler, bool) {
	b, ok := r.loader.ByName(name)
	if !ok {
		return nil, false
	}
	return &handler{bundle: b, deps: r.deps}, true
}

func (r *Router) MatchTrigger(message string) (inbox.SkillHandler, bool) {
	b, ok := r.loader.MatchTrigger(message)
	if !ok {
		return nil, false
	}
	return &handler{bundle: b, deps: r.deps}, true
}

// handler implements inbox.SkillHandler for one bundle.
type handler struct {
	bundle *Bundle
	deps   Deps
}

func (h *handler) Handle(ctx context.Context, task models.Task) (string, error) {
	switch h.bundle.Type {
	case TypeAutonomous:
		return h.runAutonomous(ctx, task)
	default:
		return h.runProcedural(ctx, task)
	}
}

// runAutonomous builds a full Agent Loop scoped to the bundle's declared
// tools, with the bundle content as the system-prompt preamble.
func (h *handler) runAutonomous(ctx context.Context, task models.Task) (string, error) {
	scoped := toolregistry.New()
	for _, name := range h.deps.Tools.FilterAllowed(h.bundle.Tools) {
		if def, ok := h.deps.Tools.Get(name); ok {
			scoped.Register(def)
		}
	}

	schemas := make([]brain.ToolSchema, 0, len(h.bundle.Tools))
	for _, def := range scoped.Snapshot() {
		schemas = append(schemas, brain.ToolSchema{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}

	budgets := agentloop.DefaultBudgets()
	if h.bundle.MaxTurns > 0 {
		budgets.MaxTurns = h.bundle.MaxTurns
	}
	if h.bundle.MaxTokens > 0 {
		budgets.MaxTokens = h.bundle.MaxTokens
	}
	if h.bundle.TimeoutMs > 0 {
		budgets.Timeout = msToDuration(h.bundle.TimeoutMs)
	}

	loop := agentloop.New(agentloop.Deps{
		Brain:    h.deps.Brain,
		Tools:    scoped,
		Approval: h.deps.Approval,
		Memory:   h.deps.Memory,
		Spawner:  h.deps.Spawner,
		Sink:     h.deps.Sink,
		Logger:   h.deps.Logger,
	}, agentloop.Config{
		SessionID:    "skill/" + h.bundle.Name + "/" + task.ID,
		UserID:       task.RequestID,
		Task:         task.Message,
		SystemPrompt: h.bundle.Content,
		Tools:        schemas,
		Budgets:      budgets,
	})

	result := loop.Run(ctx)
	return result.Answer, nil
}

// runProcedural issues a single Brain completion with no tool loop, per
// the procedural/autonomous split decided for bundles that want a fixed,
// single-pass response instead of iterative reasoning.
func (h *handler) runProcedural(ctx context.Context, task models.Task) (string, error) {
	events, err := h.deps.Brain.Complete(ctx, brain.Request{
		System:   h.bundle.Content,
		Messages: []brain.Message{{Role: "user", Content: task.Message}},
	})
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for ev := range events {
		switch ev.Kind {
		case brain.EventText:
			text.WriteString(ev.Text)
		case brain.EventError:
			return "", ev.Err
		case brain.EventAborted:
			return "", ctx.Err()
		}
	}
	return text.String(), nil
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

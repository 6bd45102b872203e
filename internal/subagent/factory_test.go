package subagent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexus-core/agentruntime/internal/agentloop"
	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

func echoDef(name string) models.ToolDefinition {
	return models.ToolDefinition{
		Name: name,
		Executor: func(ctx context.Context, args []byte) (models.ToolResult, error) {
			return models.ToolResult{Success: true}, nil
		},
	}
}

func TestBuildScopesToolRegistryToSubagentAllowList(t *testing.T) {
	full := toolregistry.New()
	full.Register(echoDef("search"))
	full.Register(echoDef("shell_exec"))

	f := &LoopFactory{
		Registry:            New(nil, full),
		Tools:               full,
		Sink:                agentloop.NopSink{},
		DefaultSystemPrompt: "you are the runtime",
	}

	sa := models.Subagent{ID: "researcher", Purpose: "find things", Tools: []string{"search"}, MaxTurns: 7}
	loop := f.Build(sa, "sess-1", "go research", 1)

	if loop.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", loop.Depth())
	}
	if loop.Budgets().MaxTurns != 7 {
		t.Fatalf("expected MaxTurns 7 from sub-agent config, got %d", loop.Budgets().MaxTurns)
	}
}

func TestSpawnRejectsMissingSubagentID(t *testing.T) {
	f := &LoopFactory{}
	call := models.ToolCall{Name: "subagent_run", Arguments: json.RawMessage(`{"task":"go"}`)}
	result := f.Spawn(context.Background(), nil, call)
	if result.Success {
		t.Fatal("expected failure when subagentId is missing")
	}
}

func TestSpawnRejectsMalformedArguments(t *testing.T) {
	f := &LoopFactory{}
	call := models.ToolCall{Name: "delegate", Arguments: json.RawMessage(`not json`)}
	result := f.Spawn(context.Background(), nil, call)
	if result.Success {
		t.Fatal("expected failure on malformed arguments")
	}
}

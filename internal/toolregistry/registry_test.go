package toolregistry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nexus-core/agentruntime/internal/models"
)

func echoTool() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "echo",
		Description: "echo back text",
		Parameters: []byte(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
		Executor: func(ctx context.Context, args []byte) (models.ToolResult, error) {
			var in struct {
				Text string `json:"text"`
			}
			_ = json.Unmarshal(args, &in)
			out, _ := json.Marshal(map[string]string{"out": in.Text})
			return models.ToolResult{Success: true, Output: out}, nil
		},
	}
}

func TestDispatchSuccess(t *testing.T) {
	r := New()
	r.Register(echoTool())

	res := r.Dispatch(context.Background(), models.ToolCall{
		Name:      "echo",
		Arguments: []byte(`{"text":"hello"}`),
	})
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if string(res.Output) != `{"out":"hello"}` {
		t.Fatalf("unexpected output: %s", res.Output)
	}
}

func TestDispatchToolNotFound(t *testing.T) {
	r := New()
	res := r.Dispatch(context.Background(), models.ToolCall{Name: "missing"})
	if res.Success {
		t.Fatal("expected failure")
	}
}

func TestDispatchRepairsUnknownKeysAndCoercesTypes(t *testing.T) {
	r := New()
	r.Register(models.ToolDefinition{
		Name: "sum",
		Parameters: []byte(`{
			"type": "object",
			"properties": {"n": {"type": "number"}},
			"required": ["n"]
		}`),
		Executor: func(ctx context.Context, args []byte) (models.ToolResult, error) {
			var in struct {
				N float64 `json:"n"`
			}
			_ = json.Unmarshal(args, &in)
			out, _ := json.Marshal(map[string]float64{"doubled": in.N * 2})
			return models.ToolResult{Success: true, Output: out}, nil
		},
	})

	res := r.Dispatch(context.Background(), models.ToolCall{
		Name:      "sum",
		Arguments: []byte(`{"n":"21","extra":"drop me"}`),
	})
	if !res.Success {
		t.Fatalf("expected repair to succeed, got error %q", res.Error)
	}
	if string(res.Output) != `{"doubled":42}` {
		t.Fatalf("unexpected output: %s", res.Output)
	}
}

func TestDispatchInvalidArgumentsAfterRepairFails(t *testing.T) {
	r := New()
	r.Register(models.ToolDefinition{
		Name:       "needs_string",
		Parameters: []byte(`{"type":"object","properties":{"x":{"type":"string"}},"required":["x"]}`),
		Executor: func(ctx context.Context, args []byte) (models.ToolResult, error) {
			return models.ToolResult{Success: true}, nil
		},
	})

	res := r.Dispatch(context.Background(), models.ToolCall{Name: "needs_string", Arguments: []byte(`{}`)})
	if res.Success {
		t.Fatal("expected invalid arguments failure")
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	r := New()
	r.Register(models.ToolDefinition{
		Name: "boom",
		Executor: func(ctx context.Context, args []byte) (models.ToolResult, error) {
			panic("kaboom")
		},
	})

	res := r.Dispatch(context.Background(), models.ToolCall{Name: "boom"})
	if res.Success {
		t.Fatal("expected panic to be recovered as failure")
	}
}

func TestDispatchTimesOut(t *testing.T) {
	r := New()
	r.Register(models.ToolDefinition{
		Name:    "slow",
		Timeout: 10,
		Executor: func(ctx context.Context, args []byte) (models.ToolResult, error) {
			select {
			case <-time.After(time.Second):
				return models.ToolResult{Success: true}, nil
			case <-ctx.Done():
				return models.ToolResult{}, ctx.Err()
			}
		},
	})

	res := r.Dispatch(context.Background(), models.ToolCall{Name: "slow"})
	if res.Success {
		t.Fatal("expected timeout failure")
	}
}

func TestRegisterReplacesExecutorAtomically(t *testing.T) {
	r := New()
	r.Register(models.ToolDefinition{
		Name: "versioned",
		Executor: func(ctx context.Context, args []byte) (models.ToolResult, error) {
			return models.ToolResult{Success: true, Output: []byte(`"v1"`)}, nil
		},
	})
	r.Register(models.ToolDefinition{
		Name: "versioned",
		Executor: func(ctx context.Context, args []byte) (models.ToolResult, error) {
			return models.ToolResult{Success: true, Output: []byte(`"v2"`)}, nil
		},
	})

	res := r.Dispatch(context.Background(), models.ToolCall{Name: "versioned"})
	if string(res.Output) != `"v2"` {
		t.Fatalf("expected replaced executor, got %s", res.Output)
	}
}

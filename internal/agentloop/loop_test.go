package agentloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nexus-core/agentruntime/internal/brain"
	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

// scriptedBrain plays back one []brain.Event slice per call, in order.
type scriptedBrain struct {
	turns [][]brain.Event
	calls int
}

func (s *scriptedBrain) Name() string { return "scripted" }

func (s *scriptedBrain) Complete(ctx context.Context, req brain.Request) (<-chan brain.Event, error) {
	idx := s.calls
	s.calls++
	ch := make(chan brain.Event, len(s.turns[idx]))
	for _, e := range s.turns[idx] {
		ch <- e
	}
	close(ch)
	return ch, nil
}

type collectSink struct {
	events []models.AgentEvent
}

func (c *collectSink) Emit(ctx context.Context, e models.AgentEvent) {
	c.events = append(c.events, e)
}

func echoRegistry() *toolregistry.Registry {
	r := toolregistry.New()
	r.Register(models.ToolDefinition{
		Name: "search",
		Scope: []models.ToolScope{models.ScopeRead},
		Executor: func(ctx context.Context, args []byte) (models.ToolResult, error) {
			return models.ToolResult{Success: true, Output: json.RawMessage(`{"found":true}`)}, nil
		},
	})
	return r
}

func TestRunTextOnlyReachesDone(t *testing.T) {
	b := &scriptedBrain{turns: [][]brain.Event{
		{{Kind: brain.EventText, Text: "the answer is 42"}, {Kind: brain.EventDone, InputTokens: 10, OutputTokens: 5}},
	}}
	sink := &collectSink{}

	l := New(Deps{Brain: b, Tools: echoRegistry(), Sink: sink}, Config{SessionID: "s1", Task: "what is the answer"})
	result := l.Run(context.Background())

	if !result.Success || result.StoppedReason != models.StoppedDone {
		t.Fatalf("expected Done, got %+v", result)
	}
	if result.Answer != "the answer is 42" {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
	if result.Stats.TotalInputTokens != 10 || result.Stats.TotalOutputTokens != 5 {
		t.Fatalf("unexpected token stats: %+v", result.Stats)
	}
}

func TestRunToolCallThenFinalAnswer(t *testing.T) {
	toolCall := &models.ToolCall{Name: "search", Arguments: json.RawMessage(`{}`)}
	b := &scriptedBrain{turns: [][]brain.Event{
		{{Kind: brain.EventToolCall, ToolCall: toolCall}},
		{{Kind: brain.EventText, Text: "done"}, {Kind: brain.EventDone}},
	}}
	sink := &collectSink{}

	l := New(Deps{Brain: b, Tools: echoRegistry(), Sink: sink}, Config{SessionID: "s1", Task: "search something"})
	result := l.Run(context.Background())

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Stats.ToolCalls != 1 {
		t.Fatalf("expected 1 tool call, got %d", result.Stats.ToolCalls)
	}

	var sawStart, sawDone bool
	for _, e := range sink.events {
		if e.Type == models.EventToolCallStarted {
			sawStart = true
		}
		if e.Type == models.EventToolCallDone {
			sawDone = true
		}
	}
	if !sawStart || !sawDone {
		t.Fatalf("expected tool call started/completed events, got %+v", sink.events)
	}
}

func TestRunStopsAtMaxTurns(t *testing.T) {
	toolCall := &models.ToolCall{Name: "search", Arguments: json.RawMessage(`{}`)}
	turn := []brain.Event{{Kind: brain.EventToolCall, ToolCall: toolCall}}
	turns := make([][]brain.Event, 5)
	for i := range turns {
		turns[i] = turn
	}
	b := &scriptedBrain{turns: turns}

	l := New(Deps{Brain: b, Tools: echoRegistry(), Sink: &collectSink{}}, Config{
		SessionID: "s1",
		Task:      "loop forever",
		Budgets:   Budgets{MaxTurns: 3},
	})
	result := l.Run(context.Background())

	if result.Success || result.StoppedReason != models.StoppedBudgetExhausted {
		t.Fatalf("expected BudgetExhausted, got %+v", result)
	}
	if result.Stats.Turns != 3 {
		t.Fatalf("expected exactly 3 turns consumed, got %d", result.Stats.Turns)
	}
}

func TestRunDepthExceededIsImmediateTerminal(t *testing.T) {
	l := New(Deps{Brain: &scriptedBrain{}, Tools: echoRegistry(), Sink: &collectSink{}}, Config{
		SessionID: "s1",
		Task:      "nested",
		Depth:     5,
		Budgets:   Budgets{MaxDepth: 3},
	})
	result := l.Run(context.Background())

	if result.StoppedReason != models.StoppedDepthExceeded {
		t.Fatalf("expected DepthExceeded, got %+v", result)
	}
	if l.Depth() != 5 {
		t.Fatalf("expected depth to be reported as configured, got %d", l.Depth())
	}
}

func TestRunCancellationYieldsCancelled(t *testing.T) {
	toolCall := &models.ToolCall{Name: "search", Arguments: json.RawMessage(`{}`)}
	turns := make([][]brain.Event, 100)
	for i := range turns {
		turns[i] = []brain.Event{{Kind: brain.EventToolCall, ToolCall: toolCall}}
	}
	b := &scriptedBrain{turns: turns}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := New(Deps{Brain: b, Tools: echoRegistry(), Sink: &collectSink{}}, Config{
		SessionID: "s1",
		Task:      "cancel me",
		Budgets:   Budgets{Timeout: time.Hour},
	})
	result := l.Run(ctx)

	if result.StoppedReason != models.StoppedCancelled {
		t.Fatalf("expected Cancelled, got %+v", result)
	}
}

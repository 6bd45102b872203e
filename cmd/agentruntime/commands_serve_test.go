package main

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nexus-core/agentruntime/internal/metrics"
	"github.com/nexus-core/agentruntime/internal/models"
)

func TestLoopEventSinkRecordsRunAndToolMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	sink := newLoopEventSink(nil, m)

	start := time.Now()
	sink.record(models.AgentEvent{Type: models.EventRunStarted, SessionID: "s1", Time: start})
	sink.record(models.AgentEvent{
		Type:      models.EventToolCallDone,
		SessionID: "s1",
		Time:      start.Add(2 * time.Second),
		ToolCall:  &models.ToolCall{Name: "echo", DurationMs: 25, Result: &models.ToolResult{Success: true}},
	})
	sink.record(models.AgentEvent{
		Type:      models.EventRunDone,
		SessionID: "s1",
		Time:      start.Add(3 * time.Second),
		Result: &models.RunResult{
			Success:       true,
			StoppedReason: models.StoppedDone,
			Stats:         models.RunStats{TotalInputTokens: 10, TotalOutputTokens: 5},
		},
	})

	if got := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("echo", "ok")); got != 1 {
		t.Fatalf("expected one ok tool call, got %v", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues(string(models.StoppedDone))); got != 1 {
		t.Fatalf("expected one run recorded as done, got %v", got)
	}
	if got := testutil.ToFloat64(m.BrainTokens.WithLabelValues("input")); got != 10 {
		t.Fatalf("expected 10 input tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.BrainTokens.WithLabelValues("output")); got != 5 {
		t.Fatalf("expected 5 output tokens, got %v", got)
	}
}

func TestServeRequiresConfig(t *testing.T) {
	cmd := buildServeCmd()
	if cmd.Name() != "serve" {
		t.Fatalf("unexpected command name %q", cmd.Name())
	}
	flag := cmd.Flags().Lookup("config")
	if flag == nil {
		t.Fatalf("expected --config flag")
	}
}

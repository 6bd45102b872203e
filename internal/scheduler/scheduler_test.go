package scheduler

import (
	"context"
	"strings"
	"testing"

	"github.com/nexus-core/agentruntime/internal/models"
)

func TestTruncateLeavesShortStringsUnchanged(t *testing.T) {
	if got := truncate("short answer", 200); got != "short answer" {
		t.Fatalf("unexpected truncation of short string: %q", got)
	}
}

func TestTruncateCapsLongStringsWithEllipsis(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := truncate(long, 200)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected a 200-char string plus ellipsis, got len=%d suffix check failed", len(got))
	}
}

func TestSummarizeDistinguishesSuccessFromFailure(t *testing.T) {
	ok := summarize(models.RunResult{Success: true, Answer: "done"})
	if !strings.HasPrefix(ok, "ok:") {
		t.Fatalf("expected ok-prefixed summary, got %q", ok)
	}
	failed := summarize(models.RunResult{Success: false, Answer: "budget exhausted"})
	if !strings.HasPrefix(failed, "failed:") {
		t.Fatalf("expected failed-prefixed summary, got %q", failed)
	}
}

func TestAgentRunnerFuncAdaptsPlainFunction(t *testing.T) {
	var gotSubagent, gotTask string
	var runner AgentRunner = AgentRunnerFunc(func(_ context.Context, subagentID, task string) models.RunResult {
		gotSubagent, gotTask = subagentID, task
		return models.RunResult{Success: true, Answer: "ack"}
	})

	result := runner.Run(context.Background(), "researcher", "go dig")
	if !result.Success || result.Answer != "ack" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotSubagent != "researcher" || gotTask != "go dig" {
		t.Fatalf("expected the adapted function to receive its arguments, got %q %q", gotSubagent, gotTask)
	}
}

package approval

import (
	"testing"

	"github.com/nexus-core/agentruntime/internal/models"
)

func TestRequiresPolicyNoneNeverRequires(t *testing.T) {
	m := New(Config{Policy: PolicyNone}, nil, nil)
	def := models.ToolDefinition{Scope: []models.ToolScope{models.ScopeDestructive}}
	if m.Requires(def, models.ToolCall{}) {
		t.Fatal("policy none must never require approval")
	}
}

func TestRequiresPolicyAllAlwaysRequires(t *testing.T) {
	m := New(Config{Policy: PolicyAll}, nil, nil)
	def := models.ToolDefinition{}
	if !m.Requires(def, models.ToolCall{}) {
		t.Fatal("policy all must always require approval")
	}
}

func TestRequiresDestructiveGatesShellAndDestructiveScopes(t *testing.T) {
	m := New(Config{Policy: PolicyDestructive}, nil, nil)

	shell := models.ToolDefinition{Scope: []models.ToolScope{models.ScopeShell}}
	if !m.Requires(shell, models.ToolCall{}) {
		t.Fatal("expected shell scope to require approval")
	}

	read := models.ToolDefinition{Scope: []models.ToolScope{models.ScopeRead}}
	if m.Requires(read, models.ToolCall{}) {
		t.Fatal("expected read-only scope to not require approval")
	}
}

func TestRequiresDestructiveAllowsWriteWithinAllowedPath(t *testing.T) {
	m := New(Config{
		Policy:          PolicyDestructive,
		AllowedPathArgs: []string{"path"},
		AllowedPaths:    []string{"/tmp/workspace/"},
	}, nil, nil)

	write := models.ToolDefinition{Scope: []models.ToolScope{models.ScopeWrite}}
	allowed := models.ToolCall{Arguments: []byte(`{"path":"/tmp/workspace/out.txt"}`)}
	if m.Requires(write, allowed) {
		t.Fatal("expected write within allow-listed path to not require approval")
	}

	denied := models.ToolCall{Arguments: []byte(`{"path":"/etc/passwd"}`)}
	if !m.Requires(write, denied) {
		t.Fatal("expected write outside allow-listed path to require approval")
	}
}

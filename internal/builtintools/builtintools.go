// Package builtintools registers the handful of general-purpose tools the
// runtime ships out of the box: an echo tool, an HTTP fetcher and a shell runner, tagged
// with the scopes the Approval Manager gates on. Domain-specific
// integrations (ticketing systems, sandboxed code execution, browser
// automation) are intentionally left to callers to register separately;
// each tool here is a thin executor closure plus a ToolDefinition.
package builtintools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

const maxBodyBytes = 64 * 1024

// Register adds every built-in tool to reg.
func Register(reg *toolregistry.Registry) {
	reg.Register(httpFetchTool())
	reg.Register(shellTool())
	reg.Register(echoTool())
}

func echoTool() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "echo",
		Description: "Echo the given text back, unchanged.",
		Parameters:  []byte(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Scope:       []models.ToolScope{models.ScopeRead},
		Executor: func(_ context.Context, arguments []byte) (models.ToolResult, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil {
				return models.ToolResult{}, err
			}
			out, _ := json.Marshal(map[string]string{"out": args.Text})
			return models.ToolResult{Success: true, Output: out}, nil
		},
	}
}

func httpFetchTool() models.ToolDefinition {
	client := &http.Client{Timeout: 10 * time.Second}
	return models.ToolDefinition{
		Name:        "http_fetch",
		Description: "Fetch a URL over HTTP(S) and return its body, truncated to 64KiB.",
		Parameters:  []byte(`{"type":"object","properties":{"url":{"type":"string"},"method":{"type":"string","default":"GET"}},"required":["url"]}`),
		Scope:       []models.ToolScope{models.ScopeRead, models.ScopeNetwork},
		Timeout:     15_000,
		Executor: func(ctx context.Context, arguments []byte) (models.ToolResult, error) {
			var args struct {
				URL    string `json:"url"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil {
				return models.ToolResult{}, err
			}
			if args.Method == "" {
				args.Method = http.MethodGet
			}
			req, err := http.NewRequestWithContext(ctx, args.Method, args.URL, nil)
			if err != nil {
				return models.ToolResult{Success: false, Error: err.Error()}, nil
			}
			resp, err := client.Do(req)
			if err != nil {
				return models.ToolResult{Success: false, Error: err.Error()}, nil
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			out, _ := json.Marshal(map[string]any{
				"status": resp.StatusCode,
				"body":   string(body),
			})
			return models.ToolResult{Success: resp.StatusCode < 400, Output: out}, nil
		},
	}
}

// shellTool runs a command through /bin/sh -c. It is tagged destructive and
// shell so the default "destructive" approval policy always gates it;
// operators that trust their sandbox can lower that in config.
func shellTool() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "shell",
		Description: "Run a shell command and return its combined output.",
		Parameters:  []byte(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`),
		Scope:       []models.ToolScope{models.ScopeShell, models.ScopeDestructive},
		Timeout:     30_000,
		Executor: func(ctx context.Context, arguments []byte) (models.ToolResult, error) {
			var args struct {
				Command string `json:"command"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil {
				return models.ToolResult{}, err
			}
			if strings.TrimSpace(args.Command) == "" {
				return models.ToolResult{Success: false, Error: "command must not be empty"}, nil
			}
			cmd := exec.CommandContext(ctx, "/bin/sh", "-c", args.Command)
			output, err := cmd.CombinedOutput()
			out, _ := json.Marshal(map[string]string{"output": string(output)})
			if err != nil {
				return models.ToolResult{Success: false, Output: out, Error: fmt.Sprintf("exit error: %v", err)}, nil
			}
			return models.ToolResult{Success: true, Output: out}, nil
		},
	}
}

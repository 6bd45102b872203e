// Command agentruntime is the runtime's CLI: it serves the full runtime
// (gateway, scheduler, inbox dispatcher, skill hot-reload) and offers
// operational subcommands over the same KV-backed state, one
// build<Name>Cmd per commands_*.go file.
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is populated by ldflags during release builds.
var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("agentruntime: command failed", "error", err)
		code := 1
		var exitErr exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		os.Exit(code)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentruntime",
		Short:        "Agent runtime: ReAct loop, tool registry, gateway, scheduler",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	root.AddCommand(buildDoctorCmd())
	root.AddCommand(buildStatusCmd())
	root.AddCommand(buildScheduleCmd())
	root.AddCommand(buildAgentsCmd())
	root.AddCommand(buildSkillsCmd())
	return root
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

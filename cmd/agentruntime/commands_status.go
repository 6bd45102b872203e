// commands_status.go implements "status", a lighter-weight sibling of
// "doctor" that reports the Scheduler's job table and Sub-agent Registry
// size instead of probing upstream health.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexus-core/agentruntime/internal/builtintools"
	"github.com/nexus-core/agentruntime/internal/config"
	"github.com/nexus-core/agentruntime/internal/kv"
	"github.com/nexus-core/agentruntime/internal/logging"
	"github.com/nexus-core/agentruntime/internal/scheduler"
	"github.com/nexus-core/agentruntime/internal/subagent"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize registered sub-agents and scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError{code: 1, err: err}
	}
	logger := logging.New(logging.Options{Level: slog.LevelWarn, Writer: os.Stderr, JSON: false})
	kvClient := kv.New(kv.Options{Addr: cfg.KVURL, Logger: logger})
	defer kvClient.Close()
	out := cmd.OutOrStdout()

	tools := toolregistry.New()
	builtintools.Register(tools)
	agents, err := subagent.New(kvClient, tools).List(ctx)
	if err != nil {
		return fmt.Errorf("agentruntime: list sub-agents: %w", err)
	}
	fmt.Fprintf(out, "sub-agents: %d\n", len(agents))
	for _, a := range agents {
		fmt.Fprintf(out, "  - %s (%s) status=%s\n", a.ID, a.Purpose, a.Status)
	}

	sched := scheduler.New(kvClient, nil, nil, logger, scheduler.Config{})
	if err := sched.Load(ctx); err != nil {
		return fmt.Errorf("agentruntime: load schedules: %w", err)
	}
	jobs := sched.Jobs()
	fmt.Fprintf(out, "schedules: %d\n", len(jobs))
	for _, j := range jobs {
		fmt.Fprintf(out, "  - %s (%s) state=%s next=%s\n", j.ID, j.Cron, j.State, j.Next.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

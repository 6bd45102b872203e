// commands_schedule.go implements "schedule list/pause/resume" over the
// Scheduler's KV-backed job table.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexus-core/agentruntime/internal/config"
	"github.com/nexus-core/agentruntime/internal/kv"
	"github.com/nexus-core/agentruntime/internal/logging"
	"github.com/nexus-core/agentruntime/internal/scheduler"
)

func buildScheduleCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and control scheduled sub-agent jobs",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScheduler(cmd, configPath, func(ctx context.Context, sched *scheduler.Scheduler) error {
				out := cmd.OutOrStdout()
				for _, j := range sched.Jobs() {
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", j.ID, j.SubagentID, j.Cron, j.State)
				}
				return nil
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, configPath, func(ctx context.Context, sched *scheduler.Scheduler) error {
				return sched.Pause(ctx, args[0])
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, configPath, func(ctx context.Context, sched *scheduler.Scheduler) error {
				return sched.Resume(ctx, args[0])
			})
		},
	})
	return root
}

// withScheduler loads a Scheduler from the configured KV store and runs fn
// against it, without starting its cron loop — these commands only touch
// the persisted job table.
func withScheduler(cmd *cobra.Command, configPath string, fn func(ctx context.Context, sched *scheduler.Scheduler) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError{code: 1, err: err}
	}
	logger := logging.New(logging.Options{Level: slog.LevelWarn, Writer: os.Stderr, JSON: false})
	kvClient := kv.New(kv.Options{Addr: cfg.KVURL, Logger: logger})
	defer kvClient.Close()

	sched := scheduler.New(kvClient, nil, nil, logger, scheduler.Config{})
	ctx := cmd.Context()
	if err := sched.Load(ctx); err != nil {
		return fmt.Errorf("agentruntime: load schedules: %w", err)
	}
	return fn(ctx, sched)
}

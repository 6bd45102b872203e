// commands_agents.go implements "agents create/list/get/delete" as a CRUD
// command group over the Sub-agent Registry.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexus-core/agentruntime/internal/builtintools"
	"github.com/nexus-core/agentruntime/internal/config"
	"github.com/nexus-core/agentruntime/internal/kv"
	"github.com/nexus-core/agentruntime/internal/logging"
	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/subagent"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

func buildAgentsCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "agents",
		Short: "Manage persisted sub-agent definitions",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	var id, name, purpose string
	var tools []string
	var maxTurns int
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new sub-agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAgentRegistry(cmd, configPath, func(ctx context.Context, reg *subagent.Registry) error {
				created, err := reg.Create(ctx, models.Subagent{
					ID:       id,
					Name:     name,
					Purpose:  purpose,
					Tools:    tools,
					MaxTurns: maxTurns,
					State:    models.SubagentActive,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, created)
			})
		},
	}
	createCmd.Flags().StringVar(&id, "id", "", "Sub-agent id, [a-z0-9-]{1,64}")
	createCmd.Flags().StringVar(&name, "name", "", "Display name")
	createCmd.Flags().StringVar(&purpose, "purpose", "", "Purpose description")
	createCmd.Flags().StringSliceVar(&tools, "tools", nil, "Allow-listed tool names")
	createCmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Per-run turn budget override (0 uses the runtime default)")
	root.AddCommand(createCmd)

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered sub-agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAgentRegistry(cmd, configPath, func(ctx context.Context, reg *subagent.Registry) error {
				summaries, err := reg.List(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, s := range summaries {
					fmt.Fprintf(out, "%s\t%s\t%s\n", s.ID, s.Status, s.Purpose)
				}
				return nil
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one sub-agent's full definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgentRegistry(cmd, configPath, func(ctx context.Context, reg *subagent.Registry) error {
				sa, err := reg.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, sa)
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a sub-agent definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgentRegistry(cmd, configPath, func(ctx context.Context, reg *subagent.Registry) error {
				return reg.Delete(ctx, args[0])
			})
		},
	})
	return root
}

func withAgentRegistry(cmd *cobra.Command, configPath string, fn func(ctx context.Context, reg *subagent.Registry) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError{code: 1, err: err}
	}
	logger := logging.New(logging.Options{Level: slog.LevelWarn, Writer: os.Stderr, JSON: false})
	kvClient := kv.New(kv.Options{Addr: cfg.KVURL, Logger: logger})
	defer kvClient.Close()

	tools := toolregistry.New()
	builtintools.Register(tools)
	reg := subagent.New(kvClient, tools)
	return fn(cmd.Context(), reg)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

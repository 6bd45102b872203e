// commands_skills.go implements "skills list/reload" over the Skill
// Loader's on-disk bundle set.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexus-core/agentruntime/internal/builtintools"
	"github.com/nexus-core/agentruntime/internal/config"
	"github.com/nexus-core/agentruntime/internal/logging"
	"github.com/nexus-core/agentruntime/internal/skills"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

func buildSkillsCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "skills",
		Short: "Inspect and reload the skill bundle directory",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded skill bundles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, err := loadSkills(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range loader.Snapshot() {
				fmt.Fprintf(out, "%s\ttype=%s\ttriggers=%v\n", b.Name, b.Type, b.Triggers)
			}
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "Force a synchronous reload of the skill directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := loadSkills(configPath)
			return err
		},
	})
	return root
}

func loadSkills(configPath string) (*skills.Loader, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, exitError{code: 1, err: err}
	}
	logger := logging.New(logging.Options{Level: slog.LevelWarn, Writer: os.Stderr, JSON: false})
	tools := toolregistry.New()
	builtintools.Register(tools)

	loader := skills.NewLoader(cfg.SkillsDir, func(name string) bool {
		_, ok := tools.Get(name)
		return ok
	}, logger)
	if err := loader.Reload(); err != nil {
		return nil, fmt.Errorf("agentruntime: reload skills: %w", err)
	}
	return loader, nil
}

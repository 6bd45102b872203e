// commands_doctor.go implements "doctor": a read-only health probe over
// the same upstreams serve wires, run without starting the gateway or
// scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-core/agentruntime/internal/circuit"
	"github.com/nexus-core/agentruntime/internal/config"
	"github.com/nexus-core/agentruntime/internal/kv"
	"github.com/nexus-core/agentruntime/internal/logging"
	"github.com/nexus-core/agentruntime/internal/memoryclient"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Probe KV, Memory Service, and LLM circuit state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError{code: 1, err: err}
	}
	logger := logging.New(logging.Options{Level: slog.LevelWarn, Writer: os.Stderr, JSON: false})
	breakers := circuit.NewRegistry(circuit.Config{}, logger)
	out := cmd.OutOrStdout()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	kvClient := kv.New(kv.Options{Addr: cfg.KVURL, Logger: logger, Breaker: breakers.Get("kv")})
	defer kvClient.Close()
	if _, err := kvClient.Get(probeCtx, "core:config:apikey"); err != nil {
		fmt.Fprintf(out, "kv: unreachable (%s): %v\n", cfg.KVURL, err)
	} else {
		fmt.Fprintf(out, "kv: ok (%s)\n", cfg.KVURL)
	}

	memory := memoryclient.New(memoryclient.Config{
		BaseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.MemoryPort),
		APIKey:  cfg.InternalKey,
		Breaker: breakers.Get("memory"),
	})
	if _, err := memory.Health(probeCtx); err != nil {
		fmt.Fprintf(out, "memory: unreachable (port %d): %v\n", cfg.MemoryPort, err)
	} else {
		fmt.Fprintf(out, "memory: ok (port %d)\n", cfg.MemoryPort)
	}

	fmt.Fprintf(out, "llm circuit: %s\n", breakers.Get("llm").State())
	return nil
}

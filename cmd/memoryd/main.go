// Command memoryd runs the Memory Service HTTP API: embedding-backed
// add/search with cosine-similarity dedup, session links, and stats, over
// a local SQLite store. It is an external collaborator to the Agent Loop
// (consumed through internal/memoryclient) but ships as its own process so
// it can be deployed and scaled independently.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nexus-core/agentruntime/internal/auth"
	"github.com/nexus-core/agentruntime/internal/config"
	"github.com/nexus-core/agentruntime/internal/logging"
	"github.com/nexus-core/agentruntime/internal/memoryserver"
	"github.com/nexus-core/agentruntime/internal/metrics"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("memoryd: command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "memoryd",
		Short:        "Memory Service: embedding-backed recall with dedup and decay ranking",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath, dbPath string
	var embedDim int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Memory Service HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, dbPath, embedDim)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&dbPath, "db", "./memory.db", "Path to the SQLite database file")
	cmd.Flags().IntVar(&embedDim, "embed-dim", 256, "Hash-embedding dimension")
	return cmd
}

func runServe(ctx context.Context, configPath, dbPath string, embedDim int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("memoryd: config: %w", err)
	}

	logger := logging.New(logging.Options{Level: slog.LevelInfo, Writer: os.Stderr, JSON: true})
	slog.SetDefault(logger)

	store, err := memoryserver.OpenStore(dbPath)
	if err != nil {
		return fmt.Errorf("memoryd: open store: %w", err)
	}
	defer store.Close()

	svc := memoryserver.NewService(store, memoryserver.NewHashEmbedder(embedDim))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	srv := memoryserver.NewServer(memoryserver.Config{
		Addr:            fmt.Sprintf(":%d", cfg.MemoryPort),
		Verifier:        auth.NewVerifier(cfg.InternalKey),
		Logger:          logger,
		Metrics:         m,
		MetricsRegistry: reg,
	}, svc)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("memoryd: start: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("memoryd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

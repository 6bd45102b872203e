// commands_serve.go wires the Circuit Breaker, KV client, Brain, Tool
// Registry, Approval Manager, Memory Service client, Sub-agent Registry,
// Scheduler, Skill Loader, Inbox Dispatcher, and JSON-RPC WebSocket Gateway
// together and serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nexus-core/agentruntime/internal/agentloop"
	"github.com/nexus-core/agentruntime/internal/approval"
	"github.com/nexus-core/agentruntime/internal/auth"
	"github.com/nexus-core/agentruntime/internal/brain"
	"github.com/nexus-core/agentruntime/internal/builtintools"
	"github.com/nexus-core/agentruntime/internal/circuit"
	"github.com/nexus-core/agentruntime/internal/config"
	"github.com/nexus-core/agentruntime/internal/gateway"
	"github.com/nexus-core/agentruntime/internal/inbox"
	"github.com/nexus-core/agentruntime/internal/kv"
	"github.com/nexus-core/agentruntime/internal/logging"
	"github.com/nexus-core/agentruntime/internal/memoryclient"
	"github.com/nexus-core/agentruntime/internal/metrics"
	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/notify"
	"github.com/nexus-core/agentruntime/internal/scheduler"
	"github.com/nexus-core/agentruntime/internal/skills"
	"github.com/nexus-core/agentruntime/internal/subagent"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the runtime: gateway, scheduler, inbox dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError{code: 1, err: err}
	}

	logger := logging.New(logging.Options{Level: slog.LevelInfo, Writer: os.Stderr, JSON: true})
	slog.SetDefault(logger)

	breakers := circuit.NewRegistry(circuit.Config{}, logger)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	kvClient := kv.New(kv.Options{
		Addr:    cfg.KVURL,
		Logger:  logger,
		Breaker: breakers.Get("kv"),
	})
	defer kvClient.Close()

	startCtx, cancelStart := context.WithTimeout(ctx, 30*time.Second)
	if _, err := kvClient.Get(startCtx, "core:config:apikey"); err != nil {
		logger.Warn("agentruntime: KV not reachable at startup, continuing degraded", "error", err)
	}
	cancelStart()

	llmBrain, err := brain.NewAnthropicBrain(brain.AnthropicConfig{
		Credential:   brain.StaticCredential(cfg.LLMAPIKey),
		DefaultModel: cfg.DefaultModel,
		Logger:       logger,
		Breaker:      breakers.Get("llm"),
	})
	if err != nil {
		return exitError{code: 2, err: fmt.Errorf("agentruntime: brain init: %w", err)}
	}
	defer llmBrain.Close()

	tools := toolregistry.New()
	builtintools.Register(tools)

	approvalPolicy := approval.Policy(cfg.ApprovalPolicy)
	approvalMgr := approval.New(approval.Config{Policy: approvalPolicy}, kvClient, logger)

	memory := memoryclient.New(memoryclient.Config{
		BaseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.MemoryPort),
		APIKey:  cfg.InternalKey,
		Breaker: breakers.Get("memory"),
	})

	bus := notify.New(kvClient, logger)

	subagents := subagent.New(kvClient, tools)

	skillLoader := skills.NewLoader(cfg.SkillsDir, func(name string) bool {
		_, ok := tools.Get(name)
		return ok
	}, logger)
	if err := skillLoader.Reload(); err != nil {
		logger.Warn("agentruntime: initial skill load failed", "error", err)
	}
	if err := skillLoader.Watch(ctx, 0); err != nil {
		logger.Warn("agentruntime: skill hot-reload disabled", "error", err)
	}

	sink := newLoopEventSink(bus, m)

	factory := &subagent.LoopFactory{
		Registry:            subagents,
		Tools:               tools,
		Brain:               llmBrain,
		Approval:            approvalMgr,
		Memory:              memory,
		Sink:                sink,
		Logger:              logger,
		DefaultSystemPrompt: cfg.DefaultPrompt,
	}

	skillRouter := skills.NewRouter(skillLoader, skills.Deps{
		Tools:    tools,
		Brain:    llmBrain,
		Approval: approvalMgr,
		Memory:   memory,
		Spawner:  factory,
		Sink:     sink,
		Logger:   logger,
	})

	sched := scheduler.New(kvClient, scheduler.AgentRunnerFunc(func(ctx context.Context, subagentID, task string) models.RunResult {
		sa, err := subagents.Get(ctx, subagentID)
		if err != nil {
			m.ScheduleFires.WithLabelValues(subagentID, "lookup_failed").Inc()
			return models.RunResult{Success: false, Answer: err.Error(), StoppedReason: models.StoppedFailed}
		}
		loop := factory.Build(sa, fmt.Sprintf("schedule/%s", subagentID), task, 0)
		result := loop.Run(ctx)
		outcome := "failed"
		if result.Success {
			outcome = "success"
		}
		m.ScheduleFires.WithLabelValues(subagentID, outcome).Inc()
		return result
	}), bus, logger, scheduler.Config{})
	if err := sched.Load(ctx); err != nil {
		logger.Warn("agentruntime: schedule load failed", "error", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	dispatcher := inbox.New(kvClient, topLevelRunner{
		tools:    tools,
		brain:    llmBrain,
		approval: approvalMgr,
		memory:   memory,
		spawner:  factory,
		sink:     sink,
		logger:   logger,
		system:   cfg.DefaultPrompt,
	}, skillRouter, bus, logger, inbox.Config{})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	gw := gateway.NewServer(gateway.Deps{
		Tools:                tools,
		Brain:                llmBrain,
		Approval:             approvalMgr,
		Memory:               memory,
		Spawner:              factory,
		Bus:                  bus,
		APIKeyVerifier:       authVerifier(cfg),
		JWTVerifier:          jwtVerifier(cfg),
		DefaultSystemPrompt:  cfg.DefaultPrompt,
		MaxSessionsPerClient: cfg.MaxSessionsPerClient,
		Logger:               logger,
	})
	go gw.Run(ctx)

	go pollCircuitMetrics(ctx, m, breakers, []string{"kv", "llm", "memory"})
	go pollGatewaySessions(ctx, m, gw)

	mux := http.NewServeMux()
	mux.Handle("/ws/agent", gw)
	mux.Handle("/metrics", metrics.Handler(reg))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agentruntime: gateway listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("agentruntime: shutting down")
	case err := <-errCh:
		return exitError{code: 2, err: err}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// loopEventSink adapts the Notification Bus to agentloop.Sink, publishing
// every AgentEvent on its session's dedicated channel, and derives
// run/tool-call/token metrics from the same event stream since every one
// of those outcomes already passes through here.
type loopEventSink struct {
	bus *notify.Bus
	m   *metrics.Metrics

	mu        sync.Mutex
	runStarts map[string]time.Time
}

func newLoopEventSink(bus *notify.Bus, m *metrics.Metrics) *loopEventSink {
	return &loopEventSink{
		bus:       bus,
		m:         m,
		runStarts: make(map[string]time.Time),
	}
}

func (s *loopEventSink) Emit(ctx context.Context, e models.AgentEvent) {
	s.bus.PublishAgent(ctx, e.SessionID, string(e.Type), e)
	s.record(e)
}

func (s *loopEventSink) record(e models.AgentEvent) {
	if s.m == nil {
		return
	}
	switch e.Type {
	case models.EventRunStarted:
		s.mu.Lock()
		s.runStarts[e.SessionID] = e.Time
		s.mu.Unlock()
	case models.EventToolCallDone:
		if e.ToolCall == nil {
			return
		}
		status := "ok"
		if e.ToolCall.Result != nil && e.ToolCall.Result.Error != "" {
			status = "error"
		}
		s.m.ToolCallsTotal.WithLabelValues(e.ToolCall.Name, status).Inc()
		if e.ToolCall.DurationMs > 0 {
			s.m.ToolDuration.WithLabelValues(e.ToolCall.Name).Observe(float64(e.ToolCall.DurationMs) / 1000)
		}
	case models.EventRunDone, models.EventRunFailed, models.EventRunCancelled:
		s.mu.Lock()
		started, ok := s.runStarts[e.SessionID]
		delete(s.runStarts, e.SessionID)
		s.mu.Unlock()

		reason := "unknown"
		success := "false"
		if e.Result != nil {
			reason = string(e.Result.StoppedReason)
			if e.Result.Success {
				success = "true"
			}
			s.m.BrainTokens.WithLabelValues("input").Add(float64(e.Result.Stats.TotalInputTokens))
			s.m.BrainTokens.WithLabelValues("output").Add(float64(e.Result.Stats.TotalOutputTokens))
		}
		s.m.RunsTotal.WithLabelValues(reason).Inc()
		if ok {
			s.m.RunDuration.WithLabelValues(success).Observe(e.Time.Sub(started).Seconds())
		}
	}
}

// topLevelRunner builds a full, unscoped Agent Loop for inbox tasks with no
// matching skill, mirroring the top-level construction in
// internal/gateway/session.go's runAgent but sourced from a models.Task
// instead of a JSON-RPC params struct.
type topLevelRunner struct {
	tools    *toolregistry.Registry
	brain    brain.Brain
	approval *approval.Manager
	memory   agentloop.MemorySource
	spawner  agentloop.Spawner
	sink     agentloop.Sink
	logger   *slog.Logger
	system   string
}

func (r topLevelRunner) Run(ctx context.Context, task models.Task) models.RunResult {
	schemas := make([]brain.ToolSchema, 0, len(r.tools.Snapshot()))
	for _, def := range r.tools.Snapshot() {
		schemas = append(schemas, brain.ToolSchema{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}

	sessionID := task.ID
	if sessionID == "" {
		sessionID = task.RequestID
	}

	loop := agentloop.New(agentloop.Deps{
		Brain:    r.brain,
		Tools:    r.tools,
		Approval: r.approval,
		Memory:   r.memory,
		Spawner:  r.spawner,
		Sink:     r.sink,
		Logger:   r.logger,
	}, agentloop.Config{
		SessionID:    sessionID,
		Task:         task.Message,
		SystemPrompt: r.system,
		Tools:        schemas,
		Budgets:      agentloop.DefaultBudgets(),
	})
	return loop.Run(ctx)
}

// pollCircuitMetrics periodically snapshots each named breaker's state into
// the CircuitState gauge; the breaker itself only tracks state transitions
// internally, so polling is how that state surfaces to Prometheus.
func pollCircuitMetrics(ctx context.Context, m *metrics.Metrics, breakers *circuit.Registry, names []string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range names {
				var value float64
				switch breakers.Get(name).State() {
				case circuit.HalfOpen:
					value = 1
				case circuit.Open:
					value = 2
				}
				m.CircuitState.WithLabelValues(name).Set(value)
			}
		}
	}
}

// pollGatewaySessions mirrors pollCircuitMetrics for the Gateway's
// running-session count, which likewise lives behind a mutex rather than a
// collector the gateway package owns itself.
func pollGatewaySessions(ctx context.Context, m *metrics.Metrics, gw *gateway.Server) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.GatewaySessions.Set(float64(gw.ActiveSessions()))
		}
	}
}

func authVerifier(cfg config.Config) *auth.Verifier {
	return auth.NewVerifier(cfg.InternalKey)
}

func jwtVerifier(cfg config.Config) *auth.JWTVerifier {
	return auth.NewJWTVerifier(cfg.JWTSecret)
}

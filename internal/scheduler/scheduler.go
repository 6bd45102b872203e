// Package scheduler is the Scheduler & Job Runner: persistent repeatable
// jobs tied to sub-agent ids, fired on cron schedules with per-job
// advisory locking, retry/backoff, bounded run history, and an
// alternative "loop mode" for long-running monitoring sub-agents. The
// scheduler is configured with a Config struct, driven by a tick loop with
// Start/Stop, and exposed through RunOnce for tests; every job is a
// KV-persisted Schedule record rather than a config-file entry.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nexus-core/agentruntime/internal/backoff"
	"github.com/nexus-core/agentruntime/internal/kv"
	"github.com/nexus-core/agentruntime/internal/models"
)

const (
	indexKey          = "core:schedule:index"
	defaultMaxFailures = 5
	maxHistory         = 20
)

func recordKey(id string) string { return fmt.Sprintf("core:schedule:%s", id) }
func lockKey(id string) string   { return fmt.Sprintf("core:schedule:lock:%s", id) }
func historyKey(id string) string { return fmt.Sprintf("core:schedule:history:%s", id) }

// AgentRunner invokes the Agent Loop for a sub-agent's scheduled task.
type AgentRunner interface {
	Run(ctx context.Context, subagentID, task string) models.RunResult
}

// AgentRunnerFunc adapts a function to an AgentRunner.
type AgentRunnerFunc func(ctx context.Context, subagentID, task string) models.RunResult

// Run implements AgentRunner.
func (f AgentRunnerFunc) Run(ctx context.Context, subagentID, task string) models.RunResult {
	return f(ctx, subagentID, task)
}

// Notifier is the narrow publish surface used for schedule.paused events.
type Notifier interface {
	PublishSchedule(ctx context.Context, event string, data any)
}

// Config tunes the scheduler's operational defaults.
type Config struct {
	MaxFailures  int
	TickInterval time.Duration
	LockTTL      time.Duration // lock lease; default timeoutMs+1min equivalent
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 11 * time.Minute
	}
	return c
}

// Scheduler runs Schedule records from the KV store.
type Scheduler struct {
	kv       *kv.Client
	runner   AgentRunner
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	mu      sync.Mutex
	jobs    map[string]*models.Schedule
	started bool
	wg      sync.WaitGroup
}

// New builds a Scheduler. Call Load to populate jobs from storage before
// Start.
func New(kvClient *kv.Client, runner AgentRunner, notifier Notifier, logger *slog.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		kv:       kvClient,
		runner:   runner,
		notifier: notifier,
		logger:   logger.With("component", "scheduler"),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		jobs:     make(map[string]*models.Schedule),
	}
}

// Load rebuilds the in-memory job set from storage; the scheduler carries
// no durable state of its own, so this runs once on startup.
func (s *Scheduler) Load(ctx context.Context) error {
	ids, err := s.kv.SMembers(ctx, indexKey)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		sched, err := s.get(ctx, id)
		if err != nil {
			s.logger.Warn("scheduler: dropping unreadable job on load", "id", id, "error", err)
			continue
		}
		s.jobs[id] = sched
	}
	return nil
}

// Create persists a new Schedule and adds it to the in-memory set.
func (s *Scheduler) Create(ctx context.Context, sched models.Schedule) error {
	if sched.State == "" {
		sched.State = models.SubagentActive
	}
	n, err := next(sched.Cron, sched.Timezone, s.now())
	if err != nil {
		return err
	}
	sched.Next = n
	if err := s.put(ctx, sched); err != nil {
		return err
	}
	if err := s.kv.SAdd(ctx, indexKey, sched.ID); err != nil {
		return err
	}
	s.mu.Lock()
	cp := sched
	s.jobs[sched.ID] = &cp
	s.mu.Unlock()
	return nil
}

// Delete removes a schedule.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	if err := s.kv.Del(ctx, recordKey(id), historyKey(id)); err != nil {
		return err
	}
	return s.kv.SRem(ctx, indexKey, id)
}

// Pause and Resume flip a job's state without removing it.
func (s *Scheduler) Pause(ctx context.Context, id string) error  { return s.setState(ctx, id, models.SubagentPaused) }
func (s *Scheduler) Resume(ctx context.Context, id string) error { return s.setState(ctx, id, models.SubagentActive) }

func (s *Scheduler) setState(ctx context.Context, id string, state models.SubagentState) error {
	s.mu.Lock()
	sched, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return models.NewError(models.KindInvalidArguments, fmt.Sprintf("schedule %q not found", id), models.ErrNotFound)
	}
	cp := *sched
	cp.State = state
	if state == models.SubagentActive {
		cp.FailCount = 0
	}
	s.jobs[id] = &cp
	s.mu.Unlock()
	return s.put(ctx, cp)
}

// Jobs returns a snapshot of every scheduled job.
func (s *Scheduler) Jobs() []models.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Schedule, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Start begins the tick loop until ctx is cancelled, at a 1s resolution
// by default (overridable via Config.TickInterval).
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop waits for the tick loop to exit.
func (s *Scheduler) Stop() { s.wg.Wait() }

// RunOnce fires every due job once (used by Start's tick and by tests).
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	due := make([]*models.Schedule, 0)
	for _, j := range s.jobs {
		if j.State == models.SubagentActive && !j.Next.IsZero() && !now.Before(j.Next) {
			cp := *j
			due = append(due, &cp)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, j := range due {
		s.fire(ctx, j, now)
		fired++
	}
	return fired
}

// fire acquires the per-job advisory lock, runs the Agent Loop, records
// the outcome, and reschedules.
func (s *Scheduler) fire(ctx context.Context, job *models.Schedule, now time.Time) {
	locked, err := s.kv.SetNX(ctx, lockKey(job.ID), "1", s.cfg.LockTTL)
	if err != nil || !locked {
		return // concurrent fire on the same job suppressed
	}
	defer s.kv.Del(ctx, lockKey(job.ID))

	result := s.runner.Run(ctx, job.SubagentID, job.Task)
	s.recordOutcome(ctx, job.ID, result, now)
}

func (s *Scheduler) recordOutcome(ctx context.Context, id string, result models.RunResult, ranAt time.Time) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	cp := *job
	cp.LastRun = &ranAt
	cp.LastResult = summarize(result)

	if result.Success {
		cp.FailCount = 0
		n, err := next(cp.Cron, cp.Timezone, ranAt)
		if err == nil {
			cp.Next = n
		}
	} else {
		cp.FailCount++
		if cp.FailCount >= s.cfg.MaxFailures {
			cp.State = models.SubagentPaused
			if s.notifier != nil {
				s.notifier.PublishSchedule(ctx, "schedule.paused", map[string]any{"scheduleId": id, "failCount": cp.FailCount})
			}
		} else {
			cp.Next = rescheduleAfterFailure(cp.Cron, cp.Timezone, ranAt, cp.FailCount)
		}
	}

	s.mu.Lock()
	s.jobs[id] = &cp
	s.mu.Unlock()

	if err := s.put(ctx, cp); err != nil {
		s.logger.Warn("scheduler: failed to persist job after run", "id", id, "error", err)
	}
	s.appendHistory(ctx, id, models.RunHistoryEntry{
		RanAt:           ranAt,
		Success:         result.Success,
		Turns:           result.Stats.Turns,
		TotalTokens:     result.Stats.TotalInputTokens + result.Stats.TotalOutputTokens,
		TruncatedAnswer: truncate(result.Answer, 200),
	})
}

func (s *Scheduler) appendHistory(ctx context.Context, id string, entry models.RunHistoryEntry) {
	raw, err := s.kv.Get(ctx, historyKey(id))
	if err != nil {
		s.logger.Warn("scheduler: failed to read run history", "id", id, "error", err)
		return
	}
	var history []models.RunHistoryEntry
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &history)
	}
	history = append(history, entry)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	encoded, err := json.Marshal(history)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, historyKey(id), string(encoded), 0); err != nil {
		s.logger.Warn("scheduler: failed to persist run history", "id", id, "error", err)
	}
}

// History returns the bounded run history for a job.
func (s *Scheduler) History(ctx context.Context, id string) ([]models.RunHistoryEntry, error) {
	raw, err := s.kv.Get(ctx, historyKey(id))
	if err != nil || raw == "" {
		return nil, err
	}
	var history []models.RunHistoryEntry
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, err
	}
	return history, nil
}

// RunLoopMode is an alternative execution style that re-invokes the loop
// immediately with a minimum inter-run delay and a caller-supplied stop
// condition over the last result, used by long-running monitoring
// sub-agents rather than the cron tick path.
func (s *Scheduler) RunLoopMode(ctx context.Context, subagentID, task string, minDelay time.Duration, stop func(models.RunResult) bool) {
	for {
		if ctx.Err() != nil {
			return
		}
		started := s.now()
		result := s.runner.Run(ctx, subagentID, task)
		if stop != nil && stop(result) {
			return
		}
		elapsed := s.now().Sub(started)
		if elapsed < minDelay {
			select {
			case <-ctx.Done():
				return
			case <-time.After(minDelay - elapsed):
			}
		}
	}
}

func (s *Scheduler) get(ctx context.Context, id string) (*models.Schedule, error) {
	fields, err := s.kv.HGetAll(ctx, recordKey(id))
	if err != nil {
		return nil, err
	}
	raw, ok := fields["data"]
	if !ok || raw == "" {
		return nil, models.NewError(models.KindInvalidArguments, fmt.Sprintf("schedule %q not found", id), models.ErrNotFound)
	}
	var sched models.Schedule
	if err := json.Unmarshal([]byte(raw), &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (s *Scheduler) put(ctx context.Context, sched models.Schedule) error {
	raw, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	return s.kv.HSet(ctx, recordKey(sched.ID), map[string]string{"data": string(raw)})
}

func summarize(result models.RunResult) string {
	if result.Success {
		return fmt.Sprintf("ok: %s", truncate(result.Answer, 200))
	}
	return fmt.Sprintf("failed: %s", truncate(result.Answer, 200))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

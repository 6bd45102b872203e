// Package inbox is the Inbox Dispatcher: a blocking-pop consumer over the
// external task queue that routes each Task to a matching skill or,
// failing that, the main Agent Loop.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nexus-core/agentruntime/internal/models"
)

const (
	queueHigh   = "core:inbox:1"
	queueNormal = "core:inbox:2"
	queueLow    = "core:inbox:3"

	// AnsweredChannel is the pub/sub channel a completed dispatch notifies
	// on.
	AnsweredChannel = "inbox:answered"
	answerTTL       = time.Hour
	defaultPoll     = 5 * time.Second
)

func answerKey(requestID string) string { return fmt.Sprintf("core:answer:%s", requestID) }

func queueKey(p models.TaskPriority) string {
	switch p {
	case models.PriorityHigh:
		return queueHigh
	case models.PriorityLow:
		return queueLow
	default:
		return queueNormal
	}
}

// Queue is the narrow KV surface the Dispatcher needs, satisfied by
// *kv.Client; a seam so tests can fake Redis with an in-memory queue.
type Queue interface {
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) (key, value string, err error)
	LPush(ctx context.Context, key, value string) error
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// LoopRunner invokes the main Agent Loop for a task with no matching skill.
type LoopRunner interface {
	Run(ctx context.Context, task models.Task) models.RunResult
}

// SkillHandler handles one task routed to a specific skill bundle.
type SkillHandler interface {
	Handle(ctx context.Context, task models.Task) (string, error)
}

// SkillRouter resolves a task to a matching skill handler: explicit
// `params.skill` name first, then trigger-pattern matching against the
// task message.
type SkillRouter interface {
	ByName(name string) (SkillHandler, bool)
	MatchTrigger(message string) (SkillHandler, bool)
}

// Notifier is the narrow publish surface used for the answered notification.
type Notifier interface {
	Publish(ctx context.Context, channel, event string, data any)
}

// Config tunes the Dispatcher's operational defaults.
type Config struct {
	PollTimeout time.Duration

	// MaxTasksPerSecond throttles how fast popped tasks are handed to
	// skills/the Agent Loop, independent of how fast producers enqueue
	// them, so a burst of low-priority backlog can't starve the worker
	// pool behind the Agent Loop. 0 disables throttling.
	MaxTasksPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPoll
	}
	return c
}

// Dispatcher consumes core:inbox:{1,2,3} in strict priority order (Redis's
// BRPOP already checks multi-key args in the order given, so passing the
// priority queues high-to-low gives the required ordering natively) and
// routes each Task to a skill or the Agent Loop.
type Dispatcher struct {
	queue    Queue
	loop     LoopRunner
	skills   SkillRouter
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
	limiter  *rate.Limiter

	wg sync.WaitGroup
}

// New builds a Dispatcher. skills may be nil to route everything to loop.
func New(queue Queue, loop LoopRunner, skills SkillRouter, notifier Notifier, logger *slog.Logger, cfg Config) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	var limiter *rate.Limiter
	if cfg.MaxTasksPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxTasksPerSecond), int(cfg.MaxTasksPerSecond)+1)
	}
	return &Dispatcher{
		queue:    queue,
		loop:     loop,
		skills:   skills,
		notifier: notifier,
		logger:   logger.With("component", "inbox"),
		cfg:      cfg,
		limiter:  limiter,
	}
}

// Enqueue pushes task onto the queue matching its priority, used by senders
// (MCP, chat adapters, tests) that produce Tasks directly rather than via
// the Gateway.
func (d *Dispatcher) Enqueue(ctx context.Context, task models.Task) error {
	task.Normalize()
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return d.queue.LPush(ctx, queueKey(task.Priority), string(raw))
}

// Start runs the blocking-pop loop in the background until ctx is
// cancelled, spawning one handler goroutine per popped message.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

// Stop waits for the pop loop and any in-flight handlers to finish.
func (d *Dispatcher) Stop() { d.wg.Wait() }

func (d *Dispatcher) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, value, err := d.queue.BRPop(ctx, d.cfg.PollTimeout, queueHigh, queueNormal, queueLow)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("inbox: pop failed", "error", err)
			continue
		}
		if value == "" {
			continue // poll timeout, nothing queued
		}

		var task models.Task
		if err := json.Unmarshal([]byte(value), &task); err != nil {
			d.logger.Warn("inbox: dropping malformed task", "error", err)
			continue
		}
		task.Normalize()

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handle(ctx, task)
		}()
	}
}

func (d *Dispatcher) handle(ctx context.Context, task models.Task) {
	answer := d.dispatch(ctx, task)
	d.writeAnswer(ctx, task.RequestID, answer)
}

// dispatch resolves a task in priority order: explicit skill name, then
// trigger-pattern match, then the main Agent Loop.
func (d *Dispatcher) dispatch(ctx context.Context, task models.Task) string {
	if d.skills != nil {
		if name, _ := task.Params["skill"].(string); name != "" {
			if h, ok := d.skills.ByName(name); ok {
				return d.runSkill(ctx, h, task)
			}
		}
		if h, ok := d.skills.MatchTrigger(task.Message); ok {
			return d.runSkill(ctx, h, task)
		}
	}

	if d.loop == nil {
		d.logger.Warn("inbox: no agent loop runner configured, dropping task", "taskId", task.ID)
		return "error: no agent loop configured"
	}
	result := d.loop.Run(ctx, task)
	return result.Answer
}

func (d *Dispatcher) runSkill(ctx context.Context, h SkillHandler, task models.Task) string {
	out, err := h.Handle(ctx, task)
	if err != nil {
		return "error: " + err.Error()
	}
	return out
}

// writeAnswer persists the result at core:answer:{requestId} with a 1 hour
// TTL and publishes inbox:answered.
func (d *Dispatcher) writeAnswer(ctx context.Context, requestID, answer string) {
	if requestID == "" {
		return
	}
	if err := d.queue.Set(ctx, answerKey(requestID), answer, answerTTL); err != nil {
		d.logger.Warn("inbox: failed to persist answer", "requestId", requestID, "error", err)
		return
	}
	if d.notifier != nil {
		d.notifier.Publish(ctx, AnsweredChannel, "answered", map[string]any{"requestId": requestID})
	}
}

// Package agentloop implements the ReAct (reason-act-observe) state machine
// that drives one agent run: think with the Brain, optionally gate and
// execute a tool call, fold the result back in as an observation, and
// repeat until a final answer, a budget limit, or cancellation ends the run.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-core/agentruntime/internal/approval"
	"github.com/nexus-core/agentruntime/internal/brain"
	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

// Phase is one state in the loop's state machine.
type Phase string

const (
	PhaseThinking        Phase = "Thinking"
	PhaseApproving       Phase = "Approving"
	PhaseActing          Phase = "Acting"
	PhaseDone            Phase = "Done"
	PhaseFailed          Phase = "Failed"
	PhaseCancelled       Phase = "Cancelled"
	PhaseBudgetExhausted Phase = "BudgetExhausted"
	PhaseDepthExceeded   Phase = "DepthExceeded"
)

func (p Phase) terminal() bool {
	switch p {
	case PhaseDone, PhaseFailed, PhaseCancelled, PhaseBudgetExhausted, PhaseDepthExceeded:
		return true
	default:
		return false
	}
}

// Budgets bound a single run; all four limits are enforced simultaneously.
type Budgets struct {
	MaxTurns   int
	MaxTokens  int
	Timeout    time.Duration
	MaxDepth   int
}

const hardMaxTurns = 100

// DefaultBudgets returns the runtime's default per-run limits.
func DefaultBudgets() Budgets {
	return Budgets{MaxTurns: 30, MaxTokens: 200_000, Timeout: 600 * time.Second, MaxDepth: 3}
}

func (b Budgets) withDefaults() Budgets {
	d := DefaultBudgets()
	if b.MaxTurns <= 0 {
		b.MaxTurns = d.MaxTurns
	}
	if b.MaxTurns > hardMaxTurns {
		b.MaxTurns = hardMaxTurns
	}
	if b.MaxTokens <= 0 {
		b.MaxTokens = d.MaxTokens
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	if b.MaxDepth <= 0 {
		b.MaxDepth = d.MaxDepth
	}
	return b
}

// MemorySource is the subset of the Memory Service client the loop needs to
// consult recall before acting.
type MemorySource interface {
	Search(ctx context.Context, userID, query string, limit int) ([]models.MemorySearchResult, error)
}

// Subagent tool names intercepted by the loop for recursive dispatch.
const (
	ToolSubagentRun = "subagent_run"
	ToolDelegate    = "delegate"
)

// Spawner runs a nested Agent Loop for a subagent_run/delegate tool call and
// returns its final answer as the observation. The child inherits shared
// infrastructure (KV client, tool registry) but starts with its own empty
// scratchpad rather than the parent's message history.
type Spawner interface {
	Spawn(ctx context.Context, parent *Loop, call models.ToolCall) models.ToolResult
}

// Sink receives AgentEvents as the loop produces them. Implementations must
// be safe for the loop's single producing goroutine (no concurrent Emit
// calls for one loop).
type Sink interface {
	Emit(ctx context.Context, e models.AgentEvent)
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, models.AgentEvent) {}

// Deps bundles the collaborators a Loop needs. Tools and Brain are
// required; a nil Sink defaults to NopSink; Approval, Memory, and Spawner
// are optional (nil disables the corresponding behavior).
type Deps struct {
	Brain    brain.Brain
	Tools    *toolregistry.Registry
	Approval *approval.Manager
	Memory   MemorySource
	Spawner  Spawner
	Sink     Sink
	Logger   *slog.Logger
}

// Config is the full set of parameters for one Run.
type Config struct {
	SessionID     string
	UserID        string
	Task          string
	SystemPrompt  string
	Tools         []brain.ToolSchema
	Budgets       Budgets
	Depth         int // 0 for top-level runs
	Notifier      Notifier
}

// Notifier is the narrow publish surface the loop uses for approval_request
// events; satisfied by *notify.Bus.
type Notifier interface {
	Publish(ctx context.Context, channel, event string, data any)
}

// Loop runs one session's ReAct state machine.
type Loop struct {
	deps Deps
	cfg  Config

	phase      Phase
	turn       int
	sequence   uint64
	messages   []brain.Message
	transcript []models.Turn

	inputTokens  int
	outputTokens int
	toolCalls    int

	startedAt time.Time
}

// New constructs a Loop ready to Run.
func New(deps Deps, cfg Config) *Loop {
	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.Budgets = cfg.Budgets.withDefaults()
	return &Loop{deps: deps, cfg: cfg, phase: PhaseThinking}
}

// Depth returns the sub-agent recursion depth this loop is running at.
func (l *Loop) Depth() int { return l.cfg.Depth }

// SessionID returns the session id this loop is running under, for a
// Spawner to derive a child session id from.
func (l *Loop) SessionID() string { return l.cfg.SessionID }

// Budgets returns the loop's effective budgets, for a child Spawner to
// derive its own (typically identical) budget set.
func (l *Loop) Budgets() Budgets { return l.cfg.Budgets }

// Transcript returns the completed turns of this run, in order.
func (l *Loop) Transcript() []models.Turn { return l.transcript }

func (l *Loop) nextSeq() uint64 {
	l.sequence++
	return l.sequence
}

func (l *Loop) emit(ctx context.Context, e models.AgentEvent) {
	e.SessionID = l.cfg.SessionID
	e.Sequence = l.nextSeq()
	e.Turn = l.turn
	e.Time = time.Now()
	l.deps.Sink.Emit(ctx, e)
}

// Run executes the state machine to a terminal phase and returns the final
// result. The answer field is always populated, even on non-success
// outcomes, so callers never need to fall back to a separate error message.
func (l *Loop) Run(ctx context.Context) models.RunResult {
	l.startedAt = time.Now()

	if l.cfg.Depth > l.cfg.Budgets.MaxDepth {
		return l.finish(ctx, PhaseDepthExceeded, "sub-agent recursion depth exceeded")
	}

	runCtx, cancel := context.WithTimeout(ctx, l.cfg.Budgets.Timeout)
	defer cancel()

	l.emit(runCtx, models.AgentEvent{Type: models.EventRunStarted})
	l.messages = append(l.messages, brain.Message{Role: "user", Content: l.cfg.Task})

	var lastAnswer string

	for {
		if runCtx.Err() != nil {
			if ctx.Err() != nil {
				return l.finish(ctx, PhaseCancelled, "cancelled")
			}
			return l.finish(ctx, PhaseBudgetExhausted, "wall-clock budget exhausted")
		}
		if l.turn >= l.cfg.Budgets.MaxTurns {
			return l.finish(ctx, PhaseBudgetExhausted, fmt.Sprintf("reached max turns (%d)", l.cfg.Budgets.MaxTurns))
		}
		if l.inputTokens+l.outputTokens >= l.cfg.Budgets.MaxTokens {
			return l.finish(ctx, PhaseBudgetExhausted, fmt.Sprintf("reached max tokens (%d)", l.cfg.Budgets.MaxTokens))
		}

		l.turn++
		l.phase = PhaseThinking

		if err := l.consultMemoryIfDue(runCtx); err != nil {
			l.deps.Logger.Warn("agentloop: memory recall degraded to empty observation", "error", err)
		}

		preInput, preOutput := l.inputTokens, l.outputTokens
		answer, toolCall, err := l.thinkingPhase(runCtx)
		if err != nil {
			if rt, ok := err.(*models.RuntimeError); ok && rt.Kind == models.KindCancelled {
				return l.finish(ctx, PhaseCancelled, "cancelled")
			}
			return l.finish(ctx, PhaseFailed, err.Error())
		}

		turn := models.Turn{
			Sequence:     l.turn,
			Thought:      answer,
			InputTokens:  l.inputTokens - preInput,
			OutputTokens: l.outputTokens - preOutput,
		}

		if toolCall == nil {
			if !turn.Valid() {
				return l.finish(ctx, PhaseFailed, "turn produced neither a thought nor a tool call")
			}
			l.transcript = append(l.transcript, turn)
			lastAnswer = answer
			return l.finish(ctx, PhaseDone, lastAnswer)
		}

		observation := l.approveAndAct(runCtx, *toolCall)
		turn.ToolCalls = []models.ToolCall{observation}
		if !turn.Valid() {
			return l.finish(ctx, PhaseFailed, "turn produced neither a thought nor a tool call")
		}
		l.transcript = append(l.transcript, turn)

		l.messages = append(l.messages, brain.Message{
			Role:        "tool",
			ToolResults: []models.ToolCall{observation},
		})
	}
}

// thinkingPhase streams one Brain turn, forwarding text and returning
// either a final answer (toolCall == nil) or the single tool-call-intent
// the loop should act on next. Streaming pauses at the first
// tool-call-intent so the loop can gate and execute it before continuing.
func (l *Loop) thinkingPhase(ctx context.Context) (answer string, toolCall *models.ToolCall, err error) {
	events, cerr := l.deps.Brain.Complete(ctx, brain.Request{
		System:   l.cfg.SystemPrompt,
		Messages: l.messages,
		Tools:    l.cfg.Tools,
	})
	if cerr != nil {
		return "", nil, models.NewError(models.KindBrainFatal, "brain completion failed", cerr)
	}

	var text strings.Builder
	for ev := range events {
		switch ev.Kind {
		case brain.EventText:
			text.WriteString(ev.Text)
			l.emit(ctx, models.AgentEvent{Type: models.EventTextDelta, Text: ev.Text})
		case brain.EventToolCall:
			tc := *ev.ToolCall
			if tc.CallID == "" {
				tc.CallID = uuid.NewString()
			}
			tc.StartedAt = time.Now()
			l.emit(ctx, models.AgentEvent{Type: models.EventToolCallStarted, ToolCall: &tc})
			l.messages = append(l.messages, brain.Message{Role: "assistant", Content: text.String(), ToolCalls: []models.ToolCall{tc}})
			return "", &tc, nil
		case brain.EventDone:
			l.inputTokens += ev.InputTokens
			l.outputTokens += ev.OutputTokens
			l.messages = append(l.messages, brain.Message{Role: "assistant", Content: text.String()})
			return text.String(), nil, nil
		case brain.EventAborted:
			return "", nil, models.NewError(models.KindCancelled, "brain call aborted", ev.Err)
		case brain.EventError:
			return "", nil, ev.Err
		}
	}
	return text.String(), nil, nil
}

// approveAndAct gates the call through the Approval Manager (if any
// destructive/shell/all-policy call requires it) and dispatches it through
// the Tool Registry or a Spawner for subagent_run/delegate. A denial is
// folded into a normal observation rather than an error, and a tool
// failure never terminates the loop — both become the next turn's input.
func (l *Loop) approveAndAct(ctx context.Context, call models.ToolCall) models.ToolCall {
	if l.deps.Approval != nil {
		if def, ok := l.deps.Tools.Get(call.Name); ok {
			if l.deps.Approval.Requires(def, call) {
				l.phase = PhaseApproving
				decision := l.deps.Approval.Await(ctx, l.cfg.Notifier, l.cfg.SessionID, call)
				if !decision.Approved {
					result := models.ToolResult{Success: false, Error: decision.Reason}
					call.Result = &result
					call.CompletedAt = time.Now()
					l.emit(ctx, models.AgentEvent{Type: models.EventApprovalDenied, ToolCall: &call})
					return call
				}
			}
		}
	}

	l.phase = PhaseActing
	l.toolCalls++

	var result models.ToolResult
	if call.Name == ToolSubagentRun || call.Name == ToolDelegate {
		if l.deps.Spawner == nil {
			result = models.ToolResult{Success: false, Error: "no sub-agent spawner configured"}
		} else {
			result = l.deps.Spawner.Spawn(ctx, l, call)
		}
	} else {
		result = l.deps.Tools.Dispatch(ctx, call)
	}

	call.Result = &result
	call.CompletedAt = time.Now()
	call.DurationMs = call.CompletedAt.Sub(call.StartedAt).Milliseconds()
	l.emit(ctx, models.AgentEvent{Type: models.EventToolCallDone, ToolCall: &call})
	return call
}

// consultMemoryIfDue recalls relevant memories before acting on the first
// turn, or whenever the system prompt carries a memory-first directive. A
// storage failure degrades to an empty observation rather than propagating.
func (l *Loop) consultMemoryIfDue(ctx context.Context) error {
	if l.deps.Memory == nil {
		return nil
	}
	if l.turn != 1 && !strings.Contains(strings.ToLower(l.cfg.SystemPrompt), "memory-first") {
		return nil
	}

	results, err := l.deps.Memory.Search(ctx, l.cfg.UserID, l.cfg.Task, 5)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("Relevant memories:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s\n", r.Content)
	}
	l.messages = append(l.messages, brain.Message{Role: "user", Content: b.String()})
	return nil
}

func (l *Loop) finish(ctx context.Context, phase Phase, answer string) models.RunResult {
	l.phase = phase
	success := phase == PhaseDone

	result := models.RunResult{
		SessionID:     l.cfg.SessionID,
		Success:       success,
		Answer:        answer,
		StoppedReason: stoppedReasonFor(phase),
		Stats: models.RunStats{
			Turns:             l.turn,
			ToolCalls:         l.toolCalls,
			TotalInputTokens:  l.inputTokens,
			TotalOutputTokens: l.outputTokens,
			WallClock:         time.Since(l.startedAt),
		},
	}

	eventType := models.EventRunDone
	switch phase {
	case PhaseFailed, PhaseBudgetExhausted, PhaseDepthExceeded:
		eventType = models.EventRunFailed
	case PhaseCancelled:
		eventType = models.EventRunCancelled
	}
	l.emit(ctx, models.AgentEvent{Type: eventType, Result: &result, ErrorMessage: errMsgFor(phase, answer)})
	return result
}

func errMsgFor(phase Phase, answer string) string {
	if phase == PhaseDone {
		return ""
	}
	return answer
}

func stoppedReasonFor(phase Phase) models.StoppedReason {
	switch phase {
	case PhaseDone:
		return models.StoppedDone
	case PhaseCancelled:
		return models.StoppedCancelled
	case PhaseBudgetExhausted:
		return models.StoppedBudgetExhausted
	case PhaseDepthExceeded:
		return models.StoppedDepthExceeded
	default:
		return models.StoppedFailed
	}
}

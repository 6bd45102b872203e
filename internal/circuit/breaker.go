// Package circuit implements the three-state (closed/open/half-open)
// circuit breaker that shields the runtime from upstream outages of the
// LLM, memory service, and message bus.
package circuit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nexus-core/agentruntime/internal/models"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// Config configures a single breaker's thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed
	// that transitions to Open. Default 5.
	FailureThreshold int
	// HalfOpenMaxAttempts is both the probe budget and the number of
	// consecutive successes required to close again. Default 3.
	HalfOpenMaxAttempts int
	// ResetTimeout is how long the breaker stays Open before allowing a
	// half-open probe. Default 30s.
	ResetTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.HalfOpenMaxAttempts <= 0 {
		c.HalfOpenMaxAttempts = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// Breaker is a per-upstream circuit breaker. The happy path (isCallPermitted
// plus record) is guarded by a single mutex: a mutex keeps the probe-budget
// check and counter updates atomic together, which matters once concurrent
// half-open probes are contending for the same limited slot count.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu              sync.Mutex
	state           State
	consecutiveFail int
	consecutiveOK   int
	probesInFlight  int
	openedAt        time.Time
}

// New creates a breaker in the Closed state.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger,
		state:  Closed,
	}
}

// IsCallPermitted reports whether a call may proceed right now, and if so
// reserves a half-open probe slot when applicable. Callers that are
// permitted must eventually call RecordSuccess or RecordFailure exactly
// once.
func (b *Breaker) IsCallPermitted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.transition(HalfOpen)
			b.probesInFlight = 1
			return true
		}
		return false
	case HalfOpen:
		if b.probesInFlight >= b.cfg.HalfOpenMaxAttempts {
			return false
		}
		b.probesInFlight++
		return true
	default:
		return true
	}
}

// RecordSuccess registers a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFail = 0
	case HalfOpen:
		b.consecutiveOK++
		b.probesInFlight--
		if b.consecutiveOK >= b.cfg.HalfOpenMaxAttempts {
			b.transition(Closed)
		}
	}
}

// RecordFailure registers a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.probesInFlight--
		b.transition(Open)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.consecutiveFail = 0
	b.consecutiveOK = 0
	b.probesInFlight = 0
	if to == Open {
		b.openedAt = time.Now()
	}
	b.logger.Info("circuit breaker state change",
		"breaker", b.name, "from", from, "to", to)
}

// State returns the current state without mutating it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Guard wraps IsCallPermitted/RecordSuccess/RecordFailure around fn,
// returning models.ErrUpstreamUnavailable immediately when the breaker is
// not permitting calls.
func (b *Breaker) Guard(fn func() error) error {
	if !b.IsCallPermitted() {
		return models.NewError(models.KindStorageUnavailable, b.name+" circuit open", models.ErrUpstreamUnavailable)
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

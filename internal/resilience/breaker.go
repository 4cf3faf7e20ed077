// Package resilience provides the circuit breaker guarding backend dials.
//
// Every conversation opens its own realtime session, so a dead or overloaded
// speech backend would otherwise be re-dialled once per incoming call. The
// [Breaker] trips after consecutive dial failures and fails calls fast until
// a probe succeeds.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the breaker's operating mode.
type State int

const (
	// StateClosed — calls pass through; failures are counted.
	StateClosed State = iota

	// StateOpen — calls fail immediately with [ErrOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen — a limited number of probe calls pass through. Success
	// closes the breaker, any failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker]. Zero fields take the defaults noted per field.
type Config struct {
	// Name labels the breaker in logs.
	Name string

	// MaxFailures is the consecutive-failure count that trips the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before allowing
	// probes. Default: 30s.
	ResetTimeout time.Duration

	// ProbeCalls is how many successful half-open calls close the breaker.
	// Default: 1.
	ProbeCalls int
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probeCalls   int

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inflight  int
	openedAt  time.Time
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.ProbeCalls <= 0 {
		cfg.ProbeCalls = 1
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		probeCalls:   cfg.ProbeCalls,
	}
}

// State reports the current operating mode.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// Ready returns nil when the breaker admits calls, [ErrOpen] otherwise.
// Suits a readiness checker: an open breaker means the backend is down.
func (b *Breaker) Ready() error {
	if b.State() == StateOpen {
		return ErrOpen
	}
	return nil
}

// Execute runs fn if the breaker admits it and feeds the result back into the
// failure accounting. While open it returns [ErrOpen] without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()
	b.record(probe, err == nil)
	return err
}

// current folds the open→half-open timer into the stored state. Caller holds
// b.mu.
func (b *Breaker) current() State {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateOpen:
		return false, ErrOpen

	case StateHalfOpen:
		if b.state == StateOpen {
			// Reset timeout elapsed; enter half-open for real.
			b.state = StateHalfOpen
			b.successes = 0
			b.inflight = 0
			slog.Info("circuit half-open", "name", b.name)
		}
		if b.inflight >= b.probeCalls {
			return false, ErrOpen
		}
		b.inflight++
		return true, nil

	default:
		return false, nil
	}
}

// record updates the state machine after a call completes.
func (b *Breaker) record(probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.inflight--
		if !ok {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.probeCalls {
			b.state = StateClosed
			b.failures = 0
			slog.Info("circuit closed", "name", b.name)
		}
		return
	}

	if !ok {
		b.failures++
		if b.state == StateClosed && b.failures >= b.maxFailures {
			b.trip()
		}
		return
	}
	b.failures = 0
}

// trip opens the breaker. Caller holds b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.failures = b.maxFailures
	slog.Warn("circuit opened", "name", b.name, "reset_timeout", b.resetTimeout)
}

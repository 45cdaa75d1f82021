// Package resilience provides fault tolerance for external resources: retry
// with backoff for startup acquisition and a circuit breaker that stops
// engines from respawning decoder processes that keep dying.
package resilience

import (
	"log/slog"
	"sync/atomic"
	"time"

	apperr "github.com/lipschultz/hwinarion/internal/errors"
)

// State is the breaker position.
type State uint32

const (
	Closed   State = iota // spawns proceed
	Open                  // failing fast, nothing spawned
	HalfOpen              // probing recovery with limited spawns
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrOpen is returned by Allow while the breaker is failing fast. It carries
// ENGINE_UNAVAILABLE so engines surface it without translation.
var ErrOpen = apperr.New(apperr.CodeEngineUnavailable, "engine suspended after repeated process failures")

// Breaker guards decoder process spawns with atomic state. Safe for
// concurrent use.
type Breaker struct {
	cfg         Config
	state       atomic.Uint32
	failures    atomic.Int32
	successes   atomic.Int32
	lastFailure atomic.Int64 // unix nano
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	b := &Breaker{cfg: cfg.withDefaults()}
	b.state.Store(uint32(Closed))
	return b
}

// Allow reports whether the next spawn may proceed. After ResetTimeout of
// quiet an open breaker moves to half-open and lets probes through.
func (b *Breaker) Allow() error {
	switch State(b.state.Load()) {
	case Open:
		if b.shouldAttemptReset() {
			b.transition(HalfOpen)
			return nil
		}
		return ErrOpen
	default:
		return nil
	}
}

// Success records a decoder run that completed.
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a spawn or run failure.
func (b *Breaker) Failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	count := b.failures.Add(1)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(Open)
		}
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

func (b *Breaker) transition(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}

	switch to {
	case Closed:
		b.failures.Store(0)
		b.successes.Store(0)
		slog.Info("engine breaker closed")
	case Open:
		b.successes.Store(0)
		slog.Warn("engine breaker opened", "failures", b.failures.Load())
	case HalfOpen:
		b.successes.Store(0)
		slog.Info("engine breaker half-open, probing")
	}
}

func (b *Breaker) shouldAttemptReset() bool {
	last := b.lastFailure.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) > b.cfg.ResetTimeout
}

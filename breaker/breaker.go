// Package breaker wraps calls to the slow backing source behind a
// three-state circuit breaker (CLOSED -> OPEN -> HALF-OPEN -> CLOSED).
//
// The state machine itself is sony/gobreaker; this package adds the
// operational surface the cache layer needs: a distinct ErrCircuitOpen,
// manual force-open/force-close/reset overrides, last-outcome timestamps, and
// a numeric state gauge for metrics export.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State represents the circuit breaker state.
type State = gobreaker.State

// Circuit breaker state constants.
const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Metrics is a point-in-time snapshot of breaker state and counters.
type Metrics struct {
	State               State
	TotalCalls          uint64
	Successes           uint32
	Failures            uint32
	ConsecutiveFailures uint32
	HalfOpenProbes      uint64
	LastFailure         time.Time
	LastSuccess         time.Time
}

// Breaker isolates callers from a failing backing source.
// All methods are safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config

	mu             sync.Mutex
	cb             *gobreaker.CircuitBreaker[any]
	forcedOpen     bool
	totalCalls     uint64
	halfOpenProbes uint64
	lastFailure    time.Time
	lastSuccess    time.Time
}

// New creates a Breaker with the given name and configuration.
func New(name string, cfg Config) *Breaker {
	b := &Breaker{name: name, cfg: cfg}
	b.cb = b.newInner()
	return b
}

// newInner builds a fresh gobreaker instance in the CLOSED state.
func (b *Breaker) newInner() *gobreaker.CircuitBreaker[any] {
	threshold := b.cfg.GetFailureThreshold()

	settings := gobreaker.Settings{
		Name:        b.name,
		MaxRequests: uint32(b.cfg.GetHalfOpenMaxCalls()), //nolint:gosec // accessor returns a small positive value
		Interval:    b.cfg.GetMonitoringPeriod(),
		Timeout:     b.cfg.GetRecoveryTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold) //nolint:gosec // accessor returns a small positive value
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := logger().Info()
			if to == gobreaker.StateOpen {
				event = logger().Warn()
			}
			event.
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

// Execute runs fn through the breaker.
//
// When the circuit is open (or forced open) fn is never invoked and the call
// fails fast with ErrCircuitOpen. Errors returned by fn are reported to the
// breaker as failures, except context.Canceled.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	b.mu.Lock()
	if b.forcedOpen {
		b.mu.Unlock()
		return nil, ErrCircuitOpen
	}
	cb := b.cb
	probing := cb.State() == StateHalfOpen
	b.mu.Unlock()

	result, err := cb.Execute(func() (any, error) {
		return fn(ctx)
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalCalls++

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, ErrCircuitOpen
	case err != nil && !errors.Is(err, context.Canceled):
		if probing {
			b.halfOpenProbes++
		}
		b.lastFailure = time.Now()
		return nil, err
	default:
		if probing {
			b.halfOpenProbes++
		}
		b.lastSuccess = time.Now()
		return result, err
	}
}

// State returns the current breaker state. A forced-open breaker reports
// StateOpen regardless of the inner machine.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.forcedOpen {
		return StateOpen
	}
	return b.cb.State()
}

// StateGauge returns the state as a metric value:
// 0 closed, 1 half-open, 2 open.
func (b *Breaker) StateGauge() float64 {
	return float64(b.State())
}

// GetMetrics returns a snapshot of the breaker's state and counters.
func (b *Breaker) GetMetrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := b.cb.Counts()
	state := b.cb.State()
	if b.forcedOpen {
		state = StateOpen
	}
	return Metrics{
		State:               state,
		TotalCalls:          b.totalCalls,
		Successes:           counts.TotalSuccesses,
		Failures:            counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		HalfOpenProbes:      b.halfOpenProbes,
		LastFailure:         b.lastFailure,
		LastSuccess:         b.lastSuccess,
	}
}

// ForceOpen forces the breaker open. All calls fail fast with ErrCircuitOpen
// until ForceClose or Reset is called. Operational override only.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forcedOpen = true
	logger().Warn().Str("breaker", b.name).Msg("circuit breaker forced open")
}

// ForceClose clears a forced-open override and swaps in a fresh CLOSED
// breaker with zeroed failure counters.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forcedOpen = false
	b.cb = b.newInner()
	logger().Info().Str("breaker", b.name).Msg("circuit breaker forced closed")
}

// Reset restores the breaker to its initial state: CLOSED, no override, all
// counters and timestamps zeroed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forcedOpen = false
	b.cb = b.newInner()
	b.totalCalls = 0
	b.halfOpenProbes = 0
	b.lastFailure = time.Time{}
	b.lastSuccess = time.Time{}
	logger().Info().Str("breaker", b.name).Msg("circuit breaker reset")
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

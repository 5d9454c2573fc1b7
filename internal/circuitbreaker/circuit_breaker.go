// Package circuitbreaker implements the circuit-breaker pattern for upstream
// model calls. Each upstream model gets its own CircuitBreaker instance,
// owned by a Manager keyed by model ID.
//
// State transitions:
//
//	Closed   → Open      when failureCount ≥ FailureThreshold AND
//	                     totalRequests ≥ MinRequestCount, OR the failure
//	                     rate over the recent window ≥ 0.5.
//	Open     → HalfOpen  after now ≥ nextAttempt (openUntil).
//	HalfOpen → Closed    on SuccessThreshold consecutive successes.
//	HalfOpen → Open      on any failure (re-opens with the same timeout).
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents a circuit breaker's current state.
type State int

const (
	// StateClosed — normal operation; requests pass through.
	StateClosed State = iota
	// StateOpen — upstream is considered failing; requests are rejected immediately.
	StateOpen
	// StateHalfOpen — circuit is testing recovery with a limited number of requests.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// outcome is one entry in the recent-window ring used for failure-rate
// calculation. Only entries within cfg.Window are retained.
type outcome struct {
	at      time.Time
	failure bool
}

const windowCapacity = 256

// Config holds the thresholds a CircuitBreaker is constructed with.
type Config struct {
	FailureThreshold int           // consecutive failures to trip from closed (default 5)
	SuccessThreshold int           // consecutive half-open successes to close (default 1)
	MinRequestCount  int64         // minimum total requests before either trip rule applies (default 1)
	Timeout          time.Duration // open-state duration before probing (default 30s)
	Window           time.Duration // recent-window duration for the failure-rate trip rule (default 1m)
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.MinRequestCount <= 0 {
		c.MinRequestCount = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

// CircuitState is an immutable snapshot of a CircuitBreaker's counters.
type CircuitState struct {
	Status         State
	FailureCount   int
	SuccessCount   int
	LastFailure    time.Time
	LastSuccess    time.Time
	NextAttempt    time.Time
	TotalRequests  int64
	TotalFailures  int64
	TotalSuccesses int64
}

// CircuitBreaker guards a single downstream model.
type CircuitBreaker struct {
	mu    sync.Mutex
	cfg   Config
	state State

	failureCount int
	successCount int
	openUntil    time.Time
	lastFailure  time.Time
	lastSuccess  time.Time

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64

	recent []outcome
}

// New creates a CircuitBreaker with the given thresholds and open timeout.
// Equivalent to NewWithConfig(Config{FailureThreshold, SuccessThreshold, Timeout}).
func New(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	return NewWithConfig(Config{
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		Timeout:          timeout,
	})
}

// NewWithConfig creates a CircuitBreaker from a full Config, applying
// defaults to zero/negative fields.
func NewWithConfig(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg.withDefaults(),
		state: StateClosed,
	}
}

// State returns the current state, transitioning Open→HalfOpen if the timeout
// has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.resolveState()
}

// Snapshot returns a consistent, race-free copy of the breaker's counters.
func (cb *CircuitBreaker) Snapshot() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	status := cb.resolveState()
	return CircuitState{
		Status:         status,
		FailureCount:   cb.failureCount,
		SuccessCount:   cb.successCount,
		LastFailure:    cb.lastFailure,
		LastSuccess:    cb.lastSuccess,
		NextAttempt:    cb.openUntil,
		TotalRequests:  cb.totalRequests,
		TotalFailures:  cb.totalFailures,
		TotalSuccesses: cb.totalSuccesses,
	}
}

// resolveState must be called with cb.mu held.
func (cb *CircuitBreaker) resolveState() State {
	if cb.state == StateOpen && !cb.openUntil.IsZero() && time.Now().After(cb.openUntil) {
		cb.state = StateHalfOpen
		cb.successCount = 0
	}
	return cb.state
}

// Allow returns true if the request should proceed (circuit is Closed or
// HalfOpen), false if it should be rejected (circuit is Open).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.resolveState() != StateOpen
}

// RecordSuccess notifies the breaker that a call succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.totalRequests++
	cb.totalSuccesses++
	cb.lastSuccess = now
	cb.pushOutcome(outcome{at: now, failure: false})

	switch cb.resolveState() {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure notifies the breaker that a call failed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.totalRequests++
	cb.totalFailures++
	cb.lastFailure = now
	cb.pushOutcome(outcome{at: now, failure: true})

	switch cb.resolveState() {
	case StateClosed:
		cb.failureCount++
		if cb.shouldTrip() {
			cb.trip(now)
		}
	case StateHalfOpen:
		cb.trip(now)
		cb.successCount = 0
	}
}

// shouldTrip must be called with cb.mu held, after the failure has already
// been counted into failureCount, totalRequests and the recent window.
func (cb *CircuitBreaker) shouldTrip() bool {
	if cb.totalRequests < int64(cb.cfg.MinRequestCount) {
		return false
	}
	if cb.failureCount >= cb.cfg.FailureThreshold {
		return true
	}
	return cb.windowFailureRate() >= 0.5
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = StateOpen
	cb.openUntil = now.Add(cb.cfg.Timeout)
}

// pushOutcome must be called with cb.mu held. It appends to the recent
// window and trims entries older than cfg.Window, bounding memory at
// windowCapacity regardless of request rate.
func (cb *CircuitBreaker) pushOutcome(o outcome) {
	cb.recent = append(cb.recent, o)
	cutoff := o.at.Add(-cb.cfg.Window)
	i := 0
	for i < len(cb.recent) && cb.recent[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.recent = cb.recent[i:]
	}
	if len(cb.recent) > windowCapacity {
		cb.recent = cb.recent[len(cb.recent)-windowCapacity:]
	}
}

// windowFailureRate must be called with cb.mu held.
func (cb *CircuitBreaker) windowFailureRate() float64 {
	if len(cb.recent) == 0 {
		return 0
	}
	failures := 0
	for _, o := range cb.recent {
		if o.failure {
			failures++
		}
	}
	return float64(failures) / float64(len(cb.recent))
}

// Reset returns the breaker to the canonical closed state with zeroed counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.openUntil = time.Time{}
	cb.totalRequests = 0
	cb.totalFailures = 0
	cb.totalSuccesses = 0
	cb.recent = nil
}

// Execute runs op if the circuit allows it, recording the outcome. If the
// circuit is open, fallback runs instead (when non-nil, its error surfaces
// as-is); with no fallback, ErrCircuitOpen is returned.
func Execute[T any](cb *CircuitBreaker, ctx context.Context, op func(context.Context) (T, error), fallback func(context.Context) (T, error)) (T, error) {
	var zero T
	if !cb.Allow() {
		if fallback != nil {
			return fallback(ctx)
		}
		return zero, ErrCircuitOpen
	}
	result, err := op(ctx)
	if err != nil {
		cb.RecordFailure()
		return zero, err
	}
	cb.RecordSuccess()
	return result, nil
}

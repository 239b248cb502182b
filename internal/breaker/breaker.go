// Package breaker implements a per-(service, operation) circuit breaker
// guarding calls to unreliable dependencies.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/pam-platform/reliability/pkg/errors"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the breaker tuning parameters. These are constructor
// parameters, not environment-driven.
type Config struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenMaxCalls  int
	SlidingWindow     time.Duration
	MinimumThroughput int
}

// DefaultConfig returns the default breaker parameters.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		RecoveryTimeout:   60 * time.Second,
		HalfOpenMaxCalls:  3,
		SlidingWindow:     60 * time.Second,
		MinimumThroughput: 10,
	}
}

// outcome is a single recorded call result inside the sliding window.
// Latency is zero for outcomes reported without timing.
type outcome struct {
	at      time.Time
	failure bool
	latency time.Duration
}

// Breaker guards one (service, operation) pair.
//
// Transitions: CLOSED -> OPEN when the failure count reaches the threshold
// while the sliding window holds at least MinimumThroughput requests with a
// failure rate of 50% or more. OPEN -> HALF_OPEN after RecoveryTimeout on
// the next call. HALF_OPEN -> CLOSED after HalfOpenMaxCalls consecutive
// successes, which is the only point where the failure count resets to
// zero. Any HALF_OPEN failure reopens immediately.
type Breaker struct {
	service   string
	operation string
	cfg       Config

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailure       time.Time
	window            []outcome
	halfOpenCalls     int
	halfOpenSuccesses int

	// now is swappable in tests.
	now func() time.Time
}

// New creates a closed breaker for a (service, operation) pair.
func New(service, operation string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{
		service:   service,
		operation: operation,
		cfg:       cfg,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Execute runs op under the breaker. When the circuit is open and the
// recovery timeout has not elapsed, op is not invoked and a CIRCUIT_OPEN
// error is returned. Call outcomes are recorded with timing.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	start := b.now()
	err := op(ctx)
	elapsed := b.now().Sub(start)
	if err != nil {
		b.recordFailure(elapsed)
		return err
	}
	b.recordSuccess(elapsed)
	return nil
}

// Allow reports whether a call may proceed right now, recording the
// HALF_OPEN trial budget as a side effect. It returns a CIRCUIT_OPEN error
// when the call must fail fast.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			return errors.CircuitOpen(b.service, b.operation)
		}
		// Recovery timeout elapsed: this call becomes the first trial.
		b.state = StateHalfOpen
		b.halfOpenCalls = 1
		b.halfOpenSuccesses = 0
		return nil

	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return errors.CircuitOpen(b.service, b.operation)
		}
		b.halfOpenCalls++
		return nil

	default:
		return nil
	}
}

// RecordSuccess records a successful call without timing. In CLOSED state
// each success decays the failure count by one; in HALF_OPEN enough
// consecutive successes close the circuit.
func (b *Breaker) RecordSuccess() {
	b.recordSuccess(0)
}

func (b *Breaker) recordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.appendOutcomeLocked(false, latency)

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxCalls {
			b.state = StateClosed
			b.failureCount = 0
			b.halfOpenCalls = 0
			b.halfOpenSuccesses = 0
		}
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
}

// RecordFailure records a failed call without timing and applies the state
// transitions.
func (b *Breaker) RecordFailure() {
	b.recordFailure(0)
}

func (b *Breaker) recordFailure(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.appendOutcomeLocked(true, latency)
	b.failureCount++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		// A trial failure reopens immediately.
		b.trip()
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold && b.windowTripsLocked() {
			b.trip()
		}
	}
}

// trip moves the breaker to OPEN. Caller holds b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
}

// windowTripsLocked checks the sliding-window conditions for opening:
// enough throughput and a failure rate of at least 50%. Caller holds b.mu.
func (b *Breaker) windowTripsLocked() bool {
	b.pruneLocked()

	total := len(b.window)
	if total < b.cfg.MinimumThroughput {
		return false
	}
	failures := 0
	for _, o := range b.window {
		if o.failure {
			failures++
		}
	}
	return failures*2 >= total
}

// appendOutcomeLocked adds a call result to the window and prunes expired
// entries. Caller holds b.mu.
func (b *Breaker) appendOutcomeLocked(failure bool, latency time.Duration) {
	b.window = append(b.window, outcome{at: b.now(), failure: failure, latency: latency})
	b.pruneLocked()
}

// pruneLocked drops window entries older than the sliding window. Caller
// holds b.mu.
func (b *Breaker) pruneLocked() {
	cutoff := b.now().Add(-b.cfg.SlidingWindow)
	i := 0
	for ; i < len(b.window); i++ {
		if b.window[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.window = append(b.window[:0], b.window[i:]...)
	}
}

// Snapshot is a point-in-time view of a breaker for metrics and the ops
// API.
type Snapshot struct {
	Service         string     `json:"service"`
	Operation       string     `json:"operation"`
	State           State      `json:"state"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	WindowRequests  int        `json:"window_requests"`
	WindowFailures  int        `json:"window_failures"`
	AvgLatencyMS    float64    `json:"avg_latency_ms"`
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's current observable state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked()
	snap := Snapshot{
		Service:        b.service,
		Operation:      b.operation,
		State:          b.state,
		FailureCount:   b.failureCount,
		WindowRequests: len(b.window),
	}
	var latencySum time.Duration
	timed := 0
	for _, o := range b.window {
		if o.failure {
			snap.WindowFailures++
		}
		if o.latency > 0 {
			latencySum += o.latency
			timed++
		}
	}
	if timed > 0 {
		snap.AvgLatencyMS = float64(latencySum.Milliseconds()) / float64(timed)
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		snap.LastFailureTime = &t
	}
	return snap
}

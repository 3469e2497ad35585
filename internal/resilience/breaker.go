// Package resilience guards calls to the remote agent service.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"taskagent/internal/logger"
)

// ErrCircuitOpen is returned when the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
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
	}
	return "unknown"
}

// Breaker opens after maxFailures consecutive failures and rejects calls
// until timeout has elapsed, then lets a single probe through. Other callers
// get ErrCircuitOpen until the probe resolves.
type Breaker struct {
	name        string
	mu          sync.Mutex
	state       State
	probing     bool
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	isFailure   func(error) bool
	now         func() time.Time
}

// NewBreaker creates a breaker. A maxFailures below one disables tripping.
func NewBreaker(name string, maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		isFailure:   func(err error) bool { return err != nil },
		now:         time.Now,
	}
}

// WithFailureFilter sets the predicate deciding which errors count toward
// tripping. Errors it rejects are still returned to the caller.
func (b *Breaker) WithFailureFilter(fn func(error) bool) *Breaker {
	b.isFailure = fn
	return b
}

// State returns the current breaker position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn unless the circuit is open. A call that fails because ctx
// was cancelled leaves the failure count alone; if it was the half-open probe
// the breaker goes back to open and the next caller probes again.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, ok := b.allowRequest()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}

	switch {
	case err != nil && ctx.Err() != nil:
		if probe {
			b.state = StateOpen
		}
	case err != nil && b.isFailure(err):
		b.onFailure(ctx)
	default:
		b.onSuccess()
	}
	return err
}

// allowRequest reports whether a call may run and whether it is the
// half-open probe.
func (b *Breaker) allowRequest() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false, false
		}
		b.state = StateHalfOpen
	}
	if b.probing {
		return false, false
	}
	b.probing = true
	return true, true
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(ctx context.Context) {
	b.failures++
	if b.maxFailures < 1 {
		return
	}
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			logger.FromContext(ctx).Warn().
				Str("breaker", b.name).
				Int("failures", b.failures).
				Dur("timeout", b.timeout).
				Msg("Circuit breaker opened")
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = StateClosed
}

// Package breaker implements a per-provider circuit breaker.
package breaker

import (
	"context"
	"sync/atomic"
	"time"
)

// State represents the state of the circuit breaker
type State int32

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
	default:
		return "unknown"
	}
}

// Breaker tracks consecutive failures for one provider and gates calls to it.
// All state is manipulated with atomics so concurrent in-flight operations
// never serialize behind a lock on the hot path.
type Breaker struct {
	name            string
	state           atomic.Int32
	failures        atomic.Int32
	successes       atomic.Int32
	forced          atomic.Bool  // set by ForceOpen, cleared by ForceClose/Reset
	lastFailure     atomic.Value // time.Time
	lastStateChange atomic.Value // time.Time
	threshold       int
	recoveryTimeout time.Duration
	halfOpenMax     int

	stateTransitions atomic.Int32
	rejectedCalls    atomic.Int32
}

// New creates a circuit breaker for the named provider.
func New(name string, threshold int, recoveryTimeout time.Duration, halfOpenMax int) *Breaker {
	b := &Breaker{
		name:            name,
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		halfOpenMax:     halfOpenMax,
	}
	b.state.Store(int32(StateClosed))
	b.lastStateChange.Store(time.Now())
	return b
}

// IsOpen reports whether calls should be rejected right now. A breaker whose
// recovery timeout has elapsed transitions to half-open as a side effect,
// unless it was forced open by an operator.
func (b *Breaker) IsOpen() bool {
	if b.state.Load() != int32(StateOpen) {
		return false
	}
	if b.forced.Load() {
		return true
	}
	if lastChange, ok := b.lastStateChange.Load().(time.Time); ok {
		if time.Since(lastChange) > b.recoveryTimeout {
			if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
				b.lastStateChange.Store(time.Now())
				b.successes.Store(0)
				b.stateTransitions.Add(1)
			}
		}
	}
	return b.state.Load() == int32(StateOpen)
}

// Execute runs fn with circuit breaker protection. When the breaker is open
// it fails fast with OpenError without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if b.IsOpen() {
		b.rejectedCalls.Add(1)
		return &OpenError{Provider: b.name}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := fn()
	if err != nil {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// RecordSuccess records a successful call. In the closed state the
// consecutive failure count resets. In half-open, enough consecutive
// successes close the breaker.
func (b *Breaker) RecordSuccess() {
	switch State(b.state.Load()) {
	case StateClosed:
		b.failures.Store(0)
	case StateHalfOpen:
		if b.successes.Add(1) >= int32(b.halfOpenMax) {
			b.state.Store(int32(StateClosed))
			b.lastStateChange.Store(time.Now())
			b.failures.Store(0)
			b.successes.Store(0)
			b.forced.Store(false)
			b.stateTransitions.Add(1)
		}
	}
}

// RecordFailure records a failed call. Reaching the threshold opens the
// breaker; any failure during half-open probing reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.lastFailure.Store(time.Now())

	switch State(b.state.Load()) {
	case StateClosed:
		if b.failures.Add(1) >= int32(b.threshold) {
			b.state.Store(int32(StateOpen))
			b.lastStateChange.Store(time.Now())
			b.stateTransitions.Add(1)
		}
	case StateHalfOpen:
		b.state.Store(int32(StateOpen))
		b.lastStateChange.Store(time.Now())
		b.successes.Store(0)
		b.stateTransitions.Add(1)
	}
}

// ForceOpen opens the breaker and pins it there. The recovery timeout does
// not apply until ForceClose or Reset is called.
func (b *Breaker) ForceOpen() {
	b.forced.Store(true)
	if b.state.Swap(int32(StateOpen)) != int32(StateOpen) {
		b.stateTransitions.Add(1)
	}
	b.lastStateChange.Store(time.Now())
}

// ForceClose closes the breaker and clears any forced-open pin.
func (b *Breaker) ForceClose() {
	b.forced.Store(false)
	if b.state.Swap(int32(StateClosed)) != int32(StateClosed) {
		b.stateTransitions.Add(1)
	}
	b.failures.Store(0)
	b.successes.Store(0)
	b.lastStateChange.Store(time.Now())
}

// Reset restores the breaker to its initial closed state.
func (b *Breaker) Reset() {
	b.forced.Store(false)
	b.state.Store(int32(StateClosed))
	b.failures.Store(0)
	b.successes.Store(0)
	b.lastStateChange.Store(time.Now())
	b.stateTransitions.Add(1)
}

// State returns the current state
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Name returns the provider this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Metrics returns a snapshot of the breaker counters.
func (b *Breaker) Metrics() Snapshot {
	return Snapshot{
		Provider:         b.name,
		State:            b.State().String(),
		Failures:         int(b.failures.Load()),
		Successes:        int(b.successes.Load()),
		StateTransitions: int(b.stateTransitions.Load()),
		RejectedCalls:    int(b.rejectedCalls.Load()),
	}
}

// Snapshot contains circuit breaker counters at a point in time.
type Snapshot struct {
	Provider         string `json:"provider"`
	State            string `json:"state"`
	Failures         int    `json:"failures"`
	Successes        int    `json:"successes"`
	StateTransitions int    `json:"state_transitions"`
	RejectedCalls    int    `json:"rejected_calls"`
}

// OpenError is returned when the circuit is open
type OpenError struct {
	Provider string
}

func (e *OpenError) Error() string {
	return "circuit breaker '" + e.Provider + "' is open"
}

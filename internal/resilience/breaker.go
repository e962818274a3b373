// ABOUTME: Per-upstream circuit breaker with a count-based sliding window
// ABOUTME: CLOSED records outcomes, OPEN fails fast, HALF_OPEN admits bounded trial calls

package resilience

import (
	"sync"
	"time"
)

// State is the circuit breaker state
type State int

// Breaker states
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the conventional upper-case state name
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerSettings configures one circuit breaker
type BreakerSettings struct {
	WindowSize           int           // sliding window length (call outcomes)
	MinimumCalls         int           // calls required in window before the rate is evaluated
	FailureRateThreshold float64       // 0..1; at or above this rate the breaker opens
	WaitDuration         time.Duration // time in OPEN before a trial call is permitted
	HalfOpenCalls        int           // trial calls permitted in HALF_OPEN
}

// Breaker is a circuit breaker for a single upstream.
// All state transitions happen under one mutex, so racing requests observe a
// consistent state and cannot double-consume half-open trial permits.
type Breaker struct {
	mu sync.Mutex

	settings BreakerSettings
	state    State
	openedAt time.Time

	// Sliding window of recent outcomes, true = failure
	window    []bool
	windowIdx int
	calls     int
	failures  int

	// HALF_OPEN accounting
	trialInflight  int
	trialSuccesses int

	// Injectable clock for tests
	now func() time.Time
}

// NewBreaker creates a breaker in the CLOSED state
func NewBreaker(settings BreakerSettings) *Breaker {
	return &Breaker{
		settings: settings,
		state:    StateClosed,
		window:   make([]bool, settings.WindowSize),
		now:      time.Now,
	}
}

// State returns the current breaker state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// stateLocked returns the state, promoting OPEN to HALF_OPEN once the wait
// duration has elapsed. Callers must hold the mutex.
func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.WaitDuration {
		b.state = StateHalfOpen
		b.trialInflight = 0
		b.trialSuccesses = 0
	}
	return b.state
}

// Allow reports whether a call may proceed.
// Returns ErrCircuitOpen while OPEN, or when HALF_OPEN trial slots are taken.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch a := b.stateLocked(); a {
	case StateClosed:
		return nil
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.trialInflight >= b.settings.HalfOpenCalls {
			return ErrCircuitOpen
		}
		b.trialInflight++
		return nil
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a healthy call outcome
func (b *Breaker) RecordSuccess() {
	b.record(false)
}

// RecordFailure records a failed call outcome
func (b *Breaker) RecordFailure() {
	b.record(true)
}

// RecordAbandoned releases a trial permit without counting the outcome.
// Used when the caller disconnected before the upstream answered.
func (b *Breaker) RecordAbandoned() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.trialInflight > 0 {
		b.trialInflight--
	}
}

func (b *Breaker) record(failure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.push(failure)
		if b.calls >= b.settings.MinimumCalls && b.failureRate() >= b.settings.FailureRateThreshold {
			b.open()
		}
	case StateHalfOpen:
		if b.trialInflight > 0 {
			b.trialInflight--
		}
		if failure {
			// Any trial failure reopens the circuit and resets the wait timer
			b.open()
			return
		}
		b.trialSuccesses++
		if b.trialSuccesses >= b.settings.HalfOpenCalls {
			b.close()
		}
	case StateOpen:
		// Late result from a call admitted before the transition; ignore
	}
}

// push adds one outcome to the sliding window. Callers must hold the mutex.
func (b *Breaker) push(failure bool) {
	if b.calls == len(b.window) {
		// Window full; evict the oldest outcome
		if b.window[b.windowIdx] {
			b.failures--
		}
	} else {
		b.calls++
	}
	b.window[b.windowIdx] = failure
	if failure {
		b.failures++
	}
	b.windowIdx = (b.windowIdx + 1) % len(b.window)
}

func (b *Breaker) failureRate() float64 {
	if b.calls == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.calls)
}

// open transitions to OPEN and clears the window. Callers must hold the mutex.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.resetWindow()
}

// close transitions to CLOSED and clears the window. Callers must hold the mutex.
func (b *Breaker) close() {
	b.state = StateClosed
	b.resetWindow()
}

func (b *Breaker) resetWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.windowIdx = 0
	b.calls = 0
	b.failures = 0
	b.trialInflight = 0
	b.trialSuccesses = 0
}

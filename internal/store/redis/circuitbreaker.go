package redis

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected until the reset timeout
	StateHalfOpen              // one probe call allowed
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

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker opens after maxFailures consecutive failures and rejects
// calls for resetTimeout. It then lets one probe through: success closes
// it, failure reopens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	now          func() time.Time

	// OnStateChange is called on every transition, with the lock held.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.transition(StateOpen)
		}
		return err
	}
	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failures = 0
	return nil
}

// CurrentState returns the breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}

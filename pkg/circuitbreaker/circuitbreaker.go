package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned without calling the protected function while the
// breaker is rejecting requests.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Requests fail immediately
	StateHalfOpen              // Probing whether the dependency recovered
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

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold    int           // Consecutive failures before opening
	SuccessThreshold    int           // Half-open successes needed to close again
	Timeout             time.Duration // Time spent open before probing
	MaxRequestsHalfOpen int           // Concurrent probes allowed while half-open

	// IsFailure decides whether an error counts against the dependency.
	// Errors it rejects are returned to the caller but recorded as successes.
	// Nil counts every error.
	IsFailure func(error) bool
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	config Config

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	halfOpenInFlight int
	lastFailureTime  time.Time
	stateChangeTime  time.Time

	onStateChange func(from, to State)
	now           func() time.Time
}

// New creates a new circuit breaker with the given configuration
func New(config Config) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if config.MaxRequestsHalfOpen < 1 {
		config.MaxRequestsHalfOpen = 1
	}
	return &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		stateChangeTime: time.Now(),
		now:             time.Now,
	}
}

// OnStateChange sets a callback invoked after every state transition, once
// the breaker lock is released.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn unless the breaker is open. fn's error is returned as is.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute runs fn through cb and returns its result.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	probe, err := cb.before()
	if err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	cb.after(probe, err)
	return result, err
}

// before admits or rejects a request. probe reports whether the request is
// one of the limited half-open probes.
func (cb *CircuitBreaker) before() (probe bool, err error) {
	cb.mu.Lock()
	var notify func()
	defer func() {
		cb.mu.Unlock()
		if notify != nil {
			notify()
		}
	}()

	if cb.state == StateOpen && cb.now().Sub(cb.stateChangeTime) >= cb.config.Timeout {
		notify = cb.transitionLocked(StateHalfOpen)
	}

	switch cb.state {
	case StateOpen:
		return false, ErrOpen
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.MaxRequestsHalfOpen {
			return false, fmt.Errorf("%w: half-open probe limit reached", ErrOpen)
		}
		cb.halfOpenInFlight++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) after(probe bool, err error) {
	cb.mu.Lock()
	var notify func()
	defer func() {
		cb.mu.Unlock()
		if notify != nil {
			notify()
		}
	}()

	if probe && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if err != nil && cb.countsAsFailure(err) {
		cb.failureCount++
		cb.successCount = 0
		cb.lastFailureTime = cb.now()

		switch {
		case cb.state == StateHalfOpen:
			notify = cb.transitionLocked(StateOpen)
		case cb.state == StateClosed && cb.failureCount >= cb.config.FailureThreshold:
			notify = cb.transitionLocked(StateOpen)
		}
		return
	}

	cb.failureCount = 0
	cb.successCount++
	if cb.state == StateHalfOpen && cb.successCount >= cb.config.SuccessThreshold {
		notify = cb.transitionLocked(StateClosed)
	}
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if cb.config.IsFailure == nil {
		return true
	}
	return cb.config.IsFailure(err)
}

// transitionLocked must be called with cb.mu held. It returns the state
// change notification, to be run once the lock is released.
func (cb *CircuitBreaker) transitionLocked(newState State) func() {
	if cb.state == newState {
		return nil
	}

	oldState := cb.state
	cb.state = newState
	cb.stateChangeTime = cb.now()
	cb.failureCount = 0
	cb.successCount = 0
	if newState != StateHalfOpen {
		cb.halfOpenInFlight = 0
	}

	if fn := cb.onStateChange; fn != nil {
		return func() { fn(oldState, newState) }
	}
	return nil
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats holds circuit breaker statistics
type Stats struct {
	State            State
	FailureCount     int
	SuccessCount     int
	HalfOpenInFlight int
	LastFailureTime  time.Time
	StateChangeTime  time.Time
}

// GetStats returns current circuit breaker statistics
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:            cb.state,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		HalfOpenInFlight: cb.halfOpenInFlight,
		LastFailureTime:  cb.lastFailureTime,
		StateChangeTime:  cb.stateChangeTime,
	}
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.transitionLocked(StateClosed)
	cb.mu.Unlock()
	if notify != nil {
		notify()
	}
}

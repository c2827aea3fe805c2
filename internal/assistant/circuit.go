package assistant

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker is refusing requests.
var ErrCircuitOpen = errors.New("assistant temporarily unavailable after repeated failures")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // requests allowed
	CircuitOpen                         // failures exceeded threshold, requests blocked
	CircuitHalfOpen                     // probing whether the endpoint recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           // failures that open the circuit (default: 5)
	SuccessThreshold int           // half-open successes that close it (default: 1)
	Timeout          time.Duration // wait before half-open (default: 30s)
	FailureWindow    time.Duration // window failures are counted in (default: 1m)
}

// DefaultCircuitBreakerConfig returns the default circuit breaker configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		FailureWindow:    time.Minute,
	}
}

// CircuitBreaker stops calling the completion endpoint after a burst of
// transient failures.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	log    *zap.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        []time.Time
	successes       int
	lastStateChange time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig, log *zap.Logger) *CircuitBreaker {
	if log == nil {
		log = zap.NewNop()
	}
	return &CircuitBreaker{
		config:          config,
		log:             log,
		now:             time.Now,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a request may be sent, moving an expired open
// circuit to half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastStateChange) >= cb.config.Timeout {
			cb.transitionTo(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// Record updates the breaker with the outcome of a request. Only retryable
// errors count as failures.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.recordSuccess()
	} else if isRetryableError(err) {
		cb.recordFailure(cb.now())
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	case CircuitClosed:
		cb.failures = cb.failures[:0]
	}
}

func (cb *CircuitBreaker) recordFailure(now time.Time) {
	cb.failures = append(cb.failures, now)

	cutoff := now.Add(-cb.config.FailureWindow)
	recent := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	cb.failures = recent

	switch cb.state {
	case CircuitClosed:
		if len(cb.failures) >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()
	cb.successes = 0
	if newState == CircuitClosed {
		cb.failures = cb.failures[:0]
	}

	cb.log.Info("assistant circuit state changed",
		zap.Stringer("from", oldState),
		zap.Stringer("to", newState),
	)
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = cb.failures[:0]
	cb.successes = 0
	cb.lastStateChange = cb.now()
}

package delivery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, calls allowed
	CircuitOpen                         // Too many failures, calls rejected
	CircuitHalfOpen                     // Letting a trial call through
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
	FailureThreshold int           // Failures within FailureWindow that open the circuit (default: 5)
	SuccessThreshold int           // Half-open successes needed to close (default: 1)
	Timeout          time.Duration // Open time before a trial call (default: 30s)
	FailureWindow    time.Duration // Window for counting failures (default: 1m)
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

// CircuitBreaker guards calls to one receiver. Only transient failures
// count against it; a rejected payload says nothing about availability.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        []time.Time
	successes       int
	lastStateChange time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		now:             time.Now,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn Func) error {
	if !cb.allow() {
		return &CircuitOpenError{Name: cb.name}
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastStateChange) < cb.config.Timeout {
			return false
		}
		cb.transitionTo(CircuitHalfOpen)
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil:
		cb.recordSuccess()
	case IsRetryable(err):
		cb.recordFailure(cb.now())
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= max(cb.config.SuccessThreshold, 1) {
			cb.transitionTo(CircuitClosed)
		}
	case CircuitClosed:
		cb.failures = cb.failures[:0]
	}
}

func (cb *CircuitBreaker) recordFailure(now time.Time) {
	cutoff := now.Add(-cb.config.FailureWindow)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = append(kept, now)

	switch cb.state {
	case CircuitClosed:
		if len(cb.failures) >= max(cb.config.FailureThreshold, 1) {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	if cb.state == state {
		return
	}
	old := cb.state
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.successes = 0
	if state == CircuitClosed {
		cb.failures = cb.failures[:0]
	}
	cb.logger.Warn("circuit breaker state changed",
		zap.String("target", cb.name),
		zap.Stringer("from", old),
		zap.Stringer("to", state))
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

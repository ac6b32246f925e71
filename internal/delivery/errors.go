// Package delivery makes outbound calls resilient: retries with exponential
// backoff for transient failures and a circuit breaker that stops hammering
// a receiver that keeps failing.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StatusError is a non-2xx answer from a receiver.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the receiver may accept a later attempt:
// 5xx and 429.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// CircuitOpenError is returned without calling the receiver while the
// breaker is open.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit breaker open, receiver temporarily unavailable", e.Name)
}

// IsRetryable classifies err as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var circuitErr *CircuitOpenError
	if errors.As(err, &circuitErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"eof",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

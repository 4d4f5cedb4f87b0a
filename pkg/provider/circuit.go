package provider

import (
	"sync/atomic"
	"time"
)

// circuitState is the standard three-state breaker (closed/open/half-open)
// guarding the Claude CLI subprocess adapter.
type circuitState int32

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker trips after threshold consecutive failures and refuses
// calls until resetTimeout has elapsed, at which point it goes half-open and
// lets calls through until the next RecordSuccess closes it or the next
// RecordFailure opens it again.
type CircuitBreaker struct {
	failures     int64
	lastFailure  int64
	threshold    int64
	resetTimeout int64 // seconds
	state        int32
}

// NewCircuitBreaker builds a breaker that opens after threshold failures
// and probes again resetTimeout seconds later.
func NewCircuitBreaker(threshold int64, resetTimeout int64) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, resetTimeout: resetTimeout}
}

// Allow reports whether a call should proceed.
func (cb *CircuitBreaker) Allow() bool {
	state := circuitState(atomic.LoadInt32(&cb.state))
	switch state {
	case circuitClosed:
		return true
	case circuitOpen:
		lastFail := atomic.LoadInt64(&cb.lastFailure)
		if time.Now().Unix()-lastFail > cb.resetTimeout {
			atomic.CompareAndSwapInt32(&cb.state, int32(circuitOpen), int32(circuitHalfOpen))
			return true
		}
		return false
	default: // half-open: calls pass until a success or failure is recorded
		return true
	}
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	atomic.StoreInt64(&cb.failures, 0)
	atomic.StoreInt32(&cb.state, int32(circuitClosed))
}

// RecordFailure counts a failure, opening the circuit once threshold is hit.
func (cb *CircuitBreaker) RecordFailure() {
	failures := atomic.AddInt64(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailure, time.Now().Unix())
	if failures >= cb.threshold {
		atomic.StoreInt32(&cb.state, int32(circuitOpen))
	}
}

// State reports the breaker's state as a status-endpoint-friendly string.
func (cb *CircuitBreaker) State() string {
	switch circuitState(atomic.LoadInt32(&cb.state)) {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

package creator

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive connect failures before opening
	SuccessThreshold int           // successes in half-open before closing
	Timeout          time.Duration // how long the breaker stays open
	HalfOpenLimit    int           // concurrent trial connects allowed while half-open
}

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed lets every connect through
	StateClosed CircuitState = iota
	// StateOpen fails connects without calling the database
	StateOpen
	// StateHalfOpen lets a limited number of trial connects through
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops a pool from hammering a database that refuses
// connections. It trips after FailureThreshold consecutive failures.
type CircuitBreaker struct {
	config BreakerConfig
	logger *zap.Logger

	state                int32
	consecutiveFailures  int32
	consecutiveSuccesses int32
	halfOpenCounter      int32
	rejected             atomic.Int64

	mu              sync.RWMutex
	lastStateChange time.Time
	nextRetryTime   time.Time
}

// BreakerState is a snapshot of a CircuitBreaker.
type BreakerState struct {
	State                string    `json:"state"`
	LastStateChange      time.Time `json:"last_state_change"`
	ConsecutiveFailures  int32     `json:"consecutive_failures"`
	ConsecutiveSuccesses int32     `json:"consecutive_successes"`
	Rejected             int64     `json:"rejected"`
	NextRetryTime        time.Time `json:"next_retry_time,omitempty"`
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.HalfOpenLimit <= 0 {
		config.HalfOpenLimit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		config:          config,
		logger:          logger.With(zap.String("component", "circuit_breaker")),
		state:           int32(StateClosed),
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a connect attempt may proceed.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		return true

	case StateOpen:
		cb.mu.RLock()
		shouldRetry := time.Now().After(cb.nextRetryTime)
		cb.mu.RUnlock()

		if shouldRetry {
			cb.transitionToHalfOpen()
			return cb.allowHalfOpen()
		}
		cb.rejected.Add(1)
		return false

	case StateHalfOpen:
		return cb.allowHalfOpen()

	default:
		return false
	}
}

// RecordSuccess records a successful connect.
func (cb *CircuitBreaker) RecordSuccess() {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)

	case StateHalfOpen:
		if atomic.AddInt32(&cb.consecutiveSuccesses, 1) >= int32(cb.config.SuccessThreshold) {
			cb.transitionToClosed()
		}
	}
}

// RecordFailure records a failed connect. Any failure while half-open
// reopens the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		if atomic.AddInt32(&cb.consecutiveFailures, 1) >= int32(cb.config.FailureThreshold) {
			cb.transitionToOpen()
		}

	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

func (cb *CircuitBreaker) allowHalfOpen() bool {
	if atomic.AddInt32(&cb.halfOpenCounter, 1) > int32(cb.config.HalfOpenLimit) {
		atomic.AddInt32(&cb.halfOpenCounter, -1)
		cb.rejected.Add(1)
		return false
	}
	return true
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateOpen)) &&
		!atomic.CompareAndSwapInt32(&cb.state, int32(StateClosed), int32(StateOpen)) {
		return
	}

	cb.lastStateChange = time.Now()
	cb.nextRetryTime = cb.lastStateChange.Add(cb.config.Timeout)
	atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt32(&cb.halfOpenCounter, 0)

	cb.logger.Warn("circuit breaker opened",
		zap.Time("retry_after", cb.nextRetryTime),
		zap.Int32("consecutive_failures", atomic.LoadInt32(&cb.consecutiveFailures)))
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)

		cb.logger.Info("circuit breaker half-open")
	}
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateClosed)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)

		cb.logger.Info("circuit breaker closed")
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt32(&cb.state))
}

// Snapshot returns the current state and counters.
func (cb *CircuitBreaker) Snapshot() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return BreakerState{
		State:                cb.State().String(),
		LastStateChange:      cb.lastStateChange,
		ConsecutiveFailures:  atomic.LoadInt32(&cb.consecutiveFailures),
		ConsecutiveSuccesses: atomic.LoadInt32(&cb.consecutiveSuccesses),
		Rejected:             cb.rejected.Load(),
		NextRetryTime:        cb.nextRetryTime,
	}
}

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/agentgrid/agentgrid/core"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState string

const (
	// StateClosed passes calls through; failures increment the counter.
	StateClosed BreakerState = "closed"
	// StateOpen rejects calls immediately until the recovery timeout passes.
	StateOpen BreakerState = "open"
	// StateHalfOpen admits exactly one trial call.
	StateHalfOpen BreakerState = "half-open"
)

// BreakerOptions configures a CircuitBreaker.
type BreakerOptions struct {
	// FailureThreshold trips the breaker once consecutive failures reach it.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before admitting a
	// trial call.
	RecoveryTimeout time.Duration
}

// WithFailureThreshold sets the consecutive-failure trip point.
func WithFailureThreshold(n int) func(o *BreakerOptions) {
	return func(o *BreakerOptions) { o.FailureThreshold = n }
}

// WithRecoveryTimeout sets the open-state cool-down.
func WithRecoveryTimeout(d time.Duration) func(o *BreakerOptions) {
	return func(o *BreakerOptions) { o.RecoveryTimeout = d }
}

// CircuitBreaker protects a single call-site. State transitions are the sole
// authority for admitting or rejecting calls.
type CircuitBreaker struct {
	mu sync.Mutex

	name      string
	threshold int
	recovery  time.Duration

	state         BreakerState
	failureCount  int
	nextAttempt   time.Time
	trialInFlight bool

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named call-site.
func NewCircuitBreaker(name string, optFns ...func(o *BreakerOptions)) *CircuitBreaker {
	opts := BreakerOptions{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &CircuitBreaker{
		name:      name,
		threshold: opts.FailureThreshold,
		recovery:  opts.RecoveryTimeout,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Execute runs op under the breaker. Open-state rejections carry the
// circuit_open error kind so callers can apply their own backoff.
func (cb *CircuitBreaker) Execute(ctx context.Context, op Operation) (any, error) {
	if err := cb.admit(); err != nil {
		return nil, err
	}

	result, err := op(ctx)
	cb.settle(err == nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// admit decides whether a call may proceed and performs the open → half-open
// transition once the recovery timeout has passed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.now().Before(cb.nextAttempt) {
			return core.NewCircuitOpenError(cb.name, cb.nextAttempt)
		}
		cb.state = StateHalfOpen
		cb.trialInFlight = true
		return nil

	default: // StateHalfOpen
		if cb.trialInFlight {
			return core.NewCircuitOpenError(cb.name, cb.nextAttempt)
		}
		cb.trialInFlight = true
		return nil
	}
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
		if success {
			cb.state = StateClosed
			cb.failureCount = 0
		} else {
			cb.state = StateOpen
			cb.nextAttempt = cb.now().Add(cb.recovery)
		}
		return
	}

	if success {
		cb.failureCount = 0
		return
	}

	cb.failureCount++
	if cb.failureCount >= cb.threshold {
		cb.state = StateOpen
		cb.nextAttempt = cb.now().Add(cb.recovery)
	}
}

// State returns the current state machine position.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the consecutive failure counter.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// Reset forces the breaker back to closed, clearing the failure counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.trialInFlight = false
}

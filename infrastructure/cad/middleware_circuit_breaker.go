package cad

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-cadmark/internal/ports"
)

// CircuitBreakerState represents the current state of a circuit breaker.
// The numeric value is exported as the cad_circuit_state gauge.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed allows all calls through.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects calls until the cooldown expires.
	StateOpen
	// StateHalfOpen lets a single trial call through.
	StateHalfOpen
)

// String returns the state name.
func (s CircuitBreakerState) String() string {
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

// CircuitBreaker stops calling a CAD tool that keeps failing. After
// maxFailures consecutive failures it opens and rejects calls with
// ErrCircuitOpen for the cooldown, then lets one trial call through.
//
// The lock is not held while the wrapped call runs.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        CircuitBreakerState
	failureCount int
	maxFailures  int
	cooldown     time.Duration
	openedAt     time.Time
	trial        bool
	now          func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker that opens after
// maxFailures consecutive failures and stays open for cooldown. A
// maxFailures below one is treated as one.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Call runs fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without calling fn. The error from fn is returned as is
// and decides whether the breaker closes or counts another failure.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.report(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trial = true
		return nil
	case StateHalfOpen:
		if cb.trial {
			return ErrCircuitOpen
		}
		cb.trial = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) report(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trial = false
	if err == nil {
		cb.failureCount = 0
		cb.state = StateClosed
		return
	}
	cb.failureCount++
	if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current state. An open breaker whose cooldown has
// passed still reports StateOpen until the next call is admitted.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerMiddleware fails calls fast after maxFailures consecutive
// errors. Every middleware returned by one call shares a single breaker, so
// wrapping both exporter and kernel with it trips them together. collector
// may be nil.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration, collector ports.MetricsCollector) Middleware {
	return CircuitBreakerMiddlewareWith(NewCircuitBreaker(maxFailures, cooldown), collector)
}

// CircuitBreakerMiddlewareWith wraps calls with an existing breaker, which
// lets callers inspect its State or share it across chains. Rejections are
// counted as cad_circuit_rejections_total and the state is published as the
// cad_circuit_state gauge after every call. A nil collector records
// nothing.
func CircuitBreakerMiddlewareWith(cb *CircuitBreaker, collector ports.MetricsCollector) Middleware {
	if collector == nil {
		collector = ports.NopMetrics{}
	}
	return func(next Call) Call {
		return func(ctx context.Context, req Request) error {
			err := cb.Call(func() error { return next(ctx, req) })

			labels := map[string]string{"op": req.Op}
			if errors.Is(err, ErrCircuitOpen) {
				collector.RecordCounter("cad_circuit_rejections_total", 1, labels)
			}
			collector.RecordGauge("cad_circuit_state", float64(cb.State()), labels)
			return err
		}
	}
}

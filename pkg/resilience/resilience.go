package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"consultcall-backend/pkg/logger"
	"consultcall-backend/pkg/metrics"
)

// ErrCircuitOpen is returned without calling the protected operation while
// the circuit is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

func (s CircuitBreakerState) gauge() int {
	switch s {
	case CircuitBreakerHalfOpen:
		return 1
	case CircuitBreakerOpen:
		return 2
	default:
		return 0
	}
}

// Config tunes a CircuitBreaker
type Config struct {
	// FailureThreshold consecutive failures open the circuit
	FailureThreshold int
	// OpenTimeout is how long the circuit stays open before letting probes through
	OpenTimeout time.Duration
	// HalfOpenProbes successful probes close the circuit again
	HalfOpenProbes int
}

// CircuitBreaker fails fast while a dependency keeps failing. It never retries.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenSuccesses   int

	isFailure func(error) bool
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a CircuitBreaker
type Option func(*CircuitBreaker)

// WithFailurePredicate decides which errors count against the circuit.
// By default every error except context.Canceled does.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) { cb.isFailure = fn }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// NewCircuitBreaker creates a closed circuit breaker. m may be nil.
func NewCircuitBreaker(name string, cfg Config, m *metrics.Metrics, opts ...Option) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}

	cb := &CircuitBreaker{
		name:      name,
		cfg:       cfg,
		state:     CircuitBreakerClosed,
		isFailure: defaultFailure,
		metrics:   m,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func defaultFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if err := cb.allow(operation); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(operation, err)
	return err
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitBreakerOpen {
		return nil
	}

	if cb.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.setStateLocked(CircuitBreakerHalfOpen)
		cb.halfOpenSuccesses = 0
		logger.Warn("Circuit breaker HALF-OPEN - letting probes through",
			zap.String("breaker", cb.name),
			zap.String("operation", operation))
		return nil
	}

	if cb.metrics != nil {
		cb.metrics.RecordStorageRequest(operation, "circuit_breaker_open")
	}
	return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
}

func (cb *CircuitBreaker) record(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.isFailure(err) {
		if cb.metrics != nil {
			cb.metrics.RecordStorageRequest(operation, "success")
		}
		switch cb.state {
		case CircuitBreakerHalfOpen:
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.cfg.HalfOpenProbes {
				cb.consecutiveFailures = 0
				cb.setStateLocked(CircuitBreakerClosed)
				logger.Info("Circuit breaker CLOSED - dependency recovered",
					zap.String("breaker", cb.name))
			}
		default:
			cb.consecutiveFailures = 0
		}
		return
	}

	if cb.metrics != nil {
		cb.metrics.RecordStorageRequest(operation, "failure")
		cb.metrics.RecordStorageError(operation, classifyError(err))
	}

	cb.consecutiveFailures++
	if cb.state == CircuitBreakerHalfOpen || cb.consecutiveFailures >= cb.cfg.FailureThreshold {
		cb.openedAt = cb.now()
		if cb.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker OPEN - too many consecutive failures",
				zap.String("breaker", cb.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", cb.consecutiveFailures),
				zap.Error(err))
		}
		cb.setStateLocked(CircuitBreakerOpen)
	}
}

func (cb *CircuitBreaker) setStateLocked(state CircuitBreakerState) {
	cb.state = state
	if cb.metrics != nil {
		cb.metrics.SetStorageBreakerState(state.gauge())
	}
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable") ||
		strings.Contains(errMsg, "broken pipe") || strings.Contains(errMsg, "connection reset"):
		return "network"
	case strings.Contains(errMsg, "no such host"):
		return "dns"
	case strings.Contains(errMsg, "too many clients") || strings.Contains(errMsg, "pool"):
		return "pool"
	default:
		return "unknown"
	}
}

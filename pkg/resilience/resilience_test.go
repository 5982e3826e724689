package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultcall-backend/pkg/metrics"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

var errDown = errors.New("dial tcp 10.0.0.5:26257: connection refused")

func newBreaker(c *clock) *CircuitBreaker {
	return NewCircuitBreaker("test", Config{FailureThreshold: 3, OpenTimeout: 10 * time.Second, HalfOpenProbes: 2},
		metrics.NewMetrics("test"), WithClock(c.now))
}

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newBreaker(c)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, "op", fail), errDown)
	}
	require.NoError(t, cb.Execute(ctx, "op", succeed), "a success resets the count")
	assert.Equal(t, CircuitBreakerClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, "op", fail), errDown)
	}
	assert.Equal(t, CircuitBreakerOpen, cb.State())

	called := false
	err := cb.Execute(ctx, "op", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newBreaker(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, "op", fail)
	}
	require.Equal(t, CircuitBreakerOpen, cb.State())

	c.advance(10 * time.Second)
	require.NoError(t, cb.Execute(ctx, "op", succeed))
	assert.Equal(t, CircuitBreakerHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, "op", succeed))
	assert.Equal(t, CircuitBreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newBreaker(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, "op", fail)
	}
	c.advance(11 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, "op", fail), errDown)
	assert.Equal(t, CircuitBreakerOpen, cb.State())

	c.advance(5 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, "op", succeed), ErrCircuitOpen, "the open window restarts")
}

func TestCircuitBreaker_IgnoredErrors(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	notFound := errors.New("not found")
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 1}, nil,
		WithClock(c.now),
		WithFailurePredicate(func(err error) bool { return err != nil && !errors.Is(err, notFound) }))

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), "op", func(context.Context) error { return notFound }), notFound)
	}
	assert.Equal(t, CircuitBreakerClosed, cb.State())

	// Cancellations never count with the default predicate either
	def := NewCircuitBreaker("test", Config{FailureThreshold: 1}, nil)
	_ = def.Execute(context.Background(), "op", func(context.Context) error { return context.Canceled })
	assert.Equal(t, CircuitBreakerClosed, def.State())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "timeout", classifyError(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.Equal(t, "network", classifyError(errDown))
	assert.Equal(t, "dns", classifyError(errors.New("lookup db: no such host")))
	assert.Equal(t, "unknown", classifyError(errors.New("syntax error")))
}

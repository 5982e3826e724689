package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "consultcall-backend/pkg/errors"
	"consultcall-backend/pkg/logger"
	"consultcall-backend/pkg/metrics"
	"consultcall-backend/pkg/response"
)

// CounterStore is the slice of the Redis client the limiter needs
type CounterStore interface {
	SafeIncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error)
	IsDegraded() bool
}

// RateLimiter is a fixed-window limiter keyed by user (or client IP before
// authentication). Counters live in Redis; while Redis is degraded the
// limiter falls back to per-process counters.
type RateLimiter struct {
	store    CounterStore
	fallback *InMemoryRateLimiter
	metrics  *metrics.Metrics
	requests int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter. store and m may be nil; a nil
// store limits in memory only.
func NewRateLimiter(store CounterStore, requests int, window time.Duration, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		store:    store,
		fallback: NewInMemoryRateLimiter(),
		metrics:  m,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, exists := c.Get(ContextUserID); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		}

		endpoint := c.FullPath()
		if rl.metrics != nil {
			rl.metrics.RecordRateLimitHit(endpoint)
		}

		now := rl.now()
		windowStart := now.Truncate(rl.window)
		resetAt := windowStart.Add(rl.window).Unix()
		count := rl.count(c.Request.Context(), identifier, windowStart)

		remaining := rl.requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if count > int64(rl.requests) {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitBlocked(endpoint)
			}
			c.Header("Retry-After", strconv.FormatInt(resetAt-now.Unix(), 10))
			response.FromError(c, apperrors.RateLimitExceededError())
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) count(ctx context.Context, identifier string, windowStart time.Time) int64 {
	if rl.store != nil && !rl.store.IsDegraded() {
		key := fmt.Sprintf("ratelimit:%s:%d", identifier, windowStart.Unix())
		count, err := rl.store.SafeIncrWithExpire(ctx, key, rl.window)
		if err == nil {
			return count
		}
		logger.FromContext(ctx).Warn("Redis rate limit check failed, using in-memory counters",
			zap.String("identifier", identifier),
			zap.Error(err))
	}
	return rl.fallback.Incr(identifier, windowStart)
}

// InMemoryRateLimiter provides in-memory rate limiting as fallback when Redis is degraded
type InMemoryRateLimiter struct {
	mu     sync.Mutex
	limits map[string]*userRateLimit
}

type userRateLimit struct {
	count       int64
	windowStart time.Time
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		limits: make(map[string]*userRateLimit),
	}
}

// Incr counts one request for identifier in the window starting at
// windowStart and returns the count so far. Entries from older windows
// are dropped as they are met.
func (im *InMemoryRateLimiter) Incr(identifier string, windowStart time.Time) int64 {
	im.mu.Lock()
	defer im.mu.Unlock()

	limiter, exists := im.limits[identifier]
	if !exists || limiter.windowStart.Before(windowStart) {
		im.limits[identifier] = &userRateLimit{count: 1, windowStart: windowStart}
		im.evictLocked(windowStart)
		return 1
	}
	limiter.count++
	return limiter.count
}

func (im *InMemoryRateLimiter) evictLocked(windowStart time.Time) {
	for id, l := range im.limits {
		if l.windowStart.Before(windowStart) {
			delete(im.limits, id)
		}
	}
}

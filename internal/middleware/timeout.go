package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consultcall-backend/pkg/logger"
	"consultcall-backend/pkg/metrics"
	"consultcall-backend/pkg/response"
)

// TimeoutMiddleware bounds every request context with a deadline. Storage
// calls observe it; the WebSocket route must not be mounted behind it.
type TimeoutMiddleware struct {
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewTimeoutMiddleware creates a new timeout middleware. m may be nil.
func NewTimeoutMiddleware(timeout time.Duration, m *metrics.Metrics) *TimeoutMiddleware {
	return &TimeoutMiddleware{timeout: timeout, metrics: m}
}

// Middleware returns a Gin middleware for timeout protection
func (tm *TimeoutMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), tm.timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}

		if tm.metrics != nil {
			tm.metrics.RecordRequestTimeout(c.Request.Method, c.FullPath())
		}
		logger.FromContext(ctx).Warn("Request timed out",
			zap.Duration("timeout", tm.timeout),
			zap.Duration("duration", time.Since(start)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path))

		// The handler may already have answered with a storage error
		if !c.Writer.Written() {
			response.Error(c, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "Request timeout")
			c.Abort()
		}
	}
}

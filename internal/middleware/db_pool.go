package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "consultcall-backend/pkg/errors"
	"consultcall-backend/pkg/logger"
	"consultcall-backend/pkg/metrics"
	"consultcall-backend/pkg/response"
)

// PoolStats reports database pool occupancy
type PoolStats interface {
	PoolUsage() (acquired, max int32)
}

// DBPoolLimiter sheds requests with 503 once the pool is nearly exhausted,
// so a slow database turns into fast failures instead of a request pile-up.
type DBPoolLimiter struct {
	pool      PoolStats
	threshold float64
	metrics   *metrics.Metrics
}

// NewDBPoolLimiter creates a limiter that trips at threshold (0..1] usage. m may be nil.
func NewDBPoolLimiter(pool PoolStats, threshold float64, m *metrics.Metrics) *DBPoolLimiter {
	return &DBPoolLimiter{pool: pool, threshold: threshold, metrics: m}
}

// Usage returns acquired connections over the pool maximum
func (dpl *DBPoolLimiter) Usage() float64 {
	acquired, max := dpl.pool.PoolUsage()
	if max == 0 {
		return 0
	}
	return float64(acquired) / float64(max)
}

// Middleware returns a Gin middleware for database connection pool protection
func (dpl *DBPoolLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		usage := dpl.Usage()
		if dpl.metrics != nil {
			dpl.metrics.SetDBPoolUsage(usage)
		}

		if usage >= dpl.threshold {
			logger.FromContext(c.Request.Context()).Warn("Database connection pool saturated",
				zap.Float64("pool_usage", usage),
				zap.String("path", c.Request.URL.Path))
			if dpl.metrics != nil {
				dpl.metrics.RecordDBPoolRejected()
			}
			response.FromError(c, apperrors.ServiceUnavailableError("Service temporarily unavailable"))
			c.Abort()
			return
		}

		c.Next()
	}
}

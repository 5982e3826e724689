package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service.
// Each instance owns its registry, so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
	httpRequestTimeouts  *prometheus.CounterVec

	// Redis Metrics
	redisDegraded    prometheus.Gauge
	redisHealthCheck *prometheus.CounterVec

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Signaling Metrics
	signalingRooms      prometheus.Gauge
	signalingDeliveries *prometheus.CounterVec

	// Call Metrics
	callTransitionsTotal *prometheus.CounterVec
	callTransitionErrors *prometheus.CounterVec
	callsDuration        prometheus.Histogram
	callReconnectsTotal  prometheus.Counter

	// Rate Limiting Metrics
	rateLimitHitsTotal    *prometheus.CounterVec
	rateLimitBlockedTotal *prometheus.CounterVec

	// Database Pool Metrics
	dbPoolUsage    prometheus.Gauge
	dbPoolRejected prometheus.Counter

	// Storage Circuit Breaker Metrics
	storageRequestsTotal *prometheus.CounterVec
	storageErrorsTotal   *prometheus.CounterVec
	storageBreakerState  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		httpRequestTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_request_timeouts_total",
				Help:        "Total number of HTTP requests that exceeded their deadline",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint"},
		),

		redisDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "redis_degraded_mode",
				Help:        "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
				ConstLabels: labels,
			},
		),
		redisHealthCheck: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "redis_health_check_total",
				Help:        "Total number of Redis health checks",
				ConstLabels: labels,
			},
			[]string{"result"},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active signaling WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of signaling WebSocket frames",
				ConstLabels: labels,
			},
			[]string{"event", "direction"},
		),
		websocketErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of signaling WebSocket errors",
				ConstLabels: labels,
			},
			[]string{"error_type"},
		),

		signalingRooms: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "signaling_rooms_active",
				Help:        "Number of signaling rooms with at least one member",
				ConstLabels: labels,
			},
		),
		signalingDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_deliveries_total",
				Help:        "Relay deliveries by event and outcome",
				ConstLabels: labels,
			},
			[]string{"event", "outcome"},
		),

		callTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_transitions_total",
				Help:        "Total number of applied call state transitions",
				ConstLabels: labels,
			},
			[]string{"action", "status"},
		),
		callTransitionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_transition_errors_total",
				Help:        "Total number of rejected call state transitions",
				ConstLabels: labels,
			},
			[]string{"action", "reason"},
		),
		callsDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of ended calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{30, 60, 120, 300, 600, 900, 1800, 3600, 7200},
			},
		),
		callReconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_reconnects_total",
				Help:        "Total number of explicit call resumes",
				ConstLabels: labels,
			},
		),

		rateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_hits_total",
				Help:        "Total number of rate limit checks",
				ConstLabels: labels,
			},
			[]string{"endpoint"},
		),
		rateLimitBlockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_blocked_total",
				Help:        "Total number of requests blocked by rate limiting",
				ConstLabels: labels,
			},
			[]string{"endpoint"},
		),

		dbPoolUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "db_pool_usage_ratio",
				Help:        "Acquired database connections over the pool maximum",
				ConstLabels: labels,
			},
		),
		dbPoolRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "db_pool_rejected_total",
				Help:        "Requests shed because the database pool was saturated",
				ConstLabels: labels,
			},
		),

		storageRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "storage_requests_total",
				Help:        "Call store operations by outcome",
				ConstLabels: labels,
			},
			[]string{"operation", "status"},
		),
		storageErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "storage_errors_total",
				Help:        "Call store failures by error class",
				ConstLabels: labels,
			},
			[]string{"operation", "error_type"},
		),
		storageBreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "storage_circuit_breaker_state",
				Help:        "State of the call store circuit breaker (0=closed, 1=half_open, 2=open)",
				ConstLabels: labels,
			},
		),
	}
}

// GetRegistry returns the registry backing this instance
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// HTTP Request Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordRequestTimeout records a request that hit the timeout middleware
func (m *Metrics) RecordRequestTimeout(method, endpoint string) {
	m.httpRequestTimeouts.WithLabelValues(method, endpoint).Inc()
}

// Redis Metrics Methods

// SetRedisDegraded reports whether Redis is currently bypassed
func (m *Metrics) SetRedisDegraded(degraded bool) {
	if degraded {
		m.redisDegraded.Set(1)
		return
	}
	m.redisDegraded.Set(0)
}

// RecordRedisHealthCheck records a health probe outcome
func (m *Metrics) RecordRedisHealthCheck(healthy bool) {
	if healthy {
		m.redisHealthCheck.WithLabelValues("ok").Inc()
		return
	}
	m.redisHealthCheck.WithLabelValues("failed").Inc()
}

// WebSocket Metrics Methods

// IncWebSocketConnections tracks a new socket
func (m *Metrics) IncWebSocketConnections() {
	m.websocketConnections.Inc()
}

// DecWebSocketConnections tracks a closed socket
func (m *Metrics) DecWebSocketConnections() {
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket frame
func (m *Metrics) RecordWebSocketMessage(event, direction string) {
	m.websocketMessagesTotal.WithLabelValues(event, direction).Inc()
}

// RecordWebSocketError records a WebSocket error
func (m *Metrics) RecordWebSocketError(errType string) {
	m.websocketErrorsTotal.WithLabelValues(errType).Inc()
}

// Signaling Metrics Methods

// SetSignalingRooms sets the number of live rooms
func (m *Metrics) SetSignalingRooms(count int) {
	m.signalingRooms.Set(float64(count))
}

// RecordSignalingDelivery records one relay send and its outcome (sent, dropped)
func (m *Metrics) RecordSignalingDelivery(event, outcome string) {
	m.signalingDeliveries.WithLabelValues(event, outcome).Inc()
}

// Call Metrics Methods

// RecordCallTransition records an applied transition and the resulting status
func (m *Metrics) RecordCallTransition(action, status string) {
	m.callTransitionsTotal.WithLabelValues(action, status).Inc()
}

// RecordCallTransitionError records a rejected transition
func (m *Metrics) RecordCallTransitionError(action, reason string) {
	m.callTransitionErrors.WithLabelValues(action, reason).Inc()
}

// RecordCallDuration records the duration of an ended call
func (m *Metrics) RecordCallDuration(seconds int) {
	m.callsDuration.Observe(float64(seconds))
}

// RecordCallReconnect records an explicit resume
func (m *Metrics) RecordCallReconnect() {
	m.callReconnectsTotal.Inc()
}

// Rate Limiting Metrics Methods

// RecordRateLimitHit records a rate limit check
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.rateLimitHitsTotal.WithLabelValues(endpoint).Inc()
}

// RecordRateLimitBlocked records a blocked request
func (m *Metrics) RecordRateLimitBlocked(endpoint string) {
	m.rateLimitBlockedTotal.WithLabelValues(endpoint).Inc()
}

// Database Pool Metrics Methods

// SetDBPoolUsage records the current pool usage ratio
func (m *Metrics) SetDBPoolUsage(ratio float64) {
	m.dbPoolUsage.Set(ratio)
}

// RecordDBPoolRejected counts a request shed for pool pressure
func (m *Metrics) RecordDBPoolRejected() {
	m.dbPoolRejected.Inc()
}

// Storage Circuit Breaker Metrics Methods

// RecordStorageRequest counts a call store operation by outcome
func (m *Metrics) RecordStorageRequest(operation, status string) {
	m.storageRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStorageError counts a failed call store operation
func (m *Metrics) RecordStorageError(operation, errType string) {
	m.storageErrorsTotal.WithLabelValues(operation, errType).Inc()
}

// SetStorageBreakerState records the breaker state (0=closed, 1=half_open, 2=open)
func (m *Metrics) SetStorageBreakerState(state int) {
	m.storageBreakerState.Set(float64(state))
}

// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 54 * time.Second

	// WebSocketPongWait is how long a connection may stay silent before it is dropped.
	// Must be greater than WebSocketPingInterval.
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait is the deadline for a single frame write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// StorageCallTimeout bounds best-effort writes issued off the request path
	StorageCallTimeout = 5 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// TokenIssuer and TokenAudience are stamped into and checked on every token
	TokenIssuer   = "consultcall-auth"
	TokenAudience = "consultcall-api"
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Audit log constants
const (
	// AuditLogRetention is the duration audit logs are retained
	AuditLogRetention = 90 * 24 * time.Hour // 90 days
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)

// Call-related constants
const (
	// MaxTransitionAttempts bounds the optimistic read-modify-write retries of one transition
	MaxTransitionAttempts = 3

	// MaxResumeNoteLength caps the note stored with a resume
	MaxResumeNoteLength = 500

	// MaxRoomIDLength matches the rooms.id column width
	MaxRoomIDLength = 64

	// GeneratedRoomIDPrefix prefixes room ids minted on request
	GeneratedRoomIDPrefix = "room-"
)

// Signaling constants
const (
	// SignalingSendBuffer is the per-connection outbound queue length
	SignalingSendBuffer = 256

	// SignalingMaxMessageSize bounds an inbound frame (SDP offers can be large)
	SignalingMaxMessageSize = 64 * 1024

	// DefaultMaxSignalingConnections caps concurrent signaling sockets
	DefaultMaxSignalingConnections = 1000
)

// Doctor availability constants
const (
	// AvailabilityTTL is how long an availability flag survives without refresh
	AvailabilityTTL = 10 * time.Minute
)

// Load shedding constants
const (
	// DBPoolShedThreshold is the pool usage ratio at which REST requests get 503
	DBPoolShedThreshold = 0.9
)

// Storage circuit breaker constants
const (
	// StorageBreakerFailureThreshold consecutive store failures open the breaker
	StorageBreakerFailureThreshold = 3

	// StorageBreakerOpenTimeout is how long the breaker rejects before probing
	StorageBreakerOpenTimeout = 10 * time.Second

	// StorageBreakerHalfOpenProbes successful probes close the breaker
	StorageBreakerHalfOpenProbes = 3
)

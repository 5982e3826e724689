package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"consultcall-backend/pkg/constants"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	EventCallRequest AuditEventType = "call_request"
	EventCallClaim   AuditEventType = "call_claim"
	EventCallStart   AuditEventType = "call_start"
	EventCallResume  AuditEventType = "call_resume"
	EventCallEnd     AuditEventType = "call_end"

	EventAvailabilityChange AuditEventType = "availability_change"
)

// AuditEvent represents an audit log entry
type AuditEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	EventType AuditEventType `json:"event_type"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	Success   bool           `json:"success"`
	ErrorCode string         `json:"error_code,omitempty"`
	Details   string         `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// listStore is the slice of the Redis client audit needs
type listStore interface {
	SafeLPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	SafeExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// AuditLogger appends events to a per-day Redis list
type AuditLogger struct {
	store listStore
	now   func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(store listStore) *AuditLogger {
	return &AuditLogger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Key returns the list holding events of the given day
func Key(day time.Time) string {
	return fmt.Sprintf("audit:events:%s", day.UTC().Format("2006-01-02"))
}

// Log logs an audit event
func (al *AuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	event.Timestamp = al.now()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	key := Key(event.Timestamp)
	if err := al.store.SafeLPush(ctx, key, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}

	if err := al.store.SafeExpire(ctx, key, constants.AuditLogRetention).Err(); err != nil {
		return fmt.Errorf("failed to set audit log expiry: %w", err)
	}

	return nil
}

// LogCallEvent records a call transition attempt by userID
func (al *AuditLogger) LogCallEvent(ctx context.Context, eventType AuditEventType, callID, userID uuid.UUID, status string) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: eventType,
		Resource:  "call:" + callID.String(),
		Action:    status,
		Success:   true,
	})
}

// LogAvailabilityChange records a doctor toggling availability
func (al *AuditLogger) LogAvailabilityChange(ctx context.Context, doctorID uuid.UUID, available bool) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &doctorID,
		EventType: EventAvailabilityChange,
		Resource:  "doctor:" + doctorID.String(),
		Action:    fmt.Sprintf("is_available=%t", available),
		Success:   true,
	})
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a consultation call
type CallStatus string

const (
	CallStatusWaiting      CallStatus = "waiting"
	CallStatusAssigned     CallStatus = "assigned"
	CallStatusRinging      CallStatus = "ringing"
	CallStatusInProgress   CallStatus = "in_progress"
	CallStatusReconnecting CallStatus = "reconnecting"
	CallStatusEnded        CallStatus = "ended"
	CallStatusCancelled    CallStatus = "cancelled"
)

// AllCallStatuses lists every state in lifecycle order
var AllCallStatuses = []CallStatus{
	CallStatusWaiting,
	CallStatusAssigned,
	CallStatusRinging,
	CallStatusInProgress,
	CallStatusReconnecting,
	CallStatusEnded,
	CallStatusCancelled,
}

// IsTerminal reports whether no further progress is expected from s
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusCancelled
}

// IsValid reports whether s is one of the known states
func (s CallStatus) IsValid() bool {
	for _, known := range AllCallStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Call represents a patient/doctor consultation.
// Maps to CockroachDB calls table
type Call struct {
	ID              uuid.UUID  `json:"call_id" db:"id"`
	RoomID          string     `json:"room_id" db:"room_id"`
	PatientID       uuid.UUID  `json:"patient_id" db:"patient_id"`
	DoctorID        *uuid.UUID `json:"doctor_id,omitempty" db:"doctor_id"`
	Status          CallStatus `json:"status" db:"status"`
	RequestedAt     time.Time  `json:"requested_at" db:"requested_at"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty" db:"assigned_at"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	LastResumeAt    *time.Time `json:"last_resume_at,omitempty" db:"last_resume_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	TotalReconnects int        `json:"total_reconnects" db:"total_reconnects"`
	DurationSeconds int        `json:"duration_seconds" db:"duration_seconds"`
	Metadata        Metadata   `json:"metadata" db:"meta"`
	Version         int        `json:"-" db:"version"`
}

// NewCall builds a waiting call for patientID in roomID
func NewCall(patientID uuid.UUID, roomID string, metadata Metadata, now time.Time) *Call {
	return &Call{
		ID:          uuid.New(),
		RoomID:      roomID,
		PatientID:   patientID,
		Status:      CallStatusWaiting,
		RequestedAt: now,
		Metadata:    metadata,
	}
}

// HasParticipant reports whether userID is the patient or the assigned doctor
func (c *Call) HasParticipant(userID uuid.UUID) bool {
	if c.PatientID == userID {
		return true
	}
	return c.DoctorID != nil && *c.DoctorID == userID
}

// Clone returns a deep copy, so stores never share mutable state with callers
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	out := *c
	out.DoctorID = cloneUUID(c.DoctorID)
	out.AssignedAt = cloneTime(c.AssignedAt)
	out.StartedAt = cloneTime(c.StartedAt)
	out.LastResumeAt = cloneTime(c.LastResumeAt)
	out.EndedAt = cloneTime(c.EndedAt)
	out.Metadata = c.Metadata.Clone()
	return &out
}

// StatusAggregate holds store-side sums for one status; the call service turns
// these into averages.
type StatusAggregate struct {
	Status         CallStatus
	Count          int64
	DurationSum    int64 // over calls with duration > 0
	DurationCount  int64
	ReconnectSum   int64 // over calls with reconnects > 0
	ReconnectCount int64
}

// StatusMetrics is the per-status part of a metrics snapshot
type StatusMetrics struct {
	Count              int64   `json:"count"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	AvgReconnects      float64 `json:"avg_reconnects"`
}

// CallMetrics is a point-in-time summary of all calls
type CallMetrics struct {
	TotalCalls         int64                        `json:"total_calls"`
	Waiting            int64                        `json:"waiting"`
	InProgress         int64                        `json:"in_progress"`
	Ended              int64                        `json:"ended"`
	AvgDurationSeconds float64                      `json:"avg_duration_seconds"`
	AvgReconnects      float64                      `json:"avg_reconnects"`
	ByStatus           map[CallStatus]StatusMetrics `json:"by_status"`
	GeneratedAt        time.Time                    `json:"generated_at"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

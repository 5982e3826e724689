package domain

import (
	"time"

	"github.com/google/uuid"
)

// Room is the durable anchor for a call's signaling room.
// Maps to CockroachDB rooms table
type Room struct {
	ID        string    `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Active    bool      `json:"active" db:"active"`
}

// Participant records one signaling connection's stay in a room.
// Maps to CockroachDB participants table
type Participant struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	RoomID       string     `json:"room_id" db:"room_id"`
	ConnectionID string     `json:"connection_id" db:"connection_id"`
	UserID       *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	JoinedAt     time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty" db:"left_at"`
}

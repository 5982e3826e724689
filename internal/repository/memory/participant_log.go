package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"consultcall-backend/internal/domain"
)

// ParticipantLog records signaling joins and leaves in memory
type ParticipantLog struct {
	mu           sync.Mutex
	participants []domain.Participant
}

// NewParticipantLog creates an empty participant log
func NewParticipantLog() *ParticipantLog {
	return &ParticipantLog{}
}

// RecordJoin appends an open participant entry
func (l *ParticipantLog) RecordJoin(_ context.Context, roomID, connectionID string, userID *uuid.UUID, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.participants = append(l.participants, domain.Participant{
		ID:           uuid.New(),
		RoomID:       roomID,
		ConnectionID: connectionID,
		UserID:       userID,
		JoinedAt:     at,
	})
	return nil
}

// RecordLeave closes the open entries of connectionID in roomID
func (l *ParticipantLog) RecordLeave(_ context.Context, roomID, connectionID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.participants {
		p := &l.participants[i]
		if p.RoomID == roomID && p.ConnectionID == connectionID && p.LeftAt == nil {
			left := at
			p.LeftAt = &left
		}
	}
	return nil
}

// Entries returns a snapshot of the log
func (l *ParticipantLog) Entries() []domain.Participant {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]domain.Participant(nil), l.participants...)
}

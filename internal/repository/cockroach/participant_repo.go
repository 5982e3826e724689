package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"consultcall-backend/internal/domain"
)

// Expected schema:
//
//	CREATE TABLE participants (
//	    id            UUID PRIMARY KEY,
//	    room_id       VARCHAR(64) NOT NULL,
//	    connection_id VARCHAR(64) NOT NULL,
//	    user_id       UUID,
//	    joined_at     TIMESTAMPTZ NOT NULL,
//	    left_at       TIMESTAMPTZ,
//	    INDEX participants_conn_idx (connection_id, room_id)
//	);
//
// room_id has no foreign key: peers may signal in rooms that were never
// anchored by a call request.

// ParticipantRepository keeps the signaling join/leave log
type ParticipantRepository struct {
	pool *pgxpool.Pool
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

// RecordJoin opens a participant row for connectionID in roomID
func (r *ParticipantRepository) RecordJoin(ctx context.Context, roomID, connectionID string, userID *uuid.UUID, at time.Time) error {
	p := domain.Participant{
		ID:           uuid.New(),
		RoomID:       roomID,
		ConnectionID: connectionID,
		UserID:       userID,
		JoinedAt:     at,
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO participants (id, room_id, connection_id, user_id, joined_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.RoomID, p.ConnectionID, p.UserID, p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record participant join: %w", err)
	}
	return nil
}

// RecordLeave closes the open participant row(s) for connectionID in roomID
func (r *ParticipantRepository) RecordLeave(ctx context.Context, roomID, connectionID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE participants
		SET left_at = $3
		WHERE room_id = $1 AND connection_id = $2 AND left_at IS NULL`,
		roomID, connectionID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to record participant leave: %w", err)
	}
	return nil
}

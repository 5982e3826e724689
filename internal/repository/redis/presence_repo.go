package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"consultcall-backend/internal/database"
	"consultcall-backend/internal/domain"
)

const availableDoctorsKey = "doctors:available"

// PresenceRepository tracks which doctors declared themselves available
type PresenceRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewPresenceRepository creates a new PresenceRepository. Flags expire after
// ttl unless refreshed.
func NewPresenceRepository(client *database.RedisClient, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{client: client, ttl: ttl}
}

func availabilityKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("doctor:available:%s", doctorID)
}

// SetAvailability raises or clears a doctor's availability flag
func (r *PresenceRepository) SetAvailability(ctx context.Context, doctorID uuid.UUID, available bool) error {
	key := availabilityKey(doctorID)

	if !available {
		if err := r.client.SafeDel(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to clear availability: %w", err)
		}
		if err := r.client.SafeSRem(ctx, availableDoctorsKey, doctorID.String()).Err(); err != nil {
			return fmt.Errorf("failed to remove from available set: %w", err)
		}
		return nil
	}

	if err := r.client.SafeSet(ctx, key, "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, availableDoctorsKey, doctorID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to available set: %w", err)
	}
	return nil
}

// IsAvailable checks a single doctor's flag
func (r *PresenceRepository) IsAvailable(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	exists, err := r.client.SafeExists(ctx, availabilityKey(doctorID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return exists > 0, nil
}

// ListAvailable returns doctors whose flag has not expired. Set members whose
// key already expired are pruned on the way.
func (r *PresenceRepository) ListAvailable(ctx context.Context) (*domain.AvailableDoctors, error) {
	members, err := r.client.SafeSMembers(ctx, availableDoctorsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list available doctors: %w", err)
	}

	out := &domain.AvailableDoctors{DoctorIDs: make([]uuid.UUID, 0, len(members))}
	for _, member := range members {
		doctorID, err := uuid.Parse(member)
		if err != nil {
			_ = r.client.SafeSRem(ctx, availableDoctorsKey, member).Err()
			continue
		}
		ok, err := r.IsAvailable(ctx, doctorID)
		if err != nil {
			return nil, err
		}
		if !ok {
			_ = r.client.SafeSRem(ctx, availableDoctorsKey, member).Err()
			continue
		}
		out.DoctorIDs = append(out.DoctorIDs, doctorID)
	}
	out.Count = int64(len(out.DoctorIDs))
	return out, nil
}

package availability

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultcall-backend/internal/database"
	"consultcall-backend/internal/domain"
	apperrors "consultcall-backend/pkg/errors"
	"consultcall-backend/pkg/logger"
)

// PresenceRepository stores doctor availability flags
type PresenceRepository interface {
	SetAvailability(ctx context.Context, doctorID uuid.UUID, available bool) error
	ListAvailable(ctx context.Context) (*domain.AvailableDoctors, error)
}

// AuditRecorder receives availability changes
type AuditRecorder interface {
	LogAvailabilityChange(ctx context.Context, doctorID uuid.UUID, available bool) error
}

// Service handles doctor availability. Availability is advisory: it never
// gates claiming a call.
type Service struct {
	presenceRepo PresenceRepository
	audit        AuditRecorder
}

// NewService creates a new availability service. audit may be nil.
func NewService(presenceRepo PresenceRepository, audit AuditRecorder) *Service {
	return &Service{
		presenceRepo: presenceRepo,
		audit:        audit,
	}
}

// SetAvailability raises or clears the calling doctor's flag
func (s *Service) SetAvailability(ctx context.Context, caller domain.Caller, available bool) (*domain.DoctorAvailability, error) {
	if !caller.IsDoctor() {
		return nil, apperrors.ForbiddenError("Only doctors can set availability")
	}

	if err := s.presenceRepo.SetAvailability(ctx, caller.UserID, available); err != nil {
		return nil, mapPresenceError(err)
	}

	logger.FromContext(ctx).Info("Doctor availability changed",
		zap.String("doctor_id", caller.UserID.String()),
		zap.Bool("available", available))

	if s.audit != nil {
		if err := s.audit.LogAvailabilityChange(ctx, caller.UserID, available); err != nil {
			logger.FromContext(ctx).Warn("Failed to write availability audit event",
				zap.String("doctor_id", caller.UserID.String()),
				zap.Error(err))
		}
	}

	return &domain.DoctorAvailability{DoctorID: caller.UserID, IsAvailable: available}, nil
}

// ListAvailable returns the doctors currently flagged available
func (s *Service) ListAvailable(ctx context.Context) (*domain.AvailableDoctors, error) {
	doctors, err := s.presenceRepo.ListAvailable(ctx)
	if err != nil {
		return nil, mapPresenceError(err)
	}
	return doctors, nil
}

func mapPresenceError(err error) error {
	if errors.Is(err, database.ErrRedisDegraded) {
		return apperrors.ServiceUnavailableError("Availability is temporarily unavailable")
	}
	return apperrors.StorageError(err)
}

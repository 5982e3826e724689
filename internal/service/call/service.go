package call

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultcall-backend/internal/domain"
	"consultcall-backend/pkg/audit"
	"consultcall-backend/pkg/constants"
	apperrors "consultcall-backend/pkg/errors"
	"consultcall-backend/pkg/logger"
	"consultcall-backend/pkg/metrics"
	"consultcall-backend/pkg/resilience"
	"consultcall-backend/pkg/sanitize"
)

// CallRepository is the durable call store the service needs
type CallRepository interface {
	CreateCall(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	Save(ctx context.Context, call *domain.Call, expectedVersion int) error
	FindActiveForPatient(ctx context.Context, patientID uuid.UUID) (*domain.Call, error)
	FindWaiting(ctx context.Context) ([]*domain.Call, error)
	AggregateMetrics(ctx context.Context) ([]domain.StatusAggregate, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// AuditRecorder receives one event per applied transition
type AuditRecorder interface {
	LogCallEvent(ctx context.Context, eventType audit.AuditEventType, callID, userID uuid.UUID, status string) error
}

// Service orchestrates call lifecycle transitions. Each operation is a
// read-modify-write guarded by the record version; it never touches the
// signaling rooms, which share only the room id with the call.
type Service struct {
	callRepo CallRepository
	audit    AuditRecorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithAudit records transitions in the audit log
func WithAudit(a AuditRecorder) Option {
	return func(s *Service) { s.audit = a }
}

// WithMetrics records transitions in Prometheus
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new call service
func NewService(callRepo CallRepository, opts ...Option) *Service {
	s := &Service{
		callRepo: callRepo,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestCallInput contains call request data
type RequestCallInput struct {
	RoomID   string
	Metadata domain.Metadata
}

// RequestCall opens a waiting call for the calling patient
func (s *Service) RequestCall(ctx context.Context, caller domain.Caller, input RequestCallInput) (*domain.Call, error) {
	if !caller.IsPatient() {
		return nil, apperrors.ForbiddenError("Only patients can request a call")
	}

	roomID := newRoomID()
	if input.RoomID != "" {
		cleaned, ok := sanitize.RoomID(input.RoomID, constants.MaxRoomIDLength)
		if !ok {
			return nil, apperrors.ValidationError("room_id must be 1-64 letters, digits, '-' or '_'")
		}
		roomID = cleaned
	}

	existing, err := s.callRepo.FindActiveForPatient(ctx, caller.UserID)
	if err != nil {
		return nil, storageError(err)
	}
	if existing != nil {
		s.recordRejection(domain.ActionRequest, "active_call_exists")
		return nil, apperrors.ActiveCallExistsError().WithDetails(map[string]string{
			"call_id": existing.ID.String(),
			"status":  string(existing.Status),
		})
	}

	call := domain.NewCall(caller.UserID, roomID, input.Metadata.WithoutResumes(), s.now())
	if err := s.callRepo.CreateCall(ctx, call); err != nil {
		if errors.Is(err, domain.ErrActiveCallExists) {
			s.recordRejection(domain.ActionRequest, "active_call_exists")
			return nil, apperrors.ActiveCallExistsError()
		}
		return nil, storageError(err)
	}

	s.recordApplied(ctx, domain.ActionRequest, call, caller.UserID)
	return call, nil
}

// ClaimCall assigns a waiting call to the calling doctor. Of two doctors
// racing for the same call exactly one wins; the other gets a conflict.
func (s *Service) ClaimCall(ctx context.Context, callID uuid.UUID, caller domain.Caller) (*domain.Call, error) {
	return s.transition(ctx, domain.ActionClaim, callID, caller,
		func(c *domain.Call) error {
			if !caller.IsDoctor() {
				return apperrors.ForbiddenError("Only doctors can claim a call")
			}
			return nil
		},
		func(c *domain.Call, now time.Time) (bool, error) {
			return true, c.Claim(caller.UserID, now)
		},
	)
}

// StartCall marks media as flowing. Safe to call repeatedly.
func (s *Service) StartCall(ctx context.Context, callID uuid.UUID, caller domain.Caller) (*domain.Call, error) {
	return s.transition(ctx, domain.ActionStart, callID, caller, partyGuard(caller),
		func(c *domain.Call, now time.Time) (bool, error) {
			return true, c.Start(now)
		},
	)
}

// ResumeCall records an explicit reconnect with an optional note
func (s *Service) ResumeCall(ctx context.Context, callID uuid.UUID, caller domain.Caller, note string) (*domain.Call, error) {
	note = sanitize.Note(note, constants.MaxResumeNoteLength)
	return s.transition(ctx, domain.ActionResume, callID, caller, partyGuard(caller),
		func(c *domain.Call, now time.Time) (bool, error) {
			return true, c.Resume(now, note)
		},
	)
}

// EndCall terminates the call. Ending an ended call returns it unchanged.
func (s *Service) EndCall(ctx context.Context, callID uuid.UUID, caller domain.Caller) (*domain.Call, error) {
	return s.transition(ctx, domain.ActionEnd, callID, caller, partyGuard(caller),
		func(c *domain.Call, now time.Time) (bool, error) {
			return c.End(now)
		},
	)
}

// GetCall returns a call to one of its parties
func (s *Service) GetCall(ctx context.Context, callID uuid.UUID, caller domain.Caller) (*domain.Call, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.HasParticipant(caller.UserID) {
		return nil, apperrors.ForbiddenError("Not a participant of this call")
	}
	return call, nil
}

// ListWaitingCalls returns the unclaimed queue, oldest first
func (s *Service) ListWaitingCalls(ctx context.Context, caller domain.Caller) ([]*domain.Call, error) {
	if !caller.IsDoctor() {
		return nil, apperrors.ForbiddenError("Only doctors can list waiting calls")
	}
	calls, err := s.callRepo.FindWaiting(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	return calls, nil
}

// MetricsSnapshot summarises all calls: counts per status, mean duration over
// calls that lasted, mean reconnects over calls that reconnected.
func (s *Service) MetricsSnapshot(ctx context.Context, caller domain.Caller) (*domain.CallMetrics, error) {
	if !caller.IsDoctor() {
		return nil, apperrors.ForbiddenError("Only doctors can view call metrics")
	}

	aggregates, err := s.callRepo.AggregateMetrics(ctx)
	if err != nil {
		return nil, storageError(err)
	}

	out := &domain.CallMetrics{
		ByStatus:    make(map[domain.CallStatus]domain.StatusMetrics, len(aggregates)),
		GeneratedAt: s.now(),
	}
	var durationSum, durationCount, reconnectSum, reconnectCount int64
	for _, agg := range aggregates {
		out.TotalCalls += agg.Count
		out.ByStatus[agg.Status] = domain.StatusMetrics{
			Count:              agg.Count,
			AvgDurationSeconds: mean(agg.DurationSum, agg.DurationCount),
			AvgReconnects:      mean(agg.ReconnectSum, agg.ReconnectCount),
		}
		durationSum += agg.DurationSum
		durationCount += agg.DurationCount
		reconnectSum += agg.ReconnectSum
		reconnectCount += agg.ReconnectCount

		switch agg.Status {
		case domain.CallStatusWaiting:
			out.Waiting = agg.Count
		case domain.CallStatusInProgress:
			out.InProgress = agg.Count
		case domain.CallStatusEnded:
			out.Ended = agg.Count
		}
	}
	out.AvgDurationSeconds = mean(durationSum, durationCount)
	out.AvgReconnects = mean(reconnectSum, reconnectCount)

	return out, nil
}

// GetUserCallHistory returns a page of the caller's calls, newest first, and the total count
func (s *Service) GetUserCallHistory(ctx context.Context, caller domain.Caller, limit, offset int) ([]*domain.Call, int64, error) {
	calls, err := s.callRepo.ListByUser(ctx, caller.UserID, limit, offset)
	if err != nil {
		return nil, 0, storageError(err)
	}
	total, err := s.callRepo.CountByUser(ctx, caller.UserID)
	if err != nil {
		return nil, 0, storageError(err)
	}
	return calls, total, nil
}

type guardFunc func(*domain.Call) error

type applyFunc func(c *domain.Call, now time.Time) (changed bool, err error)

func partyGuard(caller domain.Caller) guardFunc {
	return func(c *domain.Call) error {
		if !c.HasParticipant(caller.UserID) {
			return apperrors.ForbiddenError("Not a participant of this call")
		}
		return nil
	}
}

// transition runs one optimistic read-modify-write, retrying when another
// writer saved the call in between. The guard is re-evaluated on every
// attempt, so a lost race surfaces as the conflict it now is.
func (s *Service) transition(ctx context.Context, action domain.CallAction, callID uuid.UUID, caller domain.Caller, guard guardFunc, apply applyFunc) (*domain.Call, error) {
	for attempt := 0; attempt < constants.MaxTransitionAttempts; attempt++ {
		call, err := s.load(ctx, callID)
		if err != nil {
			return nil, err
		}
		if err := guard(call); err != nil {
			s.recordRejection(action, "forbidden")
			return nil, err
		}

		expectedVersion := call.Version
		changed, err := apply(call, s.now())
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				s.recordRejection(action, "invalid_state")
				return nil, apperrors.ConflictError("Cannot " + string(action) + " a call in status " + string(call.Status))
			}
			return nil, apperrors.InternalError(err.Error())
		}
		if !changed {
			return call, nil
		}

		err = s.callRepo.Save(ctx, call, expectedVersion)
		switch {
		case err == nil:
			s.recordApplied(ctx, action, call, caller.UserID)
			return call, nil
		case errors.Is(err, domain.ErrStaleCall):
			logger.FromContext(ctx).Debug("Call changed during transition, retrying",
				zap.String("call_id", callID.String()),
				zap.String("action", string(action)),
				zap.Int("attempt", attempt+1))
			continue
		case errors.Is(err, domain.ErrActiveCallExists):
			s.recordRejection(action, "active_call_exists")
			return nil, apperrors.ActiveCallExistsError()
		case errors.Is(err, domain.ErrCallNotFound):
			return nil, apperrors.CallNotFoundError()
		default:
			return nil, storageError(err)
		}
	}

	s.recordRejection(action, "contention")
	return nil, apperrors.ConflictError("Call was modified concurrently, please retry")
}

// storageError maps a store failure. An open breaker is a temporary outage.
func storageError(err error) *apperrors.AppError {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return apperrors.WrapWithStatus(apperrors.ErrCodeServiceUnavail, "Call storage temporarily unavailable", http.StatusServiceUnavailable, err)
	}
	return apperrors.StorageError(err)
}

func (s *Service) load(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, domain.ErrCallNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, storageError(err)
	}
	return call, nil
}

var auditEvents = map[domain.CallAction]audit.AuditEventType{
	domain.ActionRequest: audit.EventCallRequest,
	domain.ActionClaim:   audit.EventCallClaim,
	domain.ActionStart:   audit.EventCallStart,
	domain.ActionResume:  audit.EventCallResume,
	domain.ActionEnd:     audit.EventCallEnd,
}

func (s *Service) recordApplied(ctx context.Context, action domain.CallAction, call *domain.Call, userID uuid.UUID) {
	logger.FromContext(ctx).Info("Call transition applied",
		zap.String("call_id", call.ID.String()),
		zap.String("action", string(action)),
		zap.String("status", string(call.Status)),
		zap.String("user_id", userID.String()))

	if s.metrics != nil {
		s.metrics.RecordCallTransition(string(action), string(call.Status))
		switch action {
		case domain.ActionResume:
			s.metrics.RecordCallReconnect()
		case domain.ActionEnd:
			s.metrics.RecordCallDuration(call.DurationSeconds)
		}
	}

	if s.audit != nil {
		if err := s.audit.LogCallEvent(ctx, auditEvents[action], call.ID, userID, string(call.Status)); err != nil {
			logger.FromContext(ctx).Warn("Failed to write call audit event",
				zap.String("call_id", call.ID.String()),
				zap.String("action", string(action)),
				zap.Error(err))
		}
	}
}

func (s *Service) recordRejection(action domain.CallAction, reason string) {
	if s.metrics != nil {
		s.metrics.RecordCallTransitionError(string(action), reason)
	}
}

func newRoomID() string {
	return constants.GeneratedRoomIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func mean(sum, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

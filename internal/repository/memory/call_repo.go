// Package memory holds process-local stores used by tests and by the service
// when it runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"consultcall-backend/internal/domain"
)

// CallRepository is a mutex-guarded call store with the same contract as
// the CockroachDB one, including the one-active-call-per-patient rule.
type CallRepository struct {
	mu    sync.Mutex
	calls map[uuid.UUID]*domain.Call
	rooms map[string]domain.Room
}

// NewCallRepository creates an empty store
func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls: make(map[uuid.UUID]*domain.Call),
		rooms: make(map[string]domain.Room),
	}
}

// CreateCall stores a copy of call and anchors its room if absent
func (r *CallRepository) CreateCall(_ context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !call.Status.IsTerminal() && r.activeForPatientLocked(call.PatientID) != nil {
		return domain.ErrActiveCallExists
	}

	if _, ok := r.rooms[call.RoomID]; !ok {
		r.rooms[call.RoomID] = domain.Room{ID: call.RoomID, CreatedAt: call.RequestedAt, Active: true}
	}
	r.calls[call.ID] = call.Clone()
	return nil
}

// GetByID returns a copy of the stored call
func (r *CallRepository) GetByID(_ context.Context, callID uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return call.Clone(), nil
}

// Save replaces the stored call when its version still equals expectedVersion
func (r *CallRepository) Save(_ context.Context, call *domain.Call, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.calls[call.ID]
	if !ok {
		return domain.ErrCallNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrStaleCall
	}
	if !call.Status.IsTerminal() {
		if other := r.activeForPatientLocked(call.PatientID); other != nil && other.ID != call.ID {
			return domain.ErrActiveCallExists
		}
	}

	call.Version = expectedVersion + 1
	r.calls[call.ID] = call.Clone()
	return nil
}

// FindActiveForPatient returns the patient's non-terminal call, or nil
func (r *CallRepository) FindActiveForPatient(_ context.Context, patientID uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.activeForPatientLocked(patientID).Clone(), nil
}

// FindWaiting returns waiting calls, oldest request first
func (r *CallRepository) FindWaiting(_ context.Context) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiting := make([]*domain.Call, 0)
	for _, call := range r.calls {
		if call.Status == domain.CallStatusWaiting {
			waiting = append(waiting, call.Clone())
		}
	}
	sortByRequestedAt(waiting, true)
	return waiting, nil
}

// AggregateMetrics sums per status in the same shape as the SQL query
func (r *CallRepository) AggregateMetrics(_ context.Context) ([]domain.StatusAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byStatus := make(map[domain.CallStatus]*domain.StatusAggregate)
	for _, call := range r.calls {
		agg, ok := byStatus[call.Status]
		if !ok {
			agg = &domain.StatusAggregate{Status: call.Status}
			byStatus[call.Status] = agg
		}
		agg.Count++
		if call.DurationSeconds > 0 {
			agg.DurationSum += int64(call.DurationSeconds)
			agg.DurationCount++
		}
		if call.TotalReconnects > 0 {
			agg.ReconnectSum += int64(call.TotalReconnects)
			agg.ReconnectCount++
		}
	}

	aggregates := make([]domain.StatusAggregate, 0, len(byStatus))
	for _, status := range domain.AllCallStatuses {
		if agg, ok := byStatus[status]; ok {
			aggregates = append(aggregates, *agg)
		}
	}
	return aggregates, nil
}

// ListByUser returns the user's calls, newest request first
func (r *CallRepository) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mine := r.byUserLocked(userID)
	sortByRequestedAt(mine, false)

	if offset >= len(mine) {
		return []*domain.Call{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(mine) {
		end = len(mine)
	}
	return mine[offset:end], nil
}

// CountByUser counts the user's calls
func (r *CallRepository) CountByUser(_ context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return int64(len(r.byUserLocked(userID))), nil
}

// Room returns the anchored room, if any
func (r *CallRepository) Room(roomID string) (domain.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	return room, ok
}

func (r *CallRepository) activeForPatientLocked(patientID uuid.UUID) *domain.Call {
	for _, call := range r.calls {
		if call.PatientID == patientID && !call.Status.IsTerminal() {
			return call
		}
	}
	return nil
}

func (r *CallRepository) byUserLocked(userID uuid.UUID) []*domain.Call {
	out := make([]*domain.Call, 0)
	for _, call := range r.calls {
		if call.HasParticipant(userID) {
			out = append(out, call.Clone())
		}
	}
	return out
}

func sortByRequestedAt(calls []*domain.Call, ascending bool) {
	sort.SliceStable(calls, func(i, j int) bool {
		a, b := calls[i].RequestedAt, calls[j].RequestedAt
		if a.Equal(b) {
			return calls[i].ID.String() < calls[j].ID.String()
		}
		if ascending {
			return a.Before(b)
		}
		return a.After(b)
	})
}

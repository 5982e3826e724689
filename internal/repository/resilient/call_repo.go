// Package resilient puts a circuit breaker in front of the call store.
package resilient

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"consultcall-backend/internal/domain"
	"consultcall-backend/pkg/metrics"
	"consultcall-backend/pkg/resilience"
)

// CallStore is the call store being protected
type CallStore interface {
	CreateCall(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	Save(ctx context.Context, call *domain.Call, expectedVersion int) error
	FindActiveForPatient(ctx context.Context, patientID uuid.UUID) (*domain.Call, error)
	FindWaiting(ctx context.Context) ([]*domain.Call, error)
	AggregateMetrics(ctx context.Context) ([]domain.StatusAggregate, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// CallRepository forwards to a CallStore through a circuit breaker
type CallRepository struct {
	next    CallStore
	breaker *resilience.CircuitBreaker
}

// NewCallRepository wraps next. m may be nil.
func NewCallRepository(next CallStore, cfg resilience.Config, m *metrics.Metrics, opts ...resilience.Option) *CallRepository {
	opts = append([]resilience.Option{resilience.WithFailurePredicate(IsStoreFailure)}, opts...)
	return &CallRepository{
		next:    next,
		breaker: resilience.NewCircuitBreaker("call-store", cfg, m, opts...),
	}
}

// IsStoreFailure reports whether err says something about the store's
// health. Domain outcomes and caller cancellations do not.
func IsStoreFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrCallNotFound),
		errors.Is(err, domain.ErrActiveCallExists),
		errors.Is(err, domain.ErrStaleCall):
		return false
	}
	return true
}

// State exposes the breaker state
func (r *CallRepository) State() resilience.CircuitBreakerState {
	return r.breaker.State()
}

func (r *CallRepository) CreateCall(ctx context.Context, call *domain.Call) error {
	return r.breaker.Execute(ctx, "create_call", func(ctx context.Context) error {
		return r.next.CreateCall(ctx, call)
	})
}

func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	var call *domain.Call
	err := r.breaker.Execute(ctx, "get_call", func(ctx context.Context) (err error) {
		call, err = r.next.GetByID(ctx, callID)
		return err
	})
	return call, err
}

func (r *CallRepository) Save(ctx context.Context, call *domain.Call, expectedVersion int) error {
	return r.breaker.Execute(ctx, "save_call", func(ctx context.Context) error {
		return r.next.Save(ctx, call, expectedVersion)
	})
}

func (r *CallRepository) FindActiveForPatient(ctx context.Context, patientID uuid.UUID) (*domain.Call, error) {
	var call *domain.Call
	err := r.breaker.Execute(ctx, "find_active_call", func(ctx context.Context) (err error) {
		call, err = r.next.FindActiveForPatient(ctx, patientID)
		return err
	})
	return call, err
}

func (r *CallRepository) FindWaiting(ctx context.Context) ([]*domain.Call, error) {
	var calls []*domain.Call
	err := r.breaker.Execute(ctx, "find_waiting_calls", func(ctx context.Context) (err error) {
		calls, err = r.next.FindWaiting(ctx)
		return err
	})
	return calls, err
}

func (r *CallRepository) AggregateMetrics(ctx context.Context) ([]domain.StatusAggregate, error) {
	var aggs []domain.StatusAggregate
	err := r.breaker.Execute(ctx, "aggregate_calls", func(ctx context.Context) (err error) {
		aggs, err = r.next.AggregateMetrics(ctx)
		return err
	})
	return aggs, err
}

func (r *CallRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	var calls []*domain.Call
	err := r.breaker.Execute(ctx, "list_user_calls", func(ctx context.Context) (err error) {
		calls, err = r.next.ListByUser(ctx, userID, limit, offset)
		return err
	})
	return calls, err
}

func (r *CallRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.breaker.Execute(ctx, "count_user_calls", func(ctx context.Context) (err error) {
		n, err = r.next.CountByUser(ctx, userID)
		return err
	})
	return n, err
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultcall-backend/internal/domain"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestCallRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewCallRepository()
	call := domain.NewCall(uuid.New(), "room-a", domain.Metadata{}, base)

	require.NoError(t, repo.CreateCall(ctx, call))

	got, err := repo.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, call.RoomID, got.RoomID)

	got.Status = domain.CallStatusEnded
	again, err := repo.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusWaiting, again.Status, "callers get copies")

	room, ok := repo.Room("room-a")
	require.True(t, ok)
	assert.True(t, room.Active)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestCallRepository_OneActiveCallPerPatient(t *testing.T) {
	ctx := context.Background()
	repo := NewCallRepository()
	patient := uuid.New()

	first := domain.NewCall(patient, "room-a", domain.Metadata{}, base)
	require.NoError(t, repo.CreateCall(ctx, first))

	second := domain.NewCall(patient, "room-b", domain.Metadata{}, base.Add(time.Second))
	assert.ErrorIs(t, repo.CreateCall(ctx, second), domain.ErrActiveCallExists)

	active, err := repo.FindActiveForPatient(ctx, patient)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)

	_, err = first.End(base.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, first, 0))

	active, err = repo.FindActiveForPatient(ctx, patient)
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, repo.CreateCall(ctx, second))
}

func TestCallRepository_SaveChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewCallRepository()
	call := domain.NewCall(uuid.New(), "room-a", domain.Metadata{}, base)
	require.NoError(t, repo.CreateCall(ctx, call))

	a, _ := repo.GetByID(ctx, call.ID)
	b, _ := repo.GetByID(ctx, call.ID)

	require.NoError(t, a.Claim(uuid.New(), base))
	require.NoError(t, repo.Save(ctx, a, 0))
	assert.Equal(t, 1, a.Version)

	require.NoError(t, b.Claim(uuid.New(), base))
	assert.ErrorIs(t, repo.Save(ctx, b, 0), domain.ErrStaleCall)

	unknown := domain.NewCall(uuid.New(), "room-x", domain.Metadata{}, base)
	assert.ErrorIs(t, repo.Save(ctx, unknown, 0), domain.ErrCallNotFound)
}

func TestCallRepository_Queries(t *testing.T) {
	ctx := context.Background()
	repo := NewCallRepository()
	doctor := uuid.New()

	var calls []*domain.Call
	for i := 0; i < 3; i++ {
		c := domain.NewCall(uuid.New(), "room-q", domain.Metadata{}, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.CreateCall(ctx, c))
		calls = append(calls, c)
	}

	// The newest is claimed by doctor, started and ended with one reconnect
	last := calls[2]
	require.NoError(t, last.Claim(doctor, base.Add(3*time.Minute)))
	require.NoError(t, last.Start(base.Add(4*time.Minute)))
	require.NoError(t, last.Resume(base.Add(5*time.Minute), ""))
	_, err := last.End(base.Add(6 * time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, last, 0))

	waiting, err := repo.FindWaiting(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, calls[0].ID, waiting[0].ID)
	assert.Equal(t, calls[1].ID, waiting[1].ID)

	aggs, err := repo.AggregateMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, domain.StatusAggregate{Status: domain.CallStatusWaiting, Count: 2}, aggs[0])
	assert.Equal(t, domain.StatusAggregate{
		Status:         domain.CallStatusEnded,
		Count:          1,
		DurationSum:    120,
		DurationCount:  1,
		ReconnectSum:   1,
		ReconnectCount: 1,
	}, aggs[1])

	mine, err := repo.ListByUser(ctx, doctor, 10, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, last.ID, mine[0].ID)

	count, err := repo.CountByUser(ctx, doctor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	empty, err := repo.ListByUser(ctx, doctor, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCallRepository_ListByUserPaginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewCallRepository()
	patient := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		c := domain.NewCall(patient, "room-p", domain.Metadata{}, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, repo.CreateCall(ctx, c))
		_, err := c.End(base.Add(time.Duration(i)*time.Hour + time.Minute))
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, c, 0))
		ids = append(ids, c.ID)
	}

	page, err := repo.ListByUser(ctx, patient, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	page, err = repo.ListByUser(ctx, patient, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)
}

func TestParticipantLog(t *testing.T) {
	ctx := context.Background()
	log := NewParticipantLog()
	user := uuid.New()

	require.NoError(t, log.RecordJoin(ctx, "room-a", "c-1", &user, base))
	require.NoError(t, log.RecordJoin(ctx, "room-a", "c-2", nil, base))
	require.NoError(t, log.RecordLeave(ctx, "room-a", "c-1", base.Add(time.Minute)))

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, &user, entries[0].UserID)
	require.NotNil(t, entries[0].LeftAt)
	assert.Equal(t, base.Add(time.Minute), *entries[0].LeftAt)
	assert.Nil(t, entries[1].LeftAt)
	assert.Nil(t, entries[1].UserID)
}

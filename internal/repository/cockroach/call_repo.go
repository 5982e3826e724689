package cockroach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"consultcall-backend/internal/domain"
)

// Expected schema:
//
//	CREATE TABLE rooms (
//	    id         VARCHAR(64) PRIMARY KEY,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    active     BOOL NOT NULL DEFAULT true
//	);
//
//	CREATE TABLE calls (
//	    id               UUID PRIMARY KEY,
//	    room_id          VARCHAR(64) NOT NULL REFERENCES rooms (id),
//	    patient_id       UUID NOT NULL,
//	    doctor_id        UUID,
//	    status           VARCHAR(20) NOT NULL,
//	    requested_at     TIMESTAMPTZ NOT NULL,
//	    assigned_at      TIMESTAMPTZ,
//	    started_at       TIMESTAMPTZ,
//	    last_resume_at   TIMESTAMPTZ,
//	    ended_at         TIMESTAMPTZ,
//	    total_reconnects INT NOT NULL DEFAULT 0,
//	    duration_seconds INT NOT NULL DEFAULT 0,
//	    meta             JSONB NOT NULL DEFAULT '{}',
//	    version          INT NOT NULL DEFAULT 0,
//	    INDEX calls_status_requested_idx (status, requested_at)
//	);
//
//	CREATE UNIQUE INDEX calls_one_active_per_patient
//	    ON calls (patient_id)
//	    WHERE status NOT IN ('ended', 'cancelled');

const (
	uniqueViolation         = "23505"
	activePerPatientIndex   = "calls_one_active_per_patient"
	nonTerminalStatusFilter = `status NOT IN ('ended', 'cancelled')`
)

const callColumns = `id, room_id, patient_id, doctor_id, status, requested_at, assigned_at,
	started_at, last_resume_at, ended_at, total_reconnects, duration_seconds, meta, version`

// CallRepository handles call data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// CreateCall inserts the room (if absent) and the call in one transaction.
// A second active call for the same patient fails with domain.ErrActiveCallExists.
func (r *CallRepository) CreateCall(ctx context.Context, call *domain.Call) error {
	meta, err := json.Marshal(call.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode call metadata: %w", err)
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rooms (id, created_at, active) VALUES ($1, $2, true)
			 ON CONFLICT (id) DO NOTHING`,
			call.RoomID, call.RequestedAt,
		); err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO calls (
				id, room_id, patient_id, doctor_id, status, requested_at,
				total_reconnects, duration_seconds, meta, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			call.ID,
			call.RoomID,
			call.PatientID,
			call.DoctorID,
			string(call.Status),
			call.RequestedAt,
			call.TotalReconnects,
			call.DurationSeconds,
			meta,
			call.Version,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activePerPatientIndex {
			return domain.ErrActiveCallExists
		}
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// Save writes call back only if nobody else saved it since it was read at
// expectedVersion. On success call.Version is advanced.
func (r *CallRepository) Save(ctx context.Context, call *domain.Call, expectedVersion int) error {
	meta, err := json.Marshal(call.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode call metadata: %w", err)
	}

	query := `
		UPDATE calls
		SET doctor_id = $3,
		    status = $4,
		    assigned_at = $5,
		    started_at = $6,
		    last_resume_at = $7,
		    ended_at = $8,
		    total_reconnects = $9,
		    duration_seconds = $10,
		    meta = $11,
		    version = version + 1
		WHERE id = $1 AND version = $2
	`

	tag, err := r.pool.Exec(ctx, query,
		call.ID,
		expectedVersion,
		call.DoctorID,
		string(call.Status),
		call.AssignedAt,
		call.StartedAt,
		call.LastResumeAt,
		call.EndedAt,
		call.TotalReconnects,
		call.DurationSeconds,
		meta,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activePerPatientIndex {
			return domain.ErrActiveCallExists
		}
		return fmt.Errorf("failed to save call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleCall
	}

	call.Version = expectedVersion + 1
	return nil
}

// FindActiveForPatient returns the patient's non-terminal call, or nil
func (r *CallRepository) FindActiveForPatient(ctx context.Context, patientID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + `
		FROM calls
		WHERE patient_id = $1 AND ` + nonTerminalStatusFilter + `
		ORDER BY requested_at DESC
		LIMIT 1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active call: %w", err)
	}

	return call, nil
}

// FindWaiting returns the queue of unclaimed calls, oldest first
func (r *CallRepository) FindWaiting(ctx context.Context) ([]*domain.Call, error) {
	query := `SELECT ` + callColumns + `
		FROM calls
		WHERE status = $1
		ORDER BY requested_at ASC`

	rows, err := r.pool.Query(ctx, query, string(domain.CallStatusWaiting))
	if err != nil {
		return nil, fmt.Errorf("failed to get waiting calls: %w", err)
	}
	defer rows.Close()

	return collectCalls(rows)
}

// AggregateMetrics returns per-status counts and the sums needed for averages
func (r *CallRepository) AggregateMetrics(ctx context.Context) ([]domain.StatusAggregate, error) {
	query := `
		SELECT status,
		       COUNT(*),
		       COALESCE(SUM(duration_seconds) FILTER (WHERE duration_seconds > 0), 0),
		       COUNT(*) FILTER (WHERE duration_seconds > 0),
		       COALESCE(SUM(total_reconnects) FILTER (WHERE total_reconnects > 0), 0),
		       COUNT(*) FILTER (WHERE total_reconnects > 0)
		FROM calls
		GROUP BY status
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate call metrics: %w", err)
	}
	defer rows.Close()

	var aggregates []domain.StatusAggregate
	for rows.Next() {
		var (
			agg    domain.StatusAggregate
			status string
		)
		if err := rows.Scan(
			&status,
			&agg.Count,
			&agg.DurationSum,
			&agg.DurationCount,
			&agg.ReconnectSum,
			&agg.ReconnectCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call metrics: %w", err)
		}
		agg.Status = domain.CallStatus(status)
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call metrics: %w", err)
	}

	return aggregates, nil
}

// ListByUser retrieves calls where the user was patient or doctor, newest first
func (r *CallRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `SELECT ` + callColumns + `
		FROM calls
		WHERE patient_id = $1 OR doctor_id = $1
		ORDER BY requested_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	return collectCalls(rows)
}

// CountByUser counts calls where the user was patient or doctor
func (r *CallRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM calls WHERE patient_id = $1 OR doctor_id = $1`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count user calls: %w", err)
	}
	return total, nil
}

func collectCalls(rows pgx.Rows) ([]*domain.Call, error) {
	calls := make([]*domain.Call, 0)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calls: %w", err)
	}
	return calls, nil
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	var (
		call   domain.Call
		status string
		meta   []byte
	)

	err := row.Scan(
		&call.ID,
		&call.RoomID,
		&call.PatientID,
		&call.DoctorID,
		&status,
		&call.RequestedAt,
		&call.AssignedAt,
		&call.StartedAt,
		&call.LastResumeAt,
		&call.EndedAt,
		&call.TotalReconnects,
		&call.DurationSeconds,
		&meta,
		&call.Version,
	)
	if err != nil {
		return nil, err
	}

	call.Status = domain.CallStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &call.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode call metadata: %w", err)
		}
	}

	return &call, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/fleet-reservations/internal/persistence"
)

// ReservationRepository implements persistence.ReservationRepository using SQLite
type ReservationRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewReservationRepository creates a new SQLite reservation repository
func NewReservationRepository(pool *ConnectionPool) *ReservationRepository {
	return &ReservationRepository{
		pool:   pool,
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

const reservationColumns = `id, vehicle_id, driver_id, start_date, start_time, end_date, end_time, purpose, status,
	actual_departure, actual_return, approved, approved_by_system, approval_time, approved_by,
	sync_source, synced_at, created_at, updated_at`

// CreateReservation inserts a new reservation.
func (r *ReservationRepository) CreateReservation(ctx context.Context, reservation persistence.Reservation) error {
	if reservation.ID == "" {
		return persistence.ErrConstraintViolation
	}

	query := `INSERT INTO reservations (` + reservationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, query,
			reservation.ID,
			reservation.VehicleID,
			reservation.DriverID,
			reservation.StartDate,
			reservation.StartTime,
			reservation.EndDate,
			reservation.EndTime,
			reservation.Purpose,
			reservation.Status,
			formatOptionalTimestamp(reservation.ActualDeparture),
			formatOptionalTimestamp(reservation.ActualReturn),
			boolToInt(reservation.Approved),
			boolToInt(reservation.ApprovedBySystem),
			formatOptionalTimestamp(reservation.ApprovalTime),
			reservation.ApprovedBy,
			reservation.SyncSource,
			formatOptionalTimestamp(reservation.SyncedAt),
			formatTimestamp(reservation.CreatedAt),
			formatTimestamp(reservation.UpdatedAt),
		)
		return err
	})
}

// GetReservation retrieves a reservation by ID.
func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	if id == "" {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	reservation, err := scanReservation(row)
	if err != nil {
		return persistence.Reservation{}, r.mapper.MapError(err)
	}
	return reservation, nil
}

// UpdateReservation rewrites every mutable column, but only while the stored status still
// equals expectedStatus. A missing row is ErrNotFound; a row in another status is ErrStaleWrite.
func (r *ReservationRepository) UpdateReservation(ctx context.Context, reservation persistence.Reservation, expectedStatus string) error {
	query := `
		UPDATE reservations
		SET vehicle_id = ?, driver_id = ?, start_date = ?, start_time = ?, end_date = ?, end_time = ?,
			purpose = ?, status = ?, actual_departure = ?, actual_return = ?, approved = ?,
			approved_by_system = ?, approval_time = ?, approved_by = ?, sync_source = ?, synced_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ?`

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			result, err := tx.ExecContext(ctx, query,
				reservation.VehicleID,
				reservation.DriverID,
				reservation.StartDate,
				reservation.StartTime,
				reservation.EndDate,
				reservation.EndTime,
				reservation.Purpose,
				reservation.Status,
				formatOptionalTimestamp(reservation.ActualDeparture),
				formatOptionalTimestamp(reservation.ActualReturn),
				boolToInt(reservation.Approved),
				boolToInt(reservation.ApprovedBySystem),
				formatOptionalTimestamp(reservation.ApprovalTime),
				reservation.ApprovedBy,
				reservation.SyncSource,
				formatOptionalTimestamp(reservation.SyncedAt),
				formatTimestamp(reservation.UpdatedAt),
				reservation.ID,
				expectedStatus,
			)
			if err != nil {
				return err
			}
			return checkConditionalWrite(ctx, tx, result, reservation.ID)
		})
	})
}

// DeleteReservation removes a reservation while its stored status equals expectedStatus.
func (r *ReservationRepository) DeleteReservation(ctx context.Context, id string, expectedStatus string) error {
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			result, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ? AND status = ?`, id, expectedStatus)
			if err != nil {
				return err
			}
			return checkConditionalWrite(ctx, tx, result, id)
		})
	})
}

// checkConditionalWrite distinguishes a missing row from a row whose status moved on.
func checkConditionalWrite(ctx context.Context, tx *sql.Tx, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM reservations WHERE id = ?`, id).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return persistence.ErrNotFound
	case err != nil:
		return err
	}
	return persistence.ErrStaleWrite
}

// ListReservations returns reservations matching the filter ordered by start, then id.
func (r *ReservationRepository) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	var (
		clauses []string
		args    []any
		clause  string
	)
	if len(filter.IDs) > 0 {
		clause, args = inClause("id", filter.IDs, args)
		clauses = append(clauses, clause)
	}
	if len(filter.VehicleIDs) > 0 {
		clause, args = inClause("vehicle_id", filter.VehicleIDs, args)
		clauses = append(clauses, clause)
	}
	if len(filter.DriverIDs) > 0 {
		clause, args = inClause("driver_id", filter.DriverIDs, args)
		clauses = append(clauses, clause)
	}
	if len(filter.Statuses) > 0 {
		clause, args = inClause("status", filter.Statuses, args)
		clauses = append(clauses, clause)
	}
	if filter.DateFrom != nil {
		clauses = append(clauses, "end_date >= ?")
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		clauses = append(clauses, "start_date <= ?")
		args = append(args, *filter.DateTo)
	}
	if filter.CreatedBefore != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, formatTimestamp(*filter.CreatedBefore))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_date, start_time, id"

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var reservations []persistence.Reservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return reservations, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (persistence.Reservation, error) {
	var (
		res                                  persistence.Reservation
		departure, ret, approvalTime, synced sql.NullString
		approved, approvedBySystem           int
		createdAt, updatedAt                 string
	)
	err := row.Scan(
		&res.ID,
		&res.VehicleID,
		&res.DriverID,
		&res.StartDate,
		&res.StartTime,
		&res.EndDate,
		&res.EndTime,
		&res.Purpose,
		&res.Status,
		&departure,
		&ret,
		&approved,
		&approvedBySystem,
		&approvalTime,
		&res.ApprovedBy,
		&res.SyncSource,
		&synced,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.Reservation{}, err
	}

	res.Approved = approved != 0
	res.ApprovedBySystem = approvedBySystem != 0
	if res.ActualDeparture, err = parseOptionalTimestamp(nullable(departure)); err != nil {
		return persistence.Reservation{}, err
	}
	if res.ActualReturn, err = parseOptionalTimestamp(nullable(ret)); err != nil {
		return persistence.Reservation{}, err
	}
	if res.ApprovalTime, err = parseOptionalTimestamp(nullable(approvalTime)); err != nil {
		return persistence.Reservation{}, err
	}
	if res.SyncedAt, err = parseOptionalTimestamp(nullable(synced)); err != nil {
		return persistence.Reservation{}, err
	}
	if res.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Reservation{}, err
	}
	if res.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.Reservation{}, err
	}
	return res, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

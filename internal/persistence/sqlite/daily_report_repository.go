package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/fleet-reservations/internal/persistence"
)

// DailyReportRepository implements persistence.DailyReportRepository using SQLite
type DailyReportRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewDailyReportRepository creates a new SQLite daily report repository
func NewDailyReportRepository(pool *ConnectionPool) *DailyReportRepository {
	return &DailyReportRepository{
		pool:   pool,
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

const reportColumns = `id, driver_id, report_date, clock_in, clock_out, sync_source, synced_at, created_at, updated_at`

// CreateDailyReport inserts a report. One report exists per driver and day.
func (r *DailyReportRepository) CreateDailyReport(ctx context.Context, report persistence.DailyReport) error {
	if report.ID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO daily_reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.DriverID,
		report.Date,
		report.ClockIn,
		report.ClockOut,
		report.SyncSource,
		formatOptionalTimestamp(report.SyncedAt),
		formatTimestamp(report.CreatedAt),
		formatTimestamp(report.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetDailyReport retrieves a report by ID.
func (r *DailyReportRepository) GetDailyReport(ctx context.Context, id string) (persistence.DailyReport, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+reportColumns+` FROM daily_reports WHERE id = ?`, id)
	report, err := scanReport(row)
	if err != nil {
		return persistence.DailyReport{}, r.mapper.MapError(err)
	}
	return report, nil
}

// ListDailyReports returns the driver's reports dated within [from, to], oldest first.
func (r *DailyReportRepository) ListDailyReports(ctx context.Context, driverID, from, to string) ([]persistence.DailyReport, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT `+reportColumns+` FROM daily_reports
		WHERE driver_id = ? AND report_date >= ? AND report_date <= ?
		ORDER BY report_date, id`, driverID, from, to)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var reports []persistence.DailyReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// UpdateDailyReportClock writes the clock times and sync marker of a report.
func (r *DailyReportRepository) UpdateDailyReportClock(ctx context.Context, report persistence.DailyReport) error {
	return r.retry.WithRetry(ctx, func() error {
		result, err := r.pool.DB().ExecContext(ctx, `
			UPDATE daily_reports
			SET clock_in = ?, clock_out = ?, sync_source = ?, synced_at = ?, updated_at = ?
			WHERE id = ?`,
			report.ClockIn,
			report.ClockOut,
			report.SyncSource,
			formatOptionalTimestamp(report.SyncedAt),
			formatTimestamp(report.UpdatedAt),
			report.ID,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

func scanReport(row rowScanner) (persistence.DailyReport, error) {
	var (
		report               persistence.DailyReport
		clockIn, clockOut    sql.NullString
		synced               sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&report.ID, &report.DriverID, &report.Date, &clockIn, &clockOut, &report.SyncSource, &synced, &createdAt, &updatedAt); err != nil {
		return persistence.DailyReport{}, err
	}
	report.ClockIn = nullable(clockIn)
	report.ClockOut = nullable(clockOut)
	var err error
	if report.SyncedAt, err = parseOptionalTimestamp(nullable(synced)); err != nil {
		return persistence.DailyReport{}, err
	}
	if report.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.DailyReport{}, err
	}
	if report.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.DailyReport{}, err
	}
	return report, nil
}

package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/fleet-reservations/internal/persistence"
)

// DriverRepository implements persistence.DriverRepository using SQLite
type DriverRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewDriverRepository creates a new SQLite driver repository
func NewDriverRepository(pool *ConnectionPool) *DriverRepository {
	return &DriverRepository{pool: pool, mapper: NewErrorMapper()}
}

const driverColumns = `id, user_id, code, name, email, created_at, updated_at`

// CreateDriver inserts a driver profile.
func (r *DriverRepository) CreateDriver(ctx context.Context, driver persistence.Driver) error {
	if driver.ID == "" {
		return persistence.ErrConstraintViolation
	}
	var userID any
	if driver.UserID != "" {
		userID = driver.UserID
	}
	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO drivers (`+driverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		driver.ID,
		userID,
		driver.Code,
		driver.Name,
		driver.Email,
		formatTimestamp(driver.CreatedAt),
		formatTimestamp(driver.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetDriver retrieves a driver by ID.
func (r *DriverRepository) GetDriver(ctx context.Context, id string) (persistence.Driver, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = ?`, id)
	driver, err := scanDriver(row)
	if err != nil {
		return persistence.Driver{}, r.mapper.MapError(err)
	}
	return driver, nil
}

// GetDriverByUserID retrieves the driver profile linked to a user account.
func (r *DriverRepository) GetDriverByUserID(ctx context.Context, userID string) (persistence.Driver, error) {
	if userID == "" {
		return persistence.Driver{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE user_id = ?`, userID)
	driver, err := scanDriver(row)
	if err != nil {
		return persistence.Driver{}, r.mapper.MapError(err)
	}
	return driver, nil
}

// ListDrivers returns all drivers ordered by name.
func (r *DriverRepository) ListDrivers(ctx context.Context) ([]persistence.Driver, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY name, id`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var drivers []persistence.Driver
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, driver)
	}
	return drivers, rows.Err()
}

func scanDriver(row rowScanner) (persistence.Driver, error) {
	var (
		driver               persistence.Driver
		userID               sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&driver.ID, &userID, &driver.Code, &driver.Name, &driver.Email, &createdAt, &updatedAt); err != nil {
		return persistence.Driver{}, err
	}
	driver.UserID = userID.String
	var err error
	if driver.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Driver{}, err
	}
	if driver.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.Driver{}, err
	}
	return driver, nil
}

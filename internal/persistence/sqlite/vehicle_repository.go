package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/example/fleet-reservations/internal/persistence"
)

// VehicleRepository implements persistence.VehicleRepository using SQLite
type VehicleRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewVehicleRepository creates a new SQLite vehicle repository
func NewVehicleRepository(pool *ConnectionPool) *VehicleRepository {
	return &VehicleRepository{pool: pool, mapper: NewErrorMapper()}
}

// CreateVehicle inserts a vehicle into the catalog.
func (r *VehicleRepository) CreateVehicle(ctx context.Context, vehicle persistence.Vehicle) error {
	if vehicle.ID == "" || vehicle.Plate == "" {
		return persistence.ErrConstraintViolation
	}
	if vehicle.Status == "" {
		vehicle.Status = "available"
	}
	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO vehicles (id, plate, code, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		vehicle.ID,
		vehicle.Plate,
		vehicle.Code,
		vehicle.Name,
		vehicle.Status,
		formatTimestamp(vehicle.CreatedAt),
		formatTimestamp(vehicle.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetVehicle retrieves a vehicle by ID.
func (r *VehicleRepository) GetVehicle(ctx context.Context, id string) (persistence.Vehicle, error) {
	row := r.pool.DB().QueryRowContext(ctx, `
		SELECT id, plate, code, name, status, created_at, updated_at
		FROM vehicles WHERE id = ?`, id)
	vehicle, err := scanVehicle(row)
	if err != nil {
		return persistence.Vehicle{}, r.mapper.MapError(err)
	}
	return vehicle, nil
}

// ListVehicles returns the catalog ordered by plate.
func (r *VehicleRepository) ListVehicles(ctx context.Context) ([]persistence.Vehicle, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT id, plate, code, name, status, created_at, updated_at
		FROM vehicles ORDER BY plate, id`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var vehicles []persistence.Vehicle
	for rows.Next() {
		vehicle, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, vehicle)
	}
	return vehicles, rows.Err()
}

// SetVehicleStatus updates the vehicle-level availability mirror.
func (r *VehicleRepository) SetVehicleStatus(ctx context.Context, id string, status string) error {
	result, err := r.pool.DB().ExecContext(ctx,
		`UPDATE vehicles SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTimestamp(time.Now()), id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func scanVehicle(row rowScanner) (persistence.Vehicle, error) {
	var (
		vehicle              persistence.Vehicle
		createdAt, updatedAt string
	)
	if err := row.Scan(&vehicle.ID, &vehicle.Plate, &vehicle.Code, &vehicle.Name, &vehicle.Status, &createdAt, &updatedAt); err != nil {
		return persistence.Vehicle{}, err
	}
	var err error
	if vehicle.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Vehicle{}, err
	}
	if vehicle.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.Vehicle{}, err
	}
	return vehicle, nil
}

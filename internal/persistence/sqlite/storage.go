package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/fleet-reservations/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timestampLayout has fixed width so stored UTC timestamps compare correctly as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Storage bundles the SQLite repositories over one connection pool.
type Storage struct {
	pool *ConnectionPool

	Reservations *ReservationRepository
	Vehicles     *VehicleRepository
	Drivers      *DriverRepository
	Reports      *DailyReportRepository
}

// Open connects to the database file at dsn with the production settings.
func Open(dsn string) (*Storage, error) {
	return OpenWithConfig(migration.DefaultSQLiteConfig(dsn))
}

// OpenWithConfig connects using an explicit configuration.
func OpenWithConfig(config migration.SQLiteConfig) (*Storage, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:         pool,
		Reservations: NewReservationRepository(pool),
		Vehicles:     NewVehicleRepository(pool),
		Drivers:      NewDriverRepository(pool),
		Reports:      NewDailyReportRepository(pool),
	}, nil
}

// Pool exposes the underlying connection pool.
func (s *Storage) Pool() *ConnectionPool {
	return s.pool
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Close()
}

// Migrate applies the embedded schema migrations and returns the versions it applied.
func (s *Storage) Migrate(ctx context.Context, logger *slog.Logger) ([]string, error) {
	manager := migration.NewManager(s.pool.DB(), migrationFiles, "migrations", logger)
	applied, err := manager.Run(ctx)
	if err != nil {
		return applied, fmt.Errorf("migrate: %w", err)
	}
	return applied, nil
}

// MigrationStatus reports the schema version of the database.
func (s *Storage) MigrationStatus(ctx context.Context, logger *slog.Logger) (migration.Status, error) {
	return migration.NewManager(s.pool.DB(), migrationFiles, "migrations", logger).Status(ctx)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func formatOptionalTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func parseOptionalTimestamp(value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := parseTimestamp(*value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// inClause renders "column IN (?, ?, ...)" and appends the values to args.
func inClause(column string, values []string, args []any) (string, []any) {
	placeholders := make([]byte, 0, len(values)*3)
	for i, v := range values {
		if i > 0 {
			placeholders = append(placeholders, ", "...)
		}
		placeholders = append(placeholders, '?')
		args = append(args, v)
	}
	return fmt.Sprintf("%s IN (%s)", column, placeholders), args
}

package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/fleet-reservations/internal/persistence"
	"github.com/example/fleet-reservations/internal/persistence/sqlite"
	"github.com/example/fleet-reservations/internal/persistence/sqlite/migration"
)

// SQLiteHarness provides repository access backed by a temporary SQLite storage
// instance for integration-style persistence tests.
type SQLiteHarness struct {
	Storage      *sqlite.Storage
	Reservations persistence.ReservationRepository
	Vehicles     persistence.VehicleRepository
	Drivers      persistence.DriverRepository
	Reports      persistence.DailyReportRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "fleet.db")

	storage, err := sqlite.OpenWithConfig(migration.TempFileTestSQLiteConfig(path))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if _, err := storage.Migrate(context.Background(), nil); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage:      storage,
		Reservations: storage.Reservations,
		Vehicles:     storage.Vehicles,
		Drivers:      storage.Drivers,
		Reports:      storage.Reports,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// SeedVehicles stores vehicle fixtures, failing the test on error.
func (h *SQLiteHarness) SeedVehicles(tb testing.TB, vehicles ...VehicleFixture) {
	tb.Helper()
	for _, v := range vehicles {
		if err := h.Vehicles.CreateVehicle(context.Background(), v.Persistence()); err != nil {
			tb.Fatalf("seed vehicle %s: %v", v.ID, err)
		}
	}
}

// SeedDrivers stores driver fixtures, failing the test on error.
func (h *SQLiteHarness) SeedDrivers(tb testing.TB, drivers ...DriverFixture) {
	tb.Helper()
	for _, d := range drivers {
		if err := h.Drivers.CreateDriver(context.Background(), d.Persistence()); err != nil {
			tb.Fatalf("seed driver %s: %v", d.ID, err)
		}
	}
}

package sqlite

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/example/fleet-reservations/internal/persistence"
	"github.com/example/fleet-reservations/internal/persistence/sqlite/migration"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "fleet.db")
	storage, err := OpenWithConfig(migration.TempFileTestSQLiteConfig(dsn))
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() {
		_ = storage.Close()
	})

	if _, err := storage.Migrate(context.Background(), nil); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return storage
}

func seedFleet(t *testing.T, storage *Storage) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, v := range []persistence.Vehicle{
		{ID: "v1", Plate: "品川 300 あ 12-34", Code: "A-01", Name: "Hiace", CreatedAt: now, UpdatedAt: now},
		{ID: "v2", Plate: "品川 500 さ 56-78", Code: "A-02", Name: "Prius", CreatedAt: now, UpdatedAt: now},
	} {
		if err := storage.Vehicles.CreateVehicle(ctx, v); err != nil {
			t.Fatalf("CreateVehicle(%s) failed: %v", v.ID, err)
		}
	}
	for _, d := range []persistence.Driver{
		{ID: "d1", UserID: "u1", Code: "D-01", Name: "Sato", Email: "sato@example.com", CreatedAt: now, UpdatedAt: now},
		{ID: "d2", Code: "D-02", Name: "Suzuki", Email: "suzuki@example.com", CreatedAt: now, UpdatedAt: now},
	} {
		if err := storage.Drivers.CreateDriver(ctx, d); err != nil {
			t.Fatalf("CreateDriver(%s) failed: %v", d.ID, err)
		}
	}
}

func sampleReservation(id, vehicleID, driverID, startDate, endDate, status string) persistence.Reservation {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return persistence.Reservation{
		ID:        id,
		VehicleID: vehicleID,
		DriverID:  driverID,
		StartDate: startDate,
		StartTime: "09:00:00",
		EndDate:   endDate,
		EndTime:   "17:00:00",
		Purpose:   "site visit",
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestReservationRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	seedFleet(t, storage)

	departure := time.Date(2025, 3, 10, 0, 5, 0, 0, time.UTC)
	res := sampleReservation("r1", "v1", "d1", "2025-03-10", "2025-03-10", "departed")
	res.ActualDeparture = &departure
	res.Approved = true
	res.ApprovedBy = "admin"

	if err := storage.Reservations.CreateReservation(ctx, res); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	got, err := storage.Reservations.GetReservation(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if got.Status != "departed" || !got.Approved || got.ApprovedBy != "admin" {
		t.Fatalf("unexpected reservation: %#v", got)
	}
	if got.ActualDeparture == nil || !got.ActualDeparture.Equal(departure) {
		t.Fatalf("expected departure %v, got %v", departure, got.ActualDeparture)
	}
	if got.ActualReturn != nil {
		t.Fatalf("expected no return, got %v", got.ActualReturn)
	}

	if err := storage.Reservations.CreateReservation(ctx, res); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := storage.Reservations.GetReservation(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReservationRepository_RejectsInvalidRows(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	seedFleet(t, storage)

	tests := []struct {
		name   string
		mutate func(*persistence.Reservation)
		want   error
	}{
		{"unknown status", func(r *persistence.Reservation) { r.Status = "reserved" }, persistence.ErrConstraintViolation},
		{"end before start", func(r *persistence.Reservation) { r.EndDate = "2025-03-09" }, persistence.ErrConstraintViolation},
		{"empty window", func(r *persistence.Reservation) { r.EndTime = r.StartTime }, persistence.ErrConstraintViolation},
		{"unknown vehicle", func(r *persistence.Reservation) { r.VehicleID = "v9" }, persistence.ErrForeignKeyViolation},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sampleReservation("bad-"+string(rune('a'+i)), "v1", "d1", "2025-03-10", "2025-03-10", "applying")
			tt.mutate(&res)
			if err := storage.Reservations.CreateReservation(ctx, res); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestReservationRepository_ConditionalWrites(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	seedFleet(t, storage)

	res := sampleReservation("r1", "v1", "d1", "2025-03-10", "2025-03-10", "applying")
	if err := storage.Reservations.CreateReservation(ctx, res); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	res.Status = "booked"
	res.Approved = true
	if err := storage.Reservations.UpdateReservation(ctx, res, "applying"); err != nil {
		t.Fatalf("UpdateReservation failed: %v", err)
	}

	// A second writer that still believes the row is applying loses.
	res.Status = "canceled"
	if err := storage.Reservations.UpdateReservation(ctx, res, "applying"); !errors.Is(err, persistence.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
	if err := storage.Reservations.DeleteReservation(ctx, "r1", "applying"); !errors.Is(err, persistence.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite on delete, got %v", err)
	}

	missing := sampleReservation("nope", "v1", "d1", "2025-03-10", "2025-03-10", "booked")
	if err := storage.Reservations.UpdateReservation(ctx, missing, "booked"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := storage.Reservations.GetReservation(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if got.Status != "booked" {
		t.Fatalf("expected booked, got %s", got.Status)
	}

	if err := storage.Reservations.DeleteReservation(ctx, "r1", "booked"); err != nil {
		t.Fatalf("DeleteReservation failed: %v", err)
	}
	if _, err := storage.Reservations.GetReservation(ctx, "r1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestReservationRepository_ListFilter(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	seedFleet(t, storage)

	rows := []persistence.Reservation{
		sampleReservation("r1", "v1", "d1", "2025-03-10", "2025-03-10", "booked"),
		sampleReservation("r2", "v1", "d2", "2025-03-11", "2025-03-13", "applying"),
		sampleReservation("r3", "v2", "d1", "2025-03-12", "2025-03-12", "canceled"),
		sampleReservation("r4", "v2", "d2", "2025-03-20", "2025-03-21", "booked"),
	}
	rows[3].CreatedAt = rows[3].CreatedAt.Add(48 * time.Hour)
	for _, r := range rows {
		if err := storage.Reservations.CreateReservation(ctx, r); err != nil {
			t.Fatalf("CreateReservation(%s) failed: %v", r.ID, err)
		}
	}

	from, to := "2025-03-12", "2025-03-12"
	cutoff := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		filter persistence.ReservationFilter
		want   []string
	}{
		{"all", persistence.ReservationFilter{}, []string{"r1", "r2", "r3", "r4"}},
		{"by vehicle", persistence.ReservationFilter{VehicleIDs: []string{"v2"}}, []string{"r3", "r4"}},
		{"by driver and status", persistence.ReservationFilter{DriverIDs: []string{"d2"}, Statuses: []string{"booked"}}, []string{"r4"}},
		{"date intersection", persistence.ReservationFilter{DateFrom: &from, DateTo: &to}, []string{"r2", "r3"}},
		{"created before", persistence.ReservationFilter{CreatedBefore: &cutoff}, []string{"r1", "r2", "r3"}},
		{"by ids", persistence.ReservationFilter{IDs: []string{"r4", "r1"}}, []string{"r1", "r4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.Reservations.ListReservations(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListReservations failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d rows, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Fatalf("row %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestVehicleRepository_SetVehicleStatus(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	seedFleet(t, storage)

	if err := storage.Vehicles.SetVehicleStatus(ctx, "v1", "in_use"); err != nil {
		t.Fatalf("SetVehicleStatus failed: %v", err)
	}
	v, err := storage.Vehicles.GetVehicle(ctx, "v1")
	if err != nil {
		t.Fatalf("GetVehicle failed: %v", err)
	}
	if v.Status != "in_use" {
		t.Fatalf("expected in_use, got %s", v.Status)
	}

	if err := storage.Vehicles.SetVehicleStatus(ctx, "v9", "available"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := storage.Vehicles.SetVehicleStatus(ctx, "v1", "parked"); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}

	vehicles, err := storage.Vehicles.ListVehicles(ctx)
	if err != nil {
		t.Fatalf("ListVehicles failed: %v", err)
	}
	if len(vehicles) != 2 {
		t.Fatalf("expected 2 vehicles, got %d", len(vehicles))
	}
}

func TestDriverRepository_Lookup(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	seedFleet(t, storage)

	d, err := storage.Drivers.GetDriverByUserID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetDriverByUserID failed: %v", err)
	}
	if d.ID != "d1" {
		t.Fatalf("expected d1, got %s", d.ID)
	}

	d2, err := storage.Drivers.GetDriver(ctx, "d2")
	if err != nil {
		t.Fatalf("GetDriver failed: %v", err)
	}
	if d2.UserID != "" {
		t.Fatalf("expected unlinked driver, got user %q", d2.UserID)
	}

	if _, err := storage.Drivers.GetDriverByUserID(ctx, ""); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	drivers, err := storage.Drivers.ListDrivers(ctx)
	if err != nil {
		t.Fatalf("ListDrivers failed: %v", err)
	}
	if len(drivers) != 2 || drivers[0].Name != "Sato" {
		t.Fatalf("unexpected drivers: %#v", drivers)
	}
}

func TestDailyReportRepository(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	seedFleet(t, storage)

	created := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	for i, date := range []string{"2025-03-09", "2025-03-10", "2025-03-11"} {
		report := persistence.DailyReport{
			ID:        "rep-" + date,
			DriverID:  "d1",
			Date:      date,
			CreatedAt: created.Add(time.Duration(i) * time.Hour),
			UpdatedAt: created,
		}
		if err := storage.Reports.CreateDailyReport(ctx, report); err != nil {
			t.Fatalf("CreateDailyReport failed: %v", err)
		}
	}

	dup := persistence.DailyReport{ID: "rep-dup", DriverID: "d1", Date: "2025-03-10", CreatedAt: created, UpdatedAt: created}
	if err := storage.Reports.CreateDailyReport(ctx, dup); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second report on a day, got %v", err)
	}

	reports, err := storage.Reports.ListDailyReports(ctx, "d1", "2025-03-10", "2025-03-11")
	if err != nil {
		t.Fatalf("ListDailyReports failed: %v", err)
	}
	if len(reports) != 2 || reports[0].Date != "2025-03-10" {
		t.Fatalf("unexpected reports: %#v", reports)
	}

	in, out := "09:00:00", "18:30:00"
	synced := created.Add(time.Hour)
	report := reports[0]
	report.ClockIn = &in
	report.ClockOut = &out
	report.SyncSource = "reservation_to_report"
	report.SyncedAt = &synced
	report.UpdatedAt = synced
	if err := storage.Reports.UpdateDailyReportClock(ctx, report); err != nil {
		t.Fatalf("UpdateDailyReportClock failed: %v", err)
	}

	got, err := storage.Reports.GetDailyReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("GetDailyReport failed: %v", err)
	}
	if got.ClockIn == nil || *got.ClockIn != in || got.ClockOut == nil || *got.ClockOut != out {
		t.Fatalf("unexpected clock times: %v %v", got.ClockIn, got.ClockOut)
	}
	if got.SyncSource != "reservation_to_report" || got.SyncedAt == nil || !got.SyncedAt.Equal(synced) {
		t.Fatalf("unexpected sync marker: %q %v", got.SyncSource, got.SyncedAt)
	}

	report.ID = "rep-missing"
	if err := storage.Reports.UpdateDailyReportClock(ctx, report); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrate_RewritesLegacyStatuses(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "legacy.db")
	storage, err := OpenWithConfig(migration.TempFileTestSQLiteConfig(dsn))
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	initial, err := fs.ReadFile(migrationFiles, "migrations/001_initial_schema.sql")
	if err != nil {
		t.Fatalf("read initial migration: %v", err)
	}
	legacyOnly := fstest.MapFS{"migrations/001_initial_schema.sql": {Data: initial}}
	if _, err := migration.NewManager(storage.Pool().DB(), legacyOnly, "migrations", nil).Run(ctx); err != nil {
		t.Fatalf("apply initial schema: %v", err)
	}

	seedFleet(t, storage)
	legacy := map[string]string{"r1": "pending", "r2": "Reserved", "r3": "out", "r4": "cancelled", "r5": "completed", "r6": "done", "r7": "cancel"}
	for id, status := range legacy {
		_, err := storage.Pool().DB().ExecContext(ctx, `
			INSERT INTO reservations (id, vehicle_id, driver_id, start_date, start_time, end_date, end_time, status, created_at, updated_at)
			VALUES (?, 'v1', 'd1', '2025-03-10', '09:00:00', '2025-03-10', '17:00:00', ?, ?, ?)`,
			id, status, formatTimestamp(time.Now()), formatTimestamp(time.Now()))
		if err != nil {
			t.Fatalf("insert legacy row %s: %v", id, err)
		}
	}

	applied, err := storage.Migrate(ctx, nil)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if len(applied) != 1 || applied[0] != "002" {
		t.Fatalf("expected only 002 to be applied, got %v", applied)
	}

	want := map[string]string{"r1": "applying", "r2": "booked", "r3": "departed", "r4": "canceled", "r5": "completed", "r6": "completed", "r7": "canceled"}
	for id, status := range want {
		got, err := storage.Reservations.GetReservation(ctx, id)
		if err != nil {
			t.Fatalf("GetReservation(%s) failed: %v", id, err)
		}
		if got.Status != status {
			t.Errorf("%s: expected %s, got %s", id, status, got.Status)
		}
	}

	status, err := storage.MigrationStatus(ctx, nil)
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if len(status.Pending) != 0 {
		t.Fatalf("expected no pending migrations, got %d", len(status.Pending))
	}
}

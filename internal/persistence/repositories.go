package persistence

import (
	"context"
	"time"
)

// ReservationFilter narrows reservation queries. DateFrom and DateTo are YYYY-MM-DD and select
// reservations whose [start_date, end_date] intersects [DateFrom, DateTo].
type ReservationFilter struct {
	IDs           []string
	VehicleIDs    []string
	DriverIDs     []string
	Statuses      []string
	DateFrom      *string
	DateTo        *string
	CreatedBefore *time.Time
}

// ReservationRepository stores reservations. Updates and deletes are conditional on the
// status the caller last read.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	UpdateReservation(ctx context.Context, reservation Reservation, expectedStatus string) error
	DeleteReservation(ctx context.Context, id string, expectedStatus string) error
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
}

// VehicleRepository exposes the vehicle catalog.
type VehicleRepository interface {
	CreateVehicle(ctx context.Context, vehicle Vehicle) error
	GetVehicle(ctx context.Context, id string) (Vehicle, error)
	ListVehicles(ctx context.Context) ([]Vehicle, error)
	SetVehicleStatus(ctx context.Context, id string, status string) error
}

// DriverRepository exposes driver profiles.
type DriverRepository interface {
	CreateDriver(ctx context.Context, driver Driver) error
	GetDriver(ctx context.Context, id string) (Driver, error)
	GetDriverByUserID(ctx context.Context, userID string) (Driver, error)
	ListDrivers(ctx context.Context) ([]Driver, error)
}

// DailyReportRepository stores daily reports.
type DailyReportRepository interface {
	CreateDailyReport(ctx context.Context, report DailyReport) error
	GetDailyReport(ctx context.Context, id string) (DailyReport, error)
	ListDailyReports(ctx context.Context, driverID, from, to string) ([]DailyReport, error)
	UpdateDailyReportClock(ctx context.Context, report DailyReport) error
}

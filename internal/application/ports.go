package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/fleet-reservations/internal/scheduler"
)

// ReservationRepository captures the persistence interactions needed by the services.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, reservation Reservation) (Reservation, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	// UpdateReservation writes the reservation only if its stored status still equals expected.
	UpdateReservation(ctx context.Context, reservation Reservation, expected Status) (Reservation, error)
	DeleteReservation(ctx context.Context, id string, expected Status) error
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
}

// ReservationFilter narrows queries issued to the reservation repository.
// DateFrom and DateTo select windows whose calendar days intersect [DateFrom, DateTo].
type ReservationFilter struct {
	IDs           []string
	VehicleIDs    []string
	DriverIDs     []string
	Statuses      []Status
	DateFrom      *scheduler.Date
	DateTo        *scheduler.Date
	CreatedBefore *time.Time
}

// DriverDirectory exposes driver lookup operations.
type DriverDirectory interface {
	DriverForUser(ctx context.Context, userID string) (DriverRef, error)
	GetDriver(ctx context.Context, id string) (DriverRef, error)
	ListDrivers(ctx context.Context) ([]DriverRef, error)
}

// VehicleCatalog exposes vehicle lookup and the vehicle-level status mirror.
type VehicleCatalog interface {
	GetVehicle(ctx context.Context, id string) (VehicleRef, error)
	ListVehicles(ctx context.Context) ([]VehicleRef, error)
	SetVehicleStatus(ctx context.Context, id string, status VehicleStatus) error
}

// DailyReportRepository exposes the report fields the synchronizer reads and writes.
type DailyReportRepository interface {
	GetReport(ctx context.Context, id string) (DailyReport, error)
	ListReportsForDriver(ctx context.Context, driverID string, from, to scheduler.Date) ([]DailyReport, error)
	UpdateReportClock(ctx context.Context, report DailyReport) (DailyReport, error)
}

// Notifier delivers notifications. Failures never block the caller.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// EventPublisher announces reservation status changes.
type EventPublisher interface {
	PublishTransition(ctx context.Context, event TransitionEvent) error
}

// VehicleLocker serializes read-check-write sequences on one vehicle's reservations.
type VehicleLocker interface {
	Lock(ctx context.Context, vehicleID string) (unlock func(), err error)
}

// Dependencies wires collaborators shared by the reservation services.
type Dependencies struct {
	Reservations ReservationRepository
	Drivers      DriverDirectory
	Vehicles     VehicleCatalog
	Reports      DailyReportRepository
	Locker       VehicleLocker
	Notifier     Notifier
	Events       EventPublisher
	IDGenerator  func() string
	Now          func() time.Time
	Logger       *slog.Logger
}

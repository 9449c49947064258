package application

import (
	"time"

	"github.com/example/fleet-reservations/internal/scheduler"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Reservation books one vehicle for one driver over a window.
type Reservation struct {
	ID               string
	VehicleID        string
	DriverID         string
	Window           scheduler.Window
	Purpose          string
	Status           Status
	ActualDeparture  *time.Time
	ActualReturn     *time.Time
	Approved         bool
	ApprovedBySystem bool
	ApprovalTime     *time.Time
	ApprovedBy       string
	// SyncSource names the sync direction that produced the last write, empty for direct edits.
	SyncSource string
	SyncedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r Reservation) booking() scheduler.Booking {
	return scheduler.Booking{
		ID:        r.ID,
		VehicleID: r.VehicleID,
		DriverID:  r.DriverID,
		Window:    r.Window,
		CreatedAt: r.CreatedAt,
	}
}

func toBookings(reservations []Reservation) []scheduler.Booking {
	out := make([]scheduler.Booking, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, r.booking())
	}
	return out
}

// DriverRef is the staff profile a reservation belongs to.
type DriverRef struct {
	ID     string
	UserID string
	Name   string
	Code   string
	Email  string
}

// VehicleStatus is the vehicle-level mirror of reservation state.
type VehicleStatus string

const (
	VehicleAvailable VehicleStatus = "available"
	VehicleInUse     VehicleStatus = "in_use"
)

// VehicleRef is a fleet vehicle.
type VehicleRef struct {
	ID     string
	Plate  string
	Code   string
	Name   string
	Status VehicleStatus
}

// DailyReport is the narrow view of a driver's daily work report used for synchronization.
type DailyReport struct {
	ID         string
	DriverID   string
	Date       scheduler.Date
	ClockIn    *scheduler.TimeOfDay
	ClockOut   *scheduler.TimeOfDay
	SyncSource string
	SyncedAt   *time.Time
	UpdatedAt  time.Time
}

// NotificationKind identifies why a notification was sent.
type NotificationKind string

const (
	NotificationReservationCreated  NotificationKind = "reservation_created"
	NotificationReservationApproved NotificationKind = "reservation_approved"
	NotificationReservationCanceled NotificationKind = "reservation_canceled"
)

// Notification is a fire-and-forget message about a reservation.
type Notification struct {
	Kind          NotificationKind
	Subject       string
	Recipients    []string
	Body          string
	ReservationID string
	VehicleID     string
	DriverID      string
}

// TransitionEvent records one status change of a reservation.
type TransitionEvent struct {
	ReservationID string
	VehicleID     string
	DriverID      string
	From          Status
	To            Status
	Actor         string
	At            time.Time
}

// CreateReservationParams wraps the data required to create a reservation.
type CreateReservationParams struct {
	Principal Principal
	VehicleID string
	// DriverID may be set by administrators booking on behalf of a driver.
	DriverID string
	Window   scheduler.Window
	Purpose  string
}

// UpdateReservationParams wraps the data required to edit a pending reservation.
type UpdateReservationParams struct {
	Principal     Principal
	ReservationID string
	VehicleID     string
	Window        scheduler.Window
	Purpose       string
}

// ListReservationsParams narrows reservation listings.
type ListReservationsParams struct {
	Principal Principal
	VehicleID string
	DriverID  string
	From      *scheduler.Date
	To        *scheduler.Date
	Statuses  []Status
}

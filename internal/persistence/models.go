package persistence

import "time"

// Reservation is the stored form of a vehicle reservation.
// Dates are YYYY-MM-DD and times HH:MM:SS wall clock values in the fleet's zone.
type Reservation struct {
	ID               string
	VehicleID        string
	DriverID         string
	StartDate        string
	StartTime        string
	EndDate          string
	EndTime          string
	Purpose          string
	Status           string
	ActualDeparture  *time.Time
	ActualReturn     *time.Time
	Approved         bool
	ApprovedBySystem bool
	ApprovalTime     *time.Time
	ApprovedBy       string
	SyncSource       string
	SyncedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Vehicle is a fleet vehicle catalog entry.
type Vehicle struct {
	ID        string
	Plate     string
	Code      string
	Name      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Driver is a staff member allowed to book vehicles.
type Driver struct {
	ID        string
	UserID    string
	Code      string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DailyReport is a driver's daily work report. Clock times are HH:MM:SS or nil.
type DailyReport struct {
	ID         string
	DriverID   string
	Date       string
	ClockIn    *string
	ClockOut   *string
	SyncSource string
	SyncedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

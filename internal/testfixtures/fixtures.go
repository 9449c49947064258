package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/persistence"
	"github.com/example/fleet-reservations/internal/scheduler"
)

var (
	vehicleCounter     uint64
	driverCounter      uint64
	reservationCounter uint64
	reportCounter      uint64
)

// JST is the fleet's wall clock zone. A fixed zone keeps fixtures independent of tzdata.
var JST = time.FixedZone("JST", 9*60*60)

var referenceTime = time.Date(2025, time.March, 10, 7, 0, 0, 0, JST)

// ReferenceTime returns the canonical baseline instant used by fixtures: 2025-03-10 07:00 JST.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferenceDate is the calendar day of ReferenceTime.
func ReferenceDate() scheduler.Date {
	return scheduler.DateOf(referenceTime)
}

// Window builds a window on the given days from HH:MM values. It panics on malformed input.
func Window(startDate scheduler.Date, start string, endDate scheduler.Date, end string) scheduler.Window {
	return scheduler.Window{
		StartDate: startDate,
		StartTime: MustTime(start),
		EndDate:   endDate,
		EndTime:   MustTime(end),
	}
}

// DayWindow builds a same-day window.
func DayWindow(day scheduler.Date, start, end string) scheduler.Window {
	return Window(day, start, day, end)
}

// MustTime parses HH:MM or HH:MM:SS and panics on failure.
func MustTime(value string) scheduler.TimeOfDay {
	tod, err := scheduler.ParseTimeOfDay(value)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: %v", err))
	}
	return tod
}

// ---------------------------- Vehicle fixtures ----------------------------

// VehicleFixture is a deterministic fleet vehicle.
type VehicleFixture struct {
	ID        string
	Plate     string
	Code      string
	Name      string
	Status    application.VehicleStatus
	CreatedAt time.Time
}

// VehicleOption configures the generated vehicle fixture.
type VehicleOption func(*VehicleFixture)

// NewVehicleFixture returns a deterministic vehicle fixture with optional overrides.
func NewVehicleFixture(opts ...VehicleOption) VehicleFixture {
	idx := atomic.AddUint64(&vehicleCounter, 1)
	fixture := VehicleFixture{
		ID:        fmt.Sprintf("vehicle-%03d", idx),
		Plate:     fmt.Sprintf("品川 300 あ %02d-%02d", idx/100, idx%100),
		Code:      fmt.Sprintf("V-%03d", idx),
		Name:      fmt.Sprintf("Vehicle %03d", idx),
		Status:    application.VehicleAvailable,
		CreatedAt: referenceTime.Add(-24 * time.Hour),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithVehicleID overrides the generated vehicle ID.
func WithVehicleID(id string) VehicleOption {
	return func(f *VehicleFixture) { f.ID = id }
}

// WithVehiclePlate overrides the licence plate.
func WithVehiclePlate(plate string) VehicleOption {
	return func(f *VehicleFixture) { f.Plate = plate }
}

// WithVehicleName overrides the display name.
func WithVehicleName(name string) VehicleOption {
	return func(f *VehicleFixture) { f.Name = name }
}

// Application converts the fixture into its application representation.
func (f VehicleFixture) Application() application.VehicleRef {
	return application.VehicleRef{ID: f.ID, Plate: f.Plate, Code: f.Code, Name: f.Name, Status: f.Status}
}

// Persistence converts the fixture into its stored representation.
func (f VehicleFixture) Persistence() persistence.Vehicle {
	return persistence.Vehicle{
		ID:        f.ID,
		Plate:     f.Plate,
		Code:      f.Code,
		Name:      f.Name,
		Status:    string(f.Status),
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.CreatedAt,
	}
}

// ---------------------------- Driver fixtures -----------------------------

// DriverFixture is a deterministic driver profile linked to a login user.
type DriverFixture struct {
	ID        string
	UserID    string
	Code      string
	Name      string
	Email     string
	CreatedAt time.Time
}

// DriverOption configures the generated driver fixture.
type DriverOption func(*DriverFixture)

// NewDriverFixture returns a deterministic driver fixture with optional overrides.
func NewDriverFixture(opts ...DriverOption) DriverFixture {
	idx := atomic.AddUint64(&driverCounter, 1)
	id := fmt.Sprintf("driver-%03d", idx)
	fixture := DriverFixture{
		ID:        id,
		UserID:    fmt.Sprintf("user-%03d", idx),
		Code:      fmt.Sprintf("D-%03d", idx),
		Name:      fmt.Sprintf("Driver %03d", idx),
		Email:     fmt.Sprintf("%s@example.com", id),
		CreatedAt: referenceTime.Add(-24 * time.Hour),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithDriverID overrides the generated driver ID.
func WithDriverID(id string) DriverOption {
	return func(f *DriverFixture) { f.ID = id }
}

// WithDriverUserID overrides the linked login user. An empty value leaves the driver unlinked.
func WithDriverUserID(userID string) DriverOption {
	return func(f *DriverFixture) { f.UserID = userID }
}

// WithDriverName overrides the display name.
func WithDriverName(name string) DriverOption {
	return func(f *DriverFixture) { f.Name = name }
}

// Principal returns the non-admin principal acting as this driver.
func (f DriverFixture) Principal() application.Principal {
	return application.Principal{UserID: f.UserID}
}

// Application converts the fixture into its application representation.
func (f DriverFixture) Application() application.DriverRef {
	return application.DriverRef{ID: f.ID, UserID: f.UserID, Name: f.Name, Code: f.Code, Email: f.Email}
}

// Persistence converts the fixture into its stored representation.
func (f DriverFixture) Persistence() persistence.Driver {
	return persistence.Driver{
		ID:        f.ID,
		UserID:    f.UserID,
		Code:      f.Code,
		Name:      f.Name,
		Email:     f.Email,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.CreatedAt,
	}
}

// -------------------------- Reservation fixtures --------------------------

// ReservationFixture is a deterministic reservation. The default is a booked
// 09:00-17:00 window on the reference date.
type ReservationFixture struct {
	ID               string
	VehicleID        string
	DriverID         string
	Window           scheduler.Window
	Purpose          string
	Status           application.Status
	ActualDeparture  *time.Time
	ActualReturn     *time.Time
	Approved         bool
	ApprovedBySystem bool
	ApprovalTime     *time.Time
	ApprovedBy       string
	SyncSource       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ReservationOption configures the generated reservation fixture.
type ReservationOption func(*ReservationFixture)

// NewReservationFixture returns a deterministic reservation fixture with optional overrides.
func NewReservationFixture(opts ...ReservationOption) ReservationFixture {
	idx := atomic.AddUint64(&reservationCounter, 1)
	created := referenceTime.Add(-48 * time.Hour).Add(time.Duration(idx) * time.Minute)
	approval := created
	fixture := ReservationFixture{
		ID:           fmt.Sprintf("reservation-%03d", idx),
		VehicleID:    "vehicle-001",
		DriverID:     "driver-001",
		Window:       DayWindow(ReferenceDate(), "09:00", "17:00"),
		Purpose:      fmt.Sprintf("Delivery route %03d", idx),
		Status:       application.StatusBooked,
		Approved:     true,
		ApprovalTime: &approval,
		ApprovedBy:   "admin",
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithReservationID overrides the generated reservation ID.
func WithReservationID(id string) ReservationOption {
	return func(f *ReservationFixture) { f.ID = id }
}

// WithReservationVehicle sets the reserved vehicle.
func WithReservationVehicle(vehicleID string) ReservationOption {
	return func(f *ReservationFixture) { f.VehicleID = vehicleID }
}

// WithReservationDriver sets the driver.
func WithReservationDriver(driverID string) ReservationOption {
	return func(f *ReservationFixture) { f.DriverID = driverID }
}

// WithReservationWindow sets the booked window.
func WithReservationWindow(w scheduler.Window) ReservationOption {
	return func(f *ReservationFixture) { f.Window = w }
}

// WithReservationStatus sets the status. Pending statuses clear the approval fields.
func WithReservationStatus(status application.Status) ReservationOption {
	return func(f *ReservationFixture) {
		f.Status = status
		if status == application.StatusApplying {
			f.Approved = false
			f.ApprovalTime = nil
			f.ApprovedBy = ""
		}
	}
}

// WithReservationDeparture records an actual departure instant.
func WithReservationDeparture(at time.Time) ReservationOption {
	return func(f *ReservationFixture) {
		v := at
		f.ActualDeparture = &v
	}
}

// WithReservationReturn records an actual return instant.
func WithReservationReturn(at time.Time) ReservationOption {
	return func(f *ReservationFixture) {
		v := at
		f.ActualReturn = &v
	}
}

// WithReservationCreatedAt overrides the creation and update timestamps.
func WithReservationCreatedAt(at time.Time) ReservationOption {
	return func(f *ReservationFixture) {
		f.CreatedAt = at
		f.UpdatedAt = at
	}
}

// WithReservationSyncSource marks the reservation as written by a sync direction.
func WithReservationSyncSource(source string) ReservationOption {
	return func(f *ReservationFixture) { f.SyncSource = source }
}

// Application converts the fixture into its application representation.
func (f ReservationFixture) Application() application.Reservation {
	return application.Reservation{
		ID:               f.ID,
		VehicleID:        f.VehicleID,
		DriverID:         f.DriverID,
		Window:           f.Window,
		Purpose:          f.Purpose,
		Status:           f.Status,
		ActualDeparture:  cloneTime(f.ActualDeparture),
		ActualReturn:     cloneTime(f.ActualReturn),
		Approved:         f.Approved,
		ApprovedBySystem: f.ApprovedBySystem,
		ApprovalTime:     cloneTime(f.ApprovalTime),
		ApprovedBy:       f.ApprovedBy,
		SyncSource:       f.SyncSource,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}
}

// Persistence converts the fixture into its stored representation.
func (f ReservationFixture) Persistence() persistence.Reservation {
	return persistence.Reservation{
		ID:               f.ID,
		VehicleID:        f.VehicleID,
		DriverID:         f.DriverID,
		StartDate:        f.Window.StartDate.String(),
		StartTime:        f.Window.StartTime.Format(),
		EndDate:          f.Window.EndDate.String(),
		EndTime:          f.Window.EndTime.Format(),
		Purpose:          f.Purpose,
		Status:           string(f.Status),
		ActualDeparture:  cloneTime(f.ActualDeparture),
		ActualReturn:     cloneTime(f.ActualReturn),
		Approved:         f.Approved,
		ApprovedBySystem: f.ApprovedBySystem,
		ApprovalTime:     cloneTime(f.ApprovalTime),
		ApprovedBy:       f.ApprovedBy,
		SyncSource:       f.SyncSource,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}
}

// ---------------------------- Report fixtures -----------------------------

// ReportFixture is a deterministic daily report without clock times.
type ReportFixture struct {
	ID        string
	DriverID  string
	Date      scheduler.Date
	ClockIn   *scheduler.TimeOfDay
	ClockOut  *scheduler.TimeOfDay
	CreatedAt time.Time
}

// ReportOption configures the generated report fixture.
type ReportOption func(*ReportFixture)

// NewReportFixture returns a deterministic report fixture with optional overrides.
func NewReportFixture(opts ...ReportOption) ReportFixture {
	idx := atomic.AddUint64(&reportCounter, 1)
	fixture := ReportFixture{
		ID:        fmt.Sprintf("report-%03d", idx),
		DriverID:  "driver-001",
		Date:      ReferenceDate(),
		CreatedAt: referenceTime.Add(-24 * time.Hour),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithReportID overrides the generated report ID.
func WithReportID(id string) ReportOption {
	return func(f *ReportFixture) { f.ID = id }
}

// WithReportDriver sets the reporting driver.
func WithReportDriver(driverID string) ReportOption {
	return func(f *ReportFixture) { f.DriverID = driverID }
}

// WithReportDate sets the report day.
func WithReportDate(d scheduler.Date) ReportOption {
	return func(f *ReportFixture) { f.Date = d }
}

// WithReportClock sets clock-in and clock-out from HH:MM values; empty strings leave a side unset.
func WithReportClock(in, out string) ReportOption {
	return func(f *ReportFixture) {
		f.ClockIn = optionalTime(in)
		f.ClockOut = optionalTime(out)
	}
}

// Application converts the fixture into its application representation.
func (f ReportFixture) Application() application.DailyReport {
	return application.DailyReport{
		ID:        f.ID,
		DriverID:  f.DriverID,
		Date:      f.Date,
		ClockIn:   cloneTimeOfDay(f.ClockIn),
		ClockOut:  cloneTimeOfDay(f.ClockOut),
		UpdatedAt: f.CreatedAt,
	}
}

// Persistence converts the fixture into its stored representation.
func (f ReportFixture) Persistence() persistence.DailyReport {
	return persistence.DailyReport{
		ID:        f.ID,
		DriverID:  f.DriverID,
		Date:      f.Date.String(),
		ClockIn:   formatOptional(f.ClockIn),
		ClockOut:  formatOptional(f.ClockOut),
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.CreatedAt,
	}
}

func optionalTime(value string) *scheduler.TimeOfDay {
	if value == "" {
		return nil
	}
	tod := MustTime(value)
	return &tod
}

func formatOptional(tod *scheduler.TimeOfDay) *string {
	if tod == nil {
		return nil
	}
	s := tod.Format()
	return &s
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneTimeOfDay(value *scheduler.TimeOfDay) *scheduler.TimeOfDay {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

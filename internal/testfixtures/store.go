package testfixtures

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/scheduler"
)

// Store is an in-memory implementation of the application repositories. Reservation
// writes honour the same compare-and-set contract as the SQLite repository.
type Store struct {
	mu           sync.Mutex
	reservations map[string]application.Reservation
	vehicles     map[string]application.VehicleRef
	drivers      map[string]application.DriverRef
	reports      map[string]application.DailyReport

	// BeforeUpdate, when set, runs before a conditional reservation write and may
	// mutate the store to simulate a concurrent writer.
	BeforeUpdate func(s *Store, reservation application.Reservation)
	// FailUpdate and FailList, when set, return an error that replaces the call's result.
	FailUpdate func(reservation application.Reservation) error
	FailList   func(filter application.ReservationFilter) error

	vehicleStatusWrites []VehicleStatusWrite
}

// VehicleStatusWrite records one SetVehicleStatus call.
type VehicleStatusWrite struct {
	VehicleID string
	Status    application.VehicleStatus
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		reservations: make(map[string]application.Reservation),
		vehicles:     make(map[string]application.VehicleRef),
		drivers:      make(map[string]application.DriverRef),
		reports:      make(map[string]application.DailyReport),
	}
}

// AddVehicle seeds a vehicle.
func (s *Store) AddVehicle(v application.VehicleRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.Status == "" {
		v.Status = application.VehicleAvailable
	}
	s.vehicles[v.ID] = v
}

// AddDriver seeds a driver.
func (s *Store) AddDriver(d application.DriverRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[d.ID] = d
}

// AddReport seeds a daily report.
func (s *Store) AddReport(r application.DailyReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = r
}

// PutReservation stores a reservation unconditionally.
func (s *Store) PutReservation(r application.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = r
}

// Reservation returns the stored reservation.
func (s *Store) Reservation(id string) (application.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	return r, ok
}

// Report returns the stored report.
func (s *Store) Report(id string) (application.DailyReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	return r, ok
}

// Vehicle returns the stored vehicle.
func (s *Store) Vehicle(id string) (application.VehicleRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	return v, ok
}

// VehicleStatusWrites returns every SetVehicleStatus call in order.
func (s *Store) VehicleStatusWrites() []VehicleStatusWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]VehicleStatusWrite, len(s.vehicleStatusWrites))
	copy(out, s.vehicleStatusWrites)
	return out
}

// CreateReservation implements application.ReservationRepository.
func (s *Store) CreateReservation(_ context.Context, r application.Reservation) (application.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reservations[r.ID]; exists {
		return application.Reservation{}, fmt.Errorf("reservation %s already exists", r.ID)
	}
	s.reservations[r.ID] = r
	return r, nil
}

// GetReservation implements application.ReservationRepository.
func (s *Store) GetReservation(_ context.Context, id string) (application.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return application.Reservation{}, application.ErrNotFound
	}
	return r, nil
}

// UpdateReservation implements application.ReservationRepository.
func (s *Store) UpdateReservation(_ context.Context, r application.Reservation, expected application.Status) (application.Reservation, error) {
	if hook := s.BeforeUpdate; hook != nil {
		hook(s, r)
	}
	if fail := s.FailUpdate; fail != nil {
		if err := fail(r); err != nil {
			return application.Reservation{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reservations[r.ID]
	if !ok {
		return application.Reservation{}, application.ErrNotFound
	}
	if current.Status != expected {
		return application.Reservation{}, application.ErrStaleState
	}
	s.reservations[r.ID] = r
	return r, nil
}

// DeleteReservation implements application.ReservationRepository.
func (s *Store) DeleteReservation(_ context.Context, id string, expected application.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reservations[id]
	if !ok {
		return application.ErrNotFound
	}
	if current.Status != expected {
		return application.ErrStaleState
	}
	delete(s.reservations, id)
	return nil
}

// ListReservations implements application.ReservationRepository, ordered by start then ID.
func (s *Store) ListReservations(_ context.Context, filter application.ReservationFilter) ([]application.Reservation, error) {
	if fail := s.FailList; fail != nil {
		if err := fail(filter); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]application.Reservation, 0)
	for _, r := range s.reservations {
		if matchesFilter(r, filter) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Window, out[j].Window
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c < 0
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func matchesFilter(r application.Reservation, f application.ReservationFilter) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, r.ID) {
		return false
	}
	if len(f.VehicleIDs) > 0 && !contains(f.VehicleIDs, r.VehicleID) {
		return false
	}
	if len(f.DriverIDs) > 0 && !contains(f.DriverIDs, r.DriverID) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == r.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DateFrom != nil && r.Window.EndDate.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && r.Window.StartDate.After(*f.DateTo) {
		return false
	}
	if f.CreatedBefore != nil && !r.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

func contains(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}
	return false
}

// DriverForUser implements application.DriverDirectory.
func (s *Store) DriverForUser(_ context.Context, userID string) (application.DriverRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID == "" {
		return application.DriverRef{}, application.ErrNotFound
	}
	for _, d := range s.drivers {
		if d.UserID == userID {
			return d, nil
		}
	}
	return application.DriverRef{}, application.ErrNotFound
}

// GetDriver implements application.DriverDirectory.
func (s *Store) GetDriver(_ context.Context, id string) (application.DriverRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return application.DriverRef{}, application.ErrNotFound
	}
	return d, nil
}

// ListDrivers implements application.DriverDirectory.
func (s *Store) ListDrivers(_ context.Context) ([]application.DriverRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]application.DriverRef, 0, len(s.drivers))
	for _, d := range s.drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetVehicle implements application.VehicleCatalog.
func (s *Store) GetVehicle(_ context.Context, id string) (application.VehicleRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return application.VehicleRef{}, application.ErrNotFound
	}
	return v, nil
}

// ListVehicles implements application.VehicleCatalog.
func (s *Store) ListVehicles(_ context.Context) ([]application.VehicleRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]application.VehicleRef, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetVehicleStatus implements application.VehicleCatalog.
func (s *Store) SetVehicleStatus(_ context.Context, id string, status application.VehicleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return application.ErrNotFound
	}
	v.Status = status
	s.vehicles[id] = v
	s.vehicleStatusWrites = append(s.vehicleStatusWrites, VehicleStatusWrite{VehicleID: id, Status: status})
	return nil
}

// GetReport implements application.DailyReportRepository.
func (s *Store) GetReport(_ context.Context, id string) (application.DailyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return application.DailyReport{}, application.ErrNotFound
	}
	return r, nil
}

// ListReportsForDriver implements application.DailyReportRepository.
func (s *Store) ListReportsForDriver(_ context.Context, driverID string, from, to scheduler.Date) ([]application.DailyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]application.DailyReport, 0)
	for _, r := range s.reports {
		if r.DriverID != driverID || r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateReportClock implements application.DailyReportRepository.
func (s *Store) UpdateReportClock(_ context.Context, report application.DailyReport) (application.DailyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reports[report.ID]
	if !ok {
		return application.DailyReport{}, application.ErrNotFound
	}
	current.ClockIn = report.ClockIn
	current.ClockOut = report.ClockOut
	current.SyncSource = report.SyncSource
	current.SyncedAt = report.SyncedAt
	current.UpdatedAt = report.UpdatedAt
	s.reports[report.ID] = current
	return current, nil
}

// RecordingNotifier captures notifications. Err, when set, is returned from every call.
type RecordingNotifier struct {
	mu            sync.Mutex
	notifications []application.Notification
	Err           error
}

// Notify implements application.Notifier.
func (n *RecordingNotifier) Notify(_ context.Context, notification application.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return n.Err
}

// Notifications returns the captured notifications in order.
func (n *RecordingNotifier) Notifications() []application.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]application.Notification, len(n.notifications))
	copy(out, n.notifications)
	return out
}

// RecordingEvents captures transition events.
type RecordingEvents struct {
	mu     sync.Mutex
	events []application.TransitionEvent
}

// PublishTransition implements application.EventPublisher.
func (e *RecordingEvents) PublishTransition(_ context.Context, event application.TransitionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

// Events returns the captured events in order.
func (e *RecordingEvents) Events() []application.TransitionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]application.TransitionEvent, len(e.events))
	copy(out, e.events)
	return out
}

// Transitions returns "from->to" strings for the captured events of one reservation.
func (e *RecordingEvents) Transitions(reservationID string) []string {
	var out []string
	for _, ev := range e.Events() {
		if ev.ReservationID == reservationID {
			out = append(out, fmt.Sprintf("%s->%s", ev.From, ev.To))
		}
	}
	return out
}

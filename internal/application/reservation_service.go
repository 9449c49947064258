package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/fleet-reservations/internal/scheduler"
)

// ReservationService orchestrates the foreground reservation lifecycle.
type ReservationService struct {
	*core
	sync *ReportSynchronizer
}

// NewReservationService wires dependencies for reservation operations.
func NewReservationService(deps Dependencies, policy Policy) *ReservationService {
	c := newCore(deps, policy)
	return &ReservationService{core: c, sync: &ReportSynchronizer{core: c}}
}

func (s *ReservationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReservationService", operation, attrs...)
}

// CreateReservation validates a booking request and stores it as applying.
func (s *ReservationService) CreateReservation(ctx context.Context, params CreateReservationParams) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}
	if s.reservations == nil {
		err = fmt.Errorf("reservation repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "CreateReservation",
		"principal_id", params.Principal.UserID,
		"vehicle_id", params.VehicleID,
	)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "failed to create reservation", err)
			return
		}
		logger.With("reservation_id", reservation.ID).InfoContext(ctx, "reservation created")
	}()

	driverID, err := s.resolveBookingDriver(ctx, params.Principal, params.DriverID)
	if err != nil {
		return
	}

	now := s.clock()
	candidate := Reservation{
		ID:        s.idGenerator(),
		VehicleID: strings.TrimSpace(params.VehicleID),
		DriverID:  driverID,
		Window:    params.Window,
		Purpose:   strings.TrimSpace(params.Purpose),
		Status:    StatusApplying,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err = s.validateCandidate(ctx, candidate, params.Principal, now); err != nil {
		return
	}
	if err = s.checkRules(ctx, candidate); err != nil {
		return
	}

	err = s.withVehicleLock(ctx, candidate.VehicleID, func() error {
		if err := s.ensureNoConflict(ctx, candidate, ActiveScope()); err != nil {
			return err
		}
		persisted, err := s.reservations.CreateReservation(ctx, candidate)
		if err != nil {
			return mapReservationRepoError(err)
		}
		reservation = persisted
		return nil
	})
	if err != nil {
		return
	}

	s.recordTransition(ctx, reservation, "", params.Principal.UserID)
	s.notify(ctx, Notification{
		Kind:          NotificationReservationCreated,
		Subject:       "New vehicle reservation",
		Recipients:    s.policy.AdminRecipients,
		Body:          fmt.Sprintf("Reservation %s for vehicle %s by driver %s: %s", reservation.ID, reservation.VehicleID, reservation.DriverID, reservation.Window),
		ReservationID: reservation.ID,
		VehicleID:     reservation.VehicleID,
		DriverID:      reservation.DriverID,
	})
	return
}

// UpdateReservation edits the vehicle, window or purpose of a reservation still applying.
func (s *ReservationService) UpdateReservation(ctx context.Context, params UpdateReservationParams) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateReservation",
		"principal_id", params.Principal.UserID,
		"reservation_id", params.ReservationID,
	)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "failed to update reservation", err)
			return
		}
		logger.InfoContext(ctx, "reservation updated")
	}()

	existing, err := s.reload(ctx, params.ReservationID)
	if err != nil {
		return
	}
	if err = s.authorizeOwner(ctx, params.Principal, existing, true); err != nil {
		return
	}
	if existing.Status != StatusApplying {
		err = &InvalidTransitionError{ReservationID: existing.ID, Operation: "edit", From: existing.Status}
		return
	}

	candidate := existing
	if vehicleID := strings.TrimSpace(params.VehicleID); vehicleID != "" {
		candidate.VehicleID = vehicleID
	}
	candidate.Window = params.Window
	candidate.Purpose = strings.TrimSpace(params.Purpose)

	if err = s.validateCandidate(ctx, candidate, params.Principal, s.clock()); err != nil {
		return
	}
	if err = s.checkRules(ctx, candidate); err != nil {
		return
	}

	// Both vehicles are locked in a fixed order when the edit moves the booking.
	lockIDs := []string{existing.VehicleID}
	if candidate.VehicleID != existing.VehicleID {
		lockIDs = append(lockIDs, candidate.VehicleID)
		if lockIDs[1] < lockIDs[0] {
			lockIDs[0], lockIDs[1] = lockIDs[1], lockIDs[0]
		}
	}
	err = s.withVehicleLocks(ctx, lockIDs, func() error {
		current, err := s.reload(ctx, existing.ID)
		if err != nil {
			return err
		}
		if current.Status != StatusApplying {
			return &InvalidTransitionError{ReservationID: current.ID, Operation: "edit", From: current.Status}
		}
		if err := s.ensureNoConflict(ctx, candidate, ActiveScope()); err != nil {
			return err
		}
		candidate.UpdatedAt = s.clock()
		candidate.SyncSource = ""
		persisted, err := s.reservations.UpdateReservation(ctx, candidate, StatusApplying)
		if err != nil {
			return mapReservationRepoError(err)
		}
		reservation = persisted
		return nil
	})
	return
}

func (s *ReservationService) withVehicleLocks(ctx context.Context, vehicleIDs []string, fn func() error) error {
	if len(vehicleIDs) == 0 {
		return fn()
	}
	return s.withVehicleLock(ctx, vehicleIDs[0], func() error {
		return s.withVehicleLocks(ctx, vehicleIDs[1:], fn)
	})
}

// Approve books a pending reservation after re-checking it against occupying reservations.
func (s *ReservationService) Approve(ctx context.Context, principal Principal, reservationID string) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Approve",
		"principal_id", principal.UserID,
		"reservation_id", reservationID,
	)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "failed to approve reservation", err)
			return
		}
		logger.InfoContext(ctx, "reservation approved")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	existing, err := s.reload(ctx, reservationID)
	if err != nil {
		return
	}

	err = s.withVehicleLock(ctx, existing.VehicleID, func() error {
		current, err := s.reload(ctx, reservationID)
		if err != nil {
			return err
		}
		reservation, err = s.approveLocked(ctx, current, principal.UserID, false)
		return err
	})
	if err != nil {
		return
	}

	s.notifyDriver(ctx, reservation, NotificationReservationApproved, "Vehicle reservation approved")
	return
}

// approveLocked must be called with the vehicle lock held.
func (c *core) approveLocked(ctx context.Context, r Reservation, actor string, bySystem bool) (Reservation, error) {
	if err := Transition(r.ID, "approve", r.Status, StatusBooked); err != nil {
		return Reservation{}, err
	}
	if err := c.ensureNoConflict(ctx, r, OccupyingScope()); err != nil {
		return Reservation{}, err
	}
	now := c.clock()
	return c.transition(ctx, r, StatusBooked, actor, func(updated *Reservation) {
		updated.Approved = true
		updated.ApprovedBySystem = bySystem
		updated.ApprovalTime = timePtr(now)
		updated.ApprovedBy = actor
		updated.SyncSource = ""
	})
}

// Withdraw cancels a reservation that has not been approved yet.
func (s *ReservationService) Withdraw(ctx context.Context, principal Principal, reservationID string) (Reservation, error) {
	return s.simpleTransition(ctx, principal, reservationID, "Withdraw", "withdraw", StatusCanceled, true, nil)
}

// MarkIncomplete flags a reservation whose driver skipped checkout formalities.
func (s *ReservationService) MarkIncomplete(ctx context.Context, principal Principal, reservationID string) (Reservation, error) {
	if !principal.IsAdmin {
		return Reservation{}, ErrUnauthorized
	}
	r, err := s.simpleTransition(ctx, principal, reservationID, "MarkIncomplete", "mark incomplete", StatusIncomplete, true, nil)
	if err != nil {
		return Reservation{}, err
	}
	s.releaseVehicle(ctx, r.VehicleID, r.ID)
	return r, nil
}

// ForceClose completes a departed or overdue reservation on the driver's behalf.
func (s *ReservationService) ForceClose(ctx context.Context, principal Principal, reservationID string) (Reservation, error) {
	if !principal.IsAdmin {
		return Reservation{}, ErrUnauthorized
	}
	now := s.clock()
	r, err := s.simpleTransition(ctx, principal, reservationID, "ForceClose", "force close", StatusCompleted, true, func(updated *Reservation) {
		if updated.ActualReturn == nil {
			updated.ActualReturn = timePtr(now)
		}
	})
	if err != nil {
		return Reservation{}, err
	}
	s.releaseVehicle(ctx, r.VehicleID, r.ID)
	s.syncToReport(ctx, r)
	return r, nil
}

func (s *ReservationService) simpleTransition(ctx context.Context, principal Principal, reservationID, operation, verb string, to Status, adminAllowed bool, mutate func(*Reservation)) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, operation,
		"principal_id", principal.UserID,
		"reservation_id", reservationID,
	)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "reservation transition rejected", err)
		}
	}()

	existing, err := s.reload(ctx, reservationID)
	if err != nil {
		return
	}
	if err = s.authorizeOwner(ctx, principal, existing, adminAllowed); err != nil {
		return
	}

	err = s.withVehicleLock(ctx, existing.VehicleID, func() error {
		current, err := s.reload(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := Transition(current.ID, verb, current.Status, to); err != nil {
			return err
		}
		reservation, err = s.transition(ctx, current, to, principal.UserID, func(updated *Reservation) {
			updated.SyncSource = ""
			if mutate != nil {
				mutate(updated)
			}
		})
		return err
	})
	return
}

// DeleteReservation physically removes a reservation while it is applying or booked.
func (s *ReservationService) DeleteReservation(ctx context.Context, principal Principal, reservationID string) (err error) {
	if s == nil {
		return fmt.Errorf("ReservationService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteReservation",
		"principal_id", principal.UserID,
		"reservation_id", reservationID,
	)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "failed to delete reservation", err)
			return
		}
		logger.InfoContext(ctx, "reservation deleted")
	}()

	existing, err := s.reload(ctx, reservationID)
	if err != nil {
		return
	}
	if err = s.authorizeOwner(ctx, principal, existing, true); err != nil {
		return
	}

	return s.withVehicleLock(ctx, existing.VehicleID, func() error {
		current, err := s.reload(ctx, reservationID)
		if err != nil {
			return err
		}
		if current.Status != StatusApplying && current.Status != StatusBooked {
			return &InvalidTransitionError{ReservationID: current.ID, Operation: "delete", From: current.Status}
		}
		return mapReservationRepoError(s.reservations.DeleteReservation(ctx, current.ID, current.Status))
	})
}

// RecordDeparture marks the driver's checkout. The driver must have rested since their
// previous return.
func (s *ReservationService) RecordDeparture(ctx context.Context, principal Principal, reservationID string, at time.Time) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "RecordDeparture",
		"principal_id", principal.UserID,
		"reservation_id", reservationID,
	)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "failed to record departure", err)
			return
		}
		logger.InfoContext(ctx, "departure recorded", "at", reservation.ActualDeparture)
	}()

	existing, err := s.reload(ctx, reservationID)
	if err != nil {
		return
	}
	if err = s.authorizeOwner(ctx, principal, existing, false); err != nil {
		return
	}
	if at.IsZero() {
		at = s.now()
	}
	at = scheduler.NormalizeInstant(at, s.loc())

	err = s.withVehicleLock(ctx, existing.VehicleID, func() error {
		current, err := s.reload(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := Transition(current.ID, "record departure", current.Status, StatusDeparted); err != nil {
			return err
		}
		if err := s.checkRestSincePreviousReturn(ctx, current, at); err != nil {
			return err
		}
		reservation, err = s.transition(ctx, current, StatusDeparted, principal.UserID, func(updated *Reservation) {
			updated.ActualDeparture = timePtr(at)
			updated.SyncSource = ""
		})
		return err
	})
	if err != nil {
		return
	}

	s.setVehicleStatus(ctx, reservation.VehicleID, VehicleInUse)
	s.syncToReport(ctx, reservation)
	return
}

// checkRestSincePreviousReturn measures rest from the latest end of the driver's other
// reservations. The actual return counts when recorded, the window end otherwise.
func (s *ReservationService) checkRestSincePreviousReturn(ctx context.Context, r Reservation, departure time.Time) error {
	gap := s.policy.Limits.RestGap
	if gap <= 0 {
		return nil
	}
	from, to := scheduler.DateOf(departure.Add(-gap)).AddDays(-1), scheduler.DateOf(departure)
	previous, err := s.reservations.ListReservations(ctx, ReservationFilter{
		DriverIDs: []string{r.DriverID},
		Statuses:  nonCanceledScope(),
		DateFrom:  &from,
		DateTo:    &to,
	})
	if err != nil {
		return mapReservationRepoError(err)
	}

	var (
		latest   time.Time
		latestID string
	)
	for _, p := range previous {
		if p.ID == r.ID {
			continue
		}
		end := p.Window.End(s.loc())
		if p.ActualReturn != nil {
			end = *p.ActualReturn
		}
		if end.After(departure) {
			continue
		}
		if end.After(latest) {
			latest, latestID = end, p.ID
		}
	}
	if latestID == "" {
		return nil
	}
	if rest := departure.Sub(latest); rest < gap {
		return &RestGapError{Violations: []scheduler.RuleViolation{{
			Rule:              scheduler.RuleRestGap,
			Message:           fmt.Sprintf("only %s since the end of reservation %s, need %s", rest, latestID, gap),
			WithReservationID: latestID,
			Gap:               rest,
		}}}
	}
	return nil
}

// RecordReturn marks the driver's check-in and completes the reservation.
func (s *ReservationService) RecordReturn(ctx context.Context, principal Principal, reservationID string, at time.Time) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "RecordReturn",
		"principal_id", principal.UserID,
		"reservation_id", reservationID,
	)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "failed to record return", err)
			return
		}
		logger.InfoContext(ctx, "return recorded", "at", reservation.ActualReturn)
	}()

	existing, err := s.reload(ctx, reservationID)
	if err != nil {
		return
	}
	if err = s.authorizeOwner(ctx, principal, existing, false); err != nil {
		return
	}
	if at.IsZero() {
		at = s.now()
	}
	at = scheduler.NormalizeInstant(at, s.loc())

	err = s.withVehicleLock(ctx, existing.VehicleID, func() error {
		current, err := s.reload(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := Transition(current.ID, "record return", current.Status, StatusCompleted); err != nil {
			return err
		}
		if current.ActualDeparture == nil {
			return &InvalidTransitionError{ReservationID: current.ID, Operation: "record return without departure", From: current.Status}
		}
		if !at.After(*current.ActualDeparture) {
			return newValidationError("actual_return", "return must be after departure")
		}
		reservation, err = s.transition(ctx, current, StatusCompleted, principal.UserID, func(updated *Reservation) {
			updated.ActualReturn = timePtr(at)
			updated.SyncSource = ""
		})
		return err
	})
	if err != nil {
		return
	}

	s.releaseVehicle(ctx, reservation.VehicleID, reservation.ID)
	s.syncToReport(ctx, reservation)
	return
}

// GetReservation returns a reservation visible to the principal.
func (s *ReservationService) GetReservation(ctx context.Context, principal Principal, reservationID string) (Reservation, error) {
	if s == nil {
		return Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	r, err := s.reload(ctx, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	if err := s.authorizeOwner(ctx, principal, r, true); err != nil {
		return Reservation{}, err
	}
	return r, nil
}

// ListReservations enumerates reservations; drivers only see their own.
func (s *ReservationService) ListReservations(ctx context.Context, params ListReservationsParams) ([]Reservation, error) {
	if s == nil {
		return nil, fmt.Errorf("ReservationService is nil")
	}

	filter := ReservationFilter{
		Statuses: params.Statuses,
		DateFrom: params.From,
		DateTo:   params.To,
	}
	if params.VehicleID != "" {
		filter.VehicleIDs = []string{params.VehicleID}
	}
	if params.DriverID != "" {
		filter.DriverIDs = []string{params.DriverID}
	}
	if !params.Principal.IsAdmin {
		driver, err := s.driverFor(ctx, params.Principal)
		if err != nil {
			return nil, err
		}
		if params.DriverID != "" && params.DriverID != driver.ID {
			return nil, ErrUnauthorized
		}
		filter.DriverIDs = []string{driver.ID}
	}

	reservations, err := s.reservations.ListReservations(ctx, filter)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return reservations, nil
}

// resolveBookingDriver maps the principal to the driver the booking is for.
func (s *ReservationService) resolveBookingDriver(ctx context.Context, principal Principal, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if principal.IsAdmin && requested != "" {
		if s.drivers != nil {
			if _, err := s.drivers.GetDriver(ctx, requested); err != nil {
				if isNotFoundError(err) {
					return "", newValidationError("driver_id", "driver does not exist")
				}
				return "", err
			}
		}
		return requested, nil
	}

	driver, err := s.driverFor(ctx, principal)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) && requested == "" {
			return "", newValidationError("driver_id", "no driver profile for user")
		}
		return "", err
	}
	if requested != "" && requested != driver.ID {
		return "", ErrUnauthorized
	}
	return driver.ID, nil
}

func (s *ReservationService) validateCandidate(ctx context.Context, candidate Reservation, principal Principal, now time.Time) error {
	vErr := &ValidationError{}

	if candidate.VehicleID == "" {
		vErr.add("vehicle_id", "vehicle is required")
	} else if s.vehicles != nil {
		if _, err := s.vehicles.GetVehicle(ctx, candidate.VehicleID); err != nil {
			if !isNotFoundError(err) {
				return err
			}
			vErr.add("vehicle_id", "vehicle does not exist")
		}
	}

	vErr.merge(validateWindow(candidate.Window, s.loc()))

	if !vErr.HasErrors() && !principal.IsAdmin {
		if v := scheduler.CheckLeadTime(candidate.Window, s.loc(), now, s.policy.Limits.MinLeadTime); v != nil {
			vErr.add("start", v.Message)
		}
	}

	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func validateWindow(w scheduler.Window, loc *time.Location) *ValidationError {
	vErr := &ValidationError{}
	if w.StartDate.IsZero() {
		vErr.add("start_date", "start date is required")
	}
	if w.EndDate.IsZero() {
		vErr.add("end_date", "end date is required")
	}
	if vErr.HasErrors() {
		return vErr
	}
	switch err := w.Validate(loc); {
	case errors.Is(err, scheduler.ErrEndDateBeforeStartDate):
		vErr.add("end_date", "end date must not be before start date")
	case errors.Is(err, scheduler.ErrEmptyWindow):
		vErr.add("end_time", "end must be after start")
	case err != nil:
		vErr.add("window", err.Error())
	}
	return vErr
}

func (s *ReservationService) syncToReport(ctx context.Context, r Reservation) {
	if s.sync == nil || s.reports == nil {
		return
	}
	if _, err := s.sync.ReservationChanged(ctx, r); err != nil && !errors.Is(err, ErrSyncGuardSkipped) {
		s.logger.WarnContext(ctx, "reservation to report sync failed", "reservation_id", r.ID, "error", err)
	}
}

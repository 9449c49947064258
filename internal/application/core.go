package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/fleet-reservations/internal/lock"
	"github.com/example/fleet-reservations/internal/persistence"
	"github.com/example/fleet-reservations/internal/scheduler"
)

// core holds the collaborators and helpers shared by every reservation service.
type core struct {
	reservations ReservationRepository
	drivers      DriverDirectory
	vehicles     VehicleCatalog
	reports      DailyReportRepository
	locker       VehicleLocker
	notifier     Notifier
	events       EventPublisher
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
	policy       Policy
}

func newCore(deps Dependencies, policy Policy) *core {
	c := &core{
		reservations: deps.Reservations,
		drivers:      deps.Drivers,
		vehicles:     deps.Vehicles,
		reports:      deps.Reports,
		locker:       deps.Locker,
		notifier:     deps.Notifier,
		events:       deps.Events,
		idGenerator:  deps.IDGenerator,
		now:          deps.Now,
		logger:       defaultLogger(deps.Logger),
		policy:       policy.withDefaults(),
	}
	if c.idGenerator == nil {
		c.idGenerator = func() string { return "" }
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.locker == nil {
		c.locker = lock.NewLocal()
	}
	return c
}

func (c *core) loc() *time.Location { return c.policy.Location }

// clock returns the current instant in the configured zone.
func (c *core) clock() time.Time {
	return scheduler.NormalizeInstant(c.now(), c.policy.Location)
}

func (c *core) withVehicleLock(ctx context.Context, vehicleID string, fn func() error) error {
	unlock, err := c.locker.Lock(ctx, vehicleID)
	if err != nil {
		return fmt.Errorf("lock vehicle %s: %w", vehicleID, err)
	}
	defer unlock()
	return fn()
}

func (c *core) reload(ctx context.Context, id string) (Reservation, error) {
	r, err := c.reservations.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, mapReservationRepoError(err)
	}
	return r, nil
}

// conflictsFor returns reservations in scope whose windows overlap the candidate on its vehicle.
// Calendar days narrow the query; the detector compares full instants.
func (c *core) conflictsFor(ctx context.Context, candidate Reservation, scope []Status) ([]scheduler.Conflict, error) {
	from, to := candidate.Window.StartDate, candidate.Window.EndDate
	existing, err := c.reservations.ListReservations(ctx, ReservationFilter{
		VehicleIDs: []string{candidate.VehicleID},
		Statuses:   scope,
		DateFrom:   &from,
		DateTo:     &to,
	})
	if err != nil {
		return nil, mapReservationRepoError(err)
	}
	return scheduler.DetectConflicts(toBookings(existing), candidate.booking(), c.loc()), nil
}

func (c *core) ensureNoConflict(ctx context.Context, candidate Reservation, scope []Status) error {
	conflicts, err := c.conflictsFor(ctx, candidate, scope)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{VehicleID: candidate.VehicleID, Conflicts: conflicts}
	}
	return nil
}

// checkRules enforces length, night-shift and same-driver rest gap rules.
func (c *core) checkRules(ctx context.Context, candidate Reservation) error {
	violations := scheduler.CheckBookingRules(candidate.Window, c.loc(), c.policy.Limits)

	from, to := candidate.Window.StartDate.AddDays(-1), candidate.Window.EndDate.AddDays(1)
	mine, err := c.reservations.ListReservations(ctx, ReservationFilter{
		DriverIDs: []string{candidate.DriverID},
		Statuses:  nonCanceledScope(),
		DateFrom:  &from,
		DateTo:    &to,
	})
	if err != nil {
		return mapReservationRepoError(err)
	}
	if v := scheduler.CheckRestGap(toBookings(mine), candidate.booking(), c.loc(), c.policy.Limits.RestGap); v != nil {
		violations = append(violations, *v)
	}

	if len(violations) > 0 {
		return &RestGapError{Violations: violations}
	}
	return nil
}

// transition moves r to the target status with a compare-and-set on its current status.
func (c *core) transition(ctx context.Context, r Reservation, to Status, actor string, mutate func(*Reservation)) (Reservation, error) {
	from := r.Status
	updated := r
	updated.Status = to
	if mutate != nil {
		mutate(&updated)
	}
	updated.UpdatedAt = c.clock()

	persisted, err := c.reservations.UpdateReservation(ctx, updated, from)
	if err != nil {
		return Reservation{}, mapReservationRepoError(err)
	}
	if from != to {
		c.recordTransition(ctx, persisted, from, actor)
	}
	return persisted, nil
}

func (c *core) recordTransition(ctx context.Context, r Reservation, from Status, actor string) {
	serviceLogger(ctx, c.logger, "Reservations", "Transition").InfoContext(ctx, "reservation status changed",
		"vehicle_id", r.VehicleID,
		"reservation_id", r.ID,
		"from", string(from),
		"to", string(r.Status),
		"actor", actor,
	)
	if c.events == nil {
		return
	}
	event := TransitionEvent{
		ReservationID: r.ID,
		VehicleID:     r.VehicleID,
		DriverID:      r.DriverID,
		From:          from,
		To:            r.Status,
		Actor:         actor,
		At:            r.UpdatedAt,
	}
	if err := c.events.PublishTransition(ctx, event); err != nil {
		c.logger.WarnContext(ctx, "failed to publish transition", "reservation_id", r.ID, "error", err)
	}
}

func (c *core) notify(ctx context.Context, n Notification) {
	if c.notifier == nil || len(n.Recipients) == 0 {
		return
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.WarnContext(ctx, "notification failed", "kind", string(n.Kind), "reservation_id", n.ReservationID, "error", err)
	}
}

func (c *core) notifyDriver(ctx context.Context, r Reservation, kind NotificationKind, subject string) {
	if c.drivers == nil {
		return
	}
	driver, err := c.drivers.GetDriver(ctx, r.DriverID)
	if err != nil || driver.Email == "" {
		return
	}
	c.notify(ctx, Notification{
		Kind:          kind,
		Subject:       subject,
		Recipients:    []string{driver.Email},
		Body:          fmt.Sprintf("%s: vehicle %s, %s", subject, r.VehicleID, r.Window),
		ReservationID: r.ID,
		VehicleID:     r.VehicleID,
		DriverID:      r.DriverID,
	})
}

func (c *core) setVehicleStatus(ctx context.Context, vehicleID string, status VehicleStatus) {
	if c.vehicles == nil {
		return
	}
	if err := c.vehicles.SetVehicleStatus(ctx, vehicleID, status); err != nil {
		c.logger.WarnContext(ctx, "failed to update vehicle status", "vehicle_id", vehicleID, "status", string(status), "error", err)
	}
}

// releaseVehicle marks the vehicle available unless another reservation still has it out.
func (c *core) releaseVehicle(ctx context.Context, vehicleID, releasedID string) {
	if c.vehicles == nil {
		return
	}
	out, err := c.reservations.ListReservations(ctx, ReservationFilter{
		VehicleIDs: []string{vehicleID},
		Statuses:   []Status{StatusDeparted, StatusOverdue},
	})
	if err != nil && !isNotFoundError(err) {
		c.logger.WarnContext(ctx, "failed to check vehicle usage", "vehicle_id", vehicleID, "error", err)
		return
	}
	for _, r := range out {
		if r.ID != releasedID {
			c.logger.DebugContext(ctx, "vehicle still in use, status kept",
				"vehicle_id", vehicleID, "reservation_id", r.ID, "status", string(r.Status))
			return
		}
	}
	c.setVehicleStatus(ctx, vehicleID, VehicleAvailable)
}

// driverFor resolves the driver profile of the acting user.
func (c *core) driverFor(ctx context.Context, principal Principal) (DriverRef, error) {
	if c.drivers == nil || principal.UserID == "" {
		return DriverRef{}, ErrUnauthorized
	}
	driver, err := c.drivers.DriverForUser(ctx, principal.UserID)
	if err != nil {
		if isNotFoundError(err) {
			return DriverRef{}, ErrUnauthorized
		}
		return DriverRef{}, err
	}
	return driver, nil
}

// authorizeOwner allows the reservation's driver and, when adminAllowed, administrators.
func (c *core) authorizeOwner(ctx context.Context, principal Principal, r Reservation, adminAllowed bool) error {
	if adminAllowed && principal.IsAdmin {
		return nil
	}
	driver, err := c.driverFor(ctx, principal)
	if err != nil {
		return err
	}
	if driver.ID != r.DriverID {
		return ErrUnauthorized
	}
	return nil
}

func mapReservationRepoError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrStaleState), errors.Is(err, persistence.ErrStaleWrite):
		return ErrStaleState
	case errors.Is(err, persistence.ErrConstraintViolation):
		return newValidationError("window", "end must be after start")
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		return newValidationError("vehicle_id", "related records are missing")
	}
	return err
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

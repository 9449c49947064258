package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/fleet-reservations/internal/scheduler"
)

const systemActor = "system"

// Summary counts what one reconciliation run changed.
type Summary struct {
	Approved int
	Expired  int
	Canceled int
	Overdue  int
	Extended int
	Shifted  int
	Failed   int
	Failures []RecordFailure
}

// RecordFailure describes a reservation the run could not process.
type RecordFailure struct {
	ReservationID string
	VehicleID     string
	Step          string
	Err           error
}

// Changed reports whether the run wrote anything.
func (s Summary) Changed() int {
	return s.Approved + s.Expired + s.Canceled + s.Overdue + s.Extended + s.Shifted
}

// Reconciler applies the time-driven transitions of the reservation lifecycle.
// Every record is re-read and re-checked under its vehicle lock, so concurrent runs and
// foreground writes never double-apply a transition.
type Reconciler struct {
	*core
}

// NewReconciler wires dependencies for background reconciliation.
func NewReconciler(deps Dependencies, policy Policy) *Reconciler {
	return &Reconciler{core: newCore(deps, policy)}
}

func (rc *Reconciler) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, rc.logger, "Reconciler", operation, attrs...)
}

// Run performs one reconciliation pass as of now. A zero now uses the configured clock.
func (rc *Reconciler) Run(ctx context.Context, now time.Time) (summary Summary, err error) {
	if rc == nil {
		err = fmt.Errorf("Reconciler is nil")
		return
	}
	if now.IsZero() {
		now = rc.clock()
	}
	now = scheduler.NormalizeInstant(now, rc.loc())

	logger := rc.loggerWith(ctx, "Run", "now", now)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "reconciliation aborted", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reconciliation finished",
			"approved", summary.Approved,
			"expired", summary.Expired,
			"canceled", summary.Canceled,
			"overdue", summary.Overdue,
			"extended", summary.Extended,
			"shifted", summary.Shifted,
			"failed", summary.Failed,
		)
	}()

	steps := []struct {
		name string
		run  func(context.Context, time.Time, *Summary) error
	}{
		{"auto_approve", rc.autoApprove},
		{"expire", rc.expirePending},
		{"no_show", rc.cancelNoShows},
		{"overdue", rc.handleOverdue},
	}
	for _, step := range steps {
		if err = ctx.Err(); err != nil {
			return
		}
		if err = step.run(ctx, now, &summary); err != nil {
			err = fmt.Errorf("%s: %w", step.name, err)
			return
		}
	}
	return
}

// RunEvery runs reconciliation on a fixed interval until ctx is canceled.
// A nil now uses the configured clock.
func (rc *Reconciler) RunEvery(ctx context.Context, interval time.Duration, now func() time.Time) error {
	if interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %s", interval)
	}
	if now == nil {
		now = rc.clock
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := rc.Run(ctx, now()); err != nil && ctx.Err() == nil {
			rc.logger.ErrorContext(ctx, "reconciliation tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// autoApprove books pending reservations that waited long enough without administrator action.
func (rc *Reconciler) autoApprove(ctx context.Context, now time.Time, summary *Summary) error {
	after := rc.policy.AutoApproveAfter
	if after <= 0 {
		return nil
	}
	cutoff := now.Add(-after)
	from := scheduler.DateOf(now)
	candidates, err := rc.list(ctx, ReservationFilter{
		Statuses:      []Status{StatusApplying},
		DateFrom:      &from,
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return err
	}

	approved := rc.each(ctx, summary, "auto_approve", candidates, func(r Reservation) (Reservation, bool, error) {
		if r.Status != StatusApplying || !r.CreatedAt.Before(cutoff) || !r.Window.Start(rc.loc()).After(now) {
			return r, false, nil
		}
		updated, err := rc.approveLocked(ctx, r, systemActor, true)
		var conflictErr *ConflictError
		if errors.As(err, &conflictErr) {
			return r, false, nil
		}
		return updated, err == nil, err
	})
	summary.Approved += len(approved)
	for _, r := range approved {
		rc.notifyDriver(ctx, r, NotificationReservationApproved, "Vehicle reservation approved")
	}
	return nil
}

// expirePending cancels reservations nobody approved before their window started.
func (rc *Reconciler) expirePending(ctx context.Context, now time.Time, summary *Summary) error {
	to := scheduler.DateOf(now)
	candidates, err := rc.list(ctx, ReservationFilter{
		Statuses: []Status{StatusApplying},
		DateTo:   &to,
	})
	if err != nil {
		return err
	}

	expired := rc.each(ctx, summary, "expire", candidates, func(r Reservation) (Reservation, bool, error) {
		if r.Status != StatusApplying || !r.Window.Start(rc.loc()).Before(now) {
			return r, false, nil
		}
		updated, err := rc.transition(ctx, r, StatusCanceled, systemActor, clearSyncSource)
		return updated, err == nil, err
	})
	summary.Expired += len(expired)
	for _, r := range expired {
		rc.notifyDriver(ctx, r, NotificationReservationCanceled, "Vehicle reservation expired")
	}
	return nil
}

// cancelNoShows cancels booked reservations whose driver never departed.
func (rc *Reconciler) cancelNoShows(ctx context.Context, now time.Time, summary *Summary) error {
	deadline := now.Add(-rc.policy.NoShowTimeout)
	to := scheduler.DateOf(deadline)
	candidates, err := rc.list(ctx, ReservationFilter{
		Statuses: []Status{StatusBooked},
		DateTo:   &to,
	})
	if err != nil {
		return err
	}

	canceled := rc.each(ctx, summary, "no_show", candidates, func(r Reservation) (Reservation, bool, error) {
		if r.Status != StatusBooked || r.ActualDeparture != nil || !r.Window.Start(rc.loc()).Before(deadline) {
			return r, false, nil
		}
		updated, err := rc.transition(ctx, r, StatusCanceled, systemActor, clearSyncSource)
		if err != nil {
			return r, false, err
		}
		rc.releaseVehicle(ctx, updated.VehicleID, updated.ID)
		return updated, true, nil
	})
	summary.Canceled += len(canceled)
	for _, r := range canceled {
		rc.notifyDriver(ctx, r, NotificationReservationCanceled, "Vehicle reservation canceled: no departure recorded")
	}
	return nil
}

// handleOverdue applies the overdue policy to departed reservations past their end.
func (rc *Reconciler) handleOverdue(ctx context.Context, now time.Time, summary *Summary) error {
	deadline := now.Add(-rc.policy.OverdueGrace)
	to := scheduler.DateOf(deadline)
	candidates, err := rc.list(ctx, ReservationFilter{
		Statuses: []Status{StatusDeparted},
		DateTo:   &to,
	})
	if err != nil {
		return err
	}

	overdue := func(r Reservation) bool {
		return r.Status == StatusDeparted && r.ActualReturn == nil && r.Window.End(rc.loc()).Before(deadline)
	}

	if rc.policy.OverduePolicy != OverdueExtend {
		marked := rc.each(ctx, summary, "overdue", candidates, func(r Reservation) (Reservation, bool, error) {
			if !overdue(r) {
				return r, false, nil
			}
			updated, err := rc.transition(ctx, r, StatusOverdue, systemActor, clearSyncSource)
			return updated, err == nil, err
		})
		summary.Overdue += len(marked)
		return nil
	}

	extended := rc.each(ctx, summary, "extend", candidates, func(r Reservation) (Reservation, bool, error) {
		if !overdue(r) {
			return r, false, nil
		}
		updated, shifted, err := rc.extendLocked(ctx, r, deadline)
		summary.Shifted += shifted
		return updated, err == nil, err
	})
	summary.Extended += len(extended)
	return nil
}

// extendLocked pushes the end of r forward in whole increments until it is no longer past
// deadline, then shifts the vehicle's later pending and booked reservations by the same delta.
// The shifts are planned before anything is written. When a write fails part way, the
// writes already made are reverted so the extension is retried on the next run.
func (rc *Reconciler) extendLocked(ctx context.Context, r Reservation, deadline time.Time) (Reservation, int, error) {
	loc := rc.loc()
	inc := rc.policy.ExtendIncrement
	oldEnd := r.Window.End(loc)
	steps := deadline.Sub(oldEnd) / inc
	if oldEnd.Add(steps * inc).Before(deadline) {
		steps++
	}
	delta := steps * inc
	newEnd := oldEnd.Add(delta)

	plan, err := rc.planShifts(ctx, r, oldEnd, newEnd, delta)
	if err != nil {
		return r, 0, err
	}

	updated, err := rc.transition(ctx, r, StatusDeparted, systemActor, func(u *Reservation) {
		u.Window = u.Window.WithEnd(newEnd, loc)
		u.SyncSource = ""
	})
	if err != nil {
		return r, 0, err
	}

	moved := make([]Reservation, 0, len(plan))
	for _, d := range plan {
		shifted, err := rc.transition(ctx, d, d.Status, systemActor, func(u *Reservation) {
			u.Window = u.Window.Shift(delta, loc)
			u.SyncSource = ""
		})
		if err != nil {
			rc.revertExtension(ctx, r, updated, moved, delta)
			return r, 0, fmt.Errorf("shift reservation %s: %w", d.ID, err)
		}
		moved = append(moved, shifted)
	}

	rc.logger.InfoContext(ctx, "reservation extended",
		"vehicle_id", r.VehicleID,
		"reservation_id", r.ID,
		"old_end", oldEnd,
		"new_end", newEnd,
	)
	for _, m := range moved {
		rc.logger.InfoContext(ctx, "reservation shifted",
			"vehicle_id", m.VehicleID,
			"reservation_id", m.ID,
			"delta", delta,
			"caused_by", r.ID,
		)
	}
	return updated, len(moved), nil
}

// planShifts lists the downstream reservations that collide with the extended end.
// A shifted reservation extends the frontier, so a chain of back-to-back bookings moves together.
func (rc *Reconciler) planShifts(ctx context.Context, extended Reservation, oldEnd, frontier time.Time, delta time.Duration) ([]Reservation, error) {
	loc := rc.loc()
	from := scheduler.DateOf(oldEnd.Add(-rc.policy.Limits.MaxDuration))
	downstream, err := rc.reservations.ListReservations(ctx, ReservationFilter{
		VehicleIDs: []string{extended.VehicleID},
		Statuses:   []Status{StatusApplying, StatusBooked},
		DateFrom:   &from,
	})
	if err != nil {
		return nil, fmt.Errorf("list downstream reservations: %w", mapReservationRepoError(err))
	}
	sort.SliceStable(downstream, func(i, j int) bool {
		return downstream[i].Window.Start(loc).Before(downstream[j].Window.Start(loc))
	})

	anchor := extended.Window.Start(loc)
	var plan []Reservation
	for _, d := range downstream {
		start := d.Window.Start(loc)
		if d.ID == extended.ID || start.Before(anchor) {
			continue
		}
		if !start.Before(frontier) {
			break
		}
		plan = append(plan, d)
		if end := d.Window.Shift(delta, loc).End(loc); end.After(frontier) {
			frontier = end
		}
	}
	return plan, nil
}

// revertExtension restores the original windows after a failed cascade, newest write first.
// Revert failures are logged; they leave the record for the repair tool.
func (rc *Reconciler) revertExtension(ctx context.Context, original, extended Reservation, moved []Reservation, delta time.Duration) {
	loc := rc.loc()
	for i := len(moved) - 1; i >= 0; i-- {
		m := moved[i]
		if _, err := rc.transition(ctx, m, m.Status, systemActor, func(u *Reservation) {
			u.Window = u.Window.Shift(-delta, loc)
		}); err != nil {
			rc.logger.ErrorContext(ctx, "failed to revert shifted reservation",
				"reservation_id", m.ID, "error", err, "error_kind", ErrorKind(err))
		}
	}
	if _, err := rc.transition(ctx, extended, extended.Status, systemActor, func(u *Reservation) {
		u.Window = original.Window
	}); err != nil {
		rc.logger.ErrorContext(ctx, "failed to revert extension",
			"reservation_id", original.ID, "error", err, "error_kind", ErrorKind(err))
	}
}

func (rc *Reconciler) list(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	out, err := rc.reservations.ListReservations(ctx, filter)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return out, nil
}

// each runs fn for every candidate under its vehicle lock on a freshly read copy.
// Records that vanished or changed concurrently are skipped; other failures are counted.
func (rc *Reconciler) each(ctx context.Context, summary *Summary, step string, candidates []Reservation, fn func(Reservation) (Reservation, bool, error)) []Reservation {
	var applied []Reservation
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return applied
		}
		var (
			result Reservation
			ok     bool
		)
		err := rc.withVehicleLock(ctx, candidate.VehicleID, func() error {
			current, err := rc.reload(ctx, candidate.ID)
			if err != nil {
				return err
			}
			result, ok, err = fn(current)
			return err
		})
		switch {
		case err == nil:
			if ok {
				applied = append(applied, result)
			}
		case errors.Is(err, ErrStaleState), errors.Is(err, ErrNotFound):
			rc.logger.DebugContext(ctx, "reservation changed during reconciliation, skipped",
				"step", step, "reservation_id", candidate.ID)
		default:
			summary.Failed++
			summary.Failures = append(summary.Failures, RecordFailure{
				ReservationID: candidate.ID,
				VehicleID:     candidate.VehicleID,
				Step:          step,
				Err:           err,
			})
			rc.logger.ErrorContext(ctx, "reconciliation step failed",
				"step", step,
				"vehicle_id", candidate.VehicleID,
				"reservation_id", candidate.ID,
				"error", err,
				"error_kind", ErrorKind(err),
			)
		}
	}
	return applied
}

func clearSyncSource(r *Reservation) {
	r.SyncSource = ""
}

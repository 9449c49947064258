package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/fleet-reservations/internal/scheduler"
)

// Sync directions. They double as the SyncSource marker stamped on synchronized writes.
const (
	DirectionReservationToReport = "reservation_to_report"
	DirectionReportToReservation = "report_to_reservation"
)

type syncGuardKey struct{ direction string }

// WithSyncGuard marks ctx as running inside a synchronized write in the given direction.
// Handlers reached through ctx skip instead of writing back.
func WithSyncGuard(ctx context.Context, direction string) context.Context {
	return context.WithValue(ctx, syncGuardKey{direction: direction}, true)
}

// SyncGuardHeld reports whether ctx carries the guard for direction.
func SyncGuardHeld(ctx context.Context, direction string) bool {
	held, _ := ctx.Value(syncGuardKey{direction: direction}).(bool)
	return held
}

func anySyncGuardHeld(ctx context.Context) bool {
	return SyncGuardHeld(ctx, DirectionReservationToReport) || SyncGuardHeld(ctx, DirectionReportToReservation)
}

// SyncResult describes what a synchronization call wrote.
type SyncResult struct {
	Direction     string
	ReservationID string
	ReportID      string
	Changed       bool
}

// ReportSynchronizer keeps reservation actual times and daily report clock times in step.
type ReportSynchronizer struct {
	core *core
}

// NewReportSynchronizer wires a synchronizer with its own collaborators.
func NewReportSynchronizer(deps Dependencies, policy Policy) *ReportSynchronizer {
	return &ReportSynchronizer{core: newCore(deps, policy)}
}

func (s *ReportSynchronizer) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.core.logger, "ReportSynchronizer", operation, attrs...)
}

// ReservationChanged copies the reservation's actual departure and return onto the driver's
// daily report for the reservation's first day.
func (s *ReportSynchronizer) ReservationChanged(ctx context.Context, r Reservation) (result SyncResult, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ReportSynchronizer is nil")
		return
	}
	result = SyncResult{Direction: DirectionReservationToReport, ReservationID: r.ID}

	logger := s.loggerWith(ctx, "ReservationChanged", "reservation_id", r.ID)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "reservation to report sync stopped", err)
			return
		}
		if result.Changed {
			logger.InfoContext(ctx, "daily report synchronized", "report_id", result.ReportID)
		}
	}()

	if anySyncGuardHeld(ctx) || r.SyncSource == DirectionReportToReservation {
		err = ErrSyncGuardSkipped
		return
	}
	if s.core.reports == nil || (r.ActualDeparture == nil && r.ActualReturn == nil) {
		return
	}

	reports, err := s.core.reports.ListReportsForDriver(ctx, r.DriverID, r.Window.StartDate, r.Window.EndDate)
	if err != nil {
		if isNotFoundError(err) {
			err = nil
		}
		return
	}
	report, ok := pickReport(reports, r.Window.StartDate)
	if !ok {
		return
	}
	result.ReportID = report.ID

	updated := report
	loc := s.core.loc()
	if r.ActualDeparture != nil {
		in := scheduler.TimeOfDayOf(r.ActualDeparture.In(loc))
		updated.ClockIn = &in
	}
	if r.ActualReturn != nil {
		out := scheduler.TimeOfDayOf(r.ActualReturn.In(loc))
		updated.ClockOut = &out
	}
	if sameTimeOfDay(updated.ClockIn, report.ClockIn) && sameTimeOfDay(updated.ClockOut, report.ClockOut) {
		return
	}

	now := s.core.clock()
	updated.SyncSource = DirectionReservationToReport
	updated.SyncedAt = timePtr(now)
	updated.UpdatedAt = now
	persisted, err := s.core.reports.UpdateReportClock(ctx, updated)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}
	result.Changed = true

	// The write triggers the opposite direction, which must see the guard and stop.
	guarded := WithSyncGuard(ctx, DirectionReservationToReport)
	if _, echoErr := s.ReportChanged(guarded, persisted); echoErr != nil && !errors.Is(echoErr, ErrSyncGuardSkipped) {
		logger.WarnContext(ctx, "report echo failed", "error", echoErr)
	}
	return
}

// ReportChanged copies a daily report's clock times onto the best matching reservation of the
// driver as its actual departure and return.
func (s *ReportSynchronizer) ReportChanged(ctx context.Context, report DailyReport) (result SyncResult, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ReportSynchronizer is nil")
		return
	}
	result = SyncResult{Direction: DirectionReportToReservation, ReportID: report.ID}

	logger := s.loggerWith(ctx, "ReportChanged", "report_id", report.ID)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "report to reservation sync stopped", err)
			return
		}
		if result.Changed {
			logger.InfoContext(ctx, "reservation synchronized", "reservation_id", result.ReservationID)
		}
	}()

	if anySyncGuardHeld(ctx) || report.SyncSource == DirectionReservationToReport {
		err = ErrSyncGuardSkipped
		return
	}
	if report.ClockIn == nil && report.ClockOut == nil {
		return
	}

	date := report.Date
	candidates, err := s.core.reservations.ListReservations(ctx, ReservationFilter{
		DriverIDs: []string{report.DriverID},
		Statuses:  nonCanceledScope(),
		DateFrom:  &date,
		DateTo:    &date,
	})
	if err != nil {
		if isNotFoundError(err) {
			err = nil
		}
		return
	}

	reference := s.core.policy.SyncReferenceHour
	if report.ClockIn != nil {
		reference = *report.ClockIn
	}
	target, ok := s.pickReservation(candidates, report, reference)
	if !ok {
		return
	}
	result.ReservationID = target.ID

	loc := s.core.loc()
	var departure, arrival *time.Time
	if report.ClockIn != nil {
		departure = timePtr(scheduler.Combine(date, *report.ClockIn, loc))
	}
	if report.ClockOut != nil {
		ret := scheduler.Combine(date, *report.ClockOut, loc)
		if departure != nil && ret.Before(*departure) {
			ret = scheduler.Combine(date.AddDays(1), *report.ClockOut, loc)
		}
		arrival = &ret
	}

	var persisted Reservation
	err = s.core.withVehicleLock(ctx, target.VehicleID, func() error {
		current, err := s.core.reload(ctx, target.ID)
		if err != nil {
			return err
		}
		if current.Status == StatusCanceled {
			return nil
		}
		updated := current
		if departure != nil {
			updated.ActualDeparture = departure
		}
		if arrival != nil {
			updated.ActualReturn = arrival
		}
		if updated.ActualDeparture != nil && updated.ActualReturn != nil && !updated.ActualReturn.After(*updated.ActualDeparture) {
			return newValidationError("actual_return", "return must be after departure")
		}
		if sameInstant(updated.ActualDeparture, current.ActualDeparture) && sameInstant(updated.ActualReturn, current.ActualReturn) {
			return nil
		}
		now := s.core.clock()
		updated.SyncSource = DirectionReportToReservation
		updated.SyncedAt = timePtr(now)
		updated.UpdatedAt = now
		persisted, err = s.core.reservations.UpdateReservation(ctx, updated, current.Status)
		if err != nil {
			return mapReservationRepoError(err)
		}
		result.Changed = true
		return nil
	})
	if err != nil || !result.Changed {
		return
	}

	guarded := WithSyncGuard(ctx, DirectionReportToReservation)
	if _, echoErr := s.ReservationChanged(guarded, persisted); echoErr != nil && !errors.Is(echoErr, ErrSyncGuardSkipped) {
		logger.WarnContext(ctx, "reservation echo failed", "error", echoErr)
	}
	return
}

// pickReport prefers the report dated on the first day, else the earliest one.
func pickReport(reports []DailyReport, first scheduler.Date) (DailyReport, bool) {
	var (
		best  DailyReport
		found bool
	)
	for _, r := range reports {
		if r.Date.Equal(first) {
			return r, true
		}
		if !found || r.Date.Before(best.Date) {
			best, found = r, true
		}
	}
	return best, found
}

// pickReservation scores reservations covering the report date by distance from the reference
// instant. Ties go to the earlier created reservation, then the smaller id.
func (s *ReportSynchronizer) pickReservation(candidates []Reservation, report DailyReport, reference scheduler.TimeOfDay) (Reservation, bool) {
	loc := s.core.loc()
	anchor := scheduler.Combine(report.Date, reference, loc)

	var (
		best      Reservation
		bestScore time.Duration
		found     bool
	)
	for _, r := range candidates {
		if r.Status == StatusCanceled || !r.Window.Covers(report.Date) {
			continue
		}
		score := r.Window.Start(loc).Sub(anchor)
		if score < 0 {
			score = -score
		}
		switch {
		case !found, score < bestScore:
		case score == bestScore && scheduler.Precedes(r.booking(), best.booking()):
		default:
			continue
		}
		best, bestScore, found = r, score, true
	}
	return best, found
}

func sameTimeOfDay(a, b *scheduler.TimeOfDay) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

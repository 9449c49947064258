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

// RepairService runs operator-driven batch fixes over stored reservations.
// Both operations preview by default and only write when asked to commit.
type RepairService struct {
	*core
	resolver *Resolver
}

// NewRepairService wires dependencies for batch repair.
func NewRepairService(deps Dependencies, policy Policy) *RepairService {
	return &RepairService{
		core:     newCore(deps, policy),
		resolver: NewResolver(deps.Vehicles, deps.Drivers),
	}
}

func (s *RepairService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RepairService", operation, attrs...)
}

// ConflictSample describes one double-booking and how it was resolved.
type ConflictSample struct {
	VehicleID        string
	VehiclePlate     string
	WinnerID         string
	WinnerDriverID   string
	WinnerWindow     scheduler.Window
	CanceledID       string
	CanceledDriverID string
	CanceledWindow   scheduler.Window
	Applied          bool
}

// RepairReport summarizes a FindAndFixConflicts run.
type RepairReport struct {
	Commit    bool
	Conflicts int
	Fixed     int
	Failed    int
	Samples   []ConflictSample
}

// FindAndFixConflicts finds vehicles booked by different drivers over overlapping windows and
// cancels the later-created reservation of each pair. A preview counts exactly what a commit
// would cancel.
func (s *RepairService) FindAndFixConflicts(ctx context.Context, commit bool) (report RepairReport, err error) {
	if s == nil {
		err = fmt.Errorf("RepairService is nil")
		return
	}
	report.Commit = commit

	logger := s.loggerWith(ctx, "FindAndFixConflicts", "commit", commit)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "conflict repair aborted", err)
			return
		}
		logger.InfoContext(ctx, "conflict repair finished",
			"conflicts", report.Conflicts,
			"fixed", report.Fixed,
			"failed", report.Failed,
		)
	}()

	all, err := s.reservations.ListReservations(ctx, ReservationFilter{Statuses: ActiveScope()})
	if err != nil {
		err = fmt.Errorf("list reservations: %w", err)
		return
	}

	byVehicle := make(map[string][]Reservation)
	for _, r := range all {
		byVehicle[r.VehicleID] = append(byVehicle[r.VehicleID], r)
	}
	vehicleIDs := make([]string, 0, len(byVehicle))
	for id := range byVehicle {
		vehicleIDs = append(vehicleIDs, id)
	}
	sort.Strings(vehicleIDs)

	for _, vehicleID := range vehicleIDs {
		if err = ctx.Err(); err != nil {
			return
		}
		if !commit {
			s.resolveVehicleConflicts(ctx, &report, vehicleID, byVehicle[vehicleID], false)
			continue
		}
		lockErr := s.withVehicleLock(ctx, vehicleID, func() error {
			current, err := s.reservations.ListReservations(ctx, ReservationFilter{
				VehicleIDs: []string{vehicleID},
				Statuses:   ActiveScope(),
			})
			if err != nil {
				return err
			}
			s.resolveVehicleConflicts(ctx, &report, vehicleID, current, true)
			return nil
		})
		if lockErr != nil {
			report.Failed++
			logger.ErrorContext(ctx, "vehicle skipped", "vehicle_id", vehicleID, "error", lockErr)
		}
	}
	return
}

// resolveVehicleConflicts must be called with the vehicle lock held when commit is set.
// Pairwise comparison is quadratic in the reservations of one vehicle.
func (s *RepairService) resolveVehicleConflicts(ctx context.Context, report *RepairReport, vehicleID string, reservations []Reservation, commit bool) {
	byID := make(map[string]Reservation, len(reservations))
	for _, r := range reservations {
		byID[r.ID] = r
	}

	canceled := make(map[string]bool)
	plate := ""
	for _, pair := range scheduler.ConflictingPairs(toBookings(reservations), s.loc()) {
		if canceled[pair.Winner.ID] || canceled[pair.Loser.ID] {
			continue
		}
		canceled[pair.Loser.ID] = true
		report.Conflicts++

		loser := byID[pair.Loser.ID]
		applied := false
		if commit {
			updated, err := s.transition(ctx, loser, StatusCanceled, systemActor, clearSyncSource)
			if err != nil {
				report.Failed++
				s.logger.ErrorContext(ctx, "failed to cancel conflicting reservation",
					"vehicle_id", vehicleID,
					"reservation_id", loser.ID,
					"error", err,
					"error_kind", ErrorKind(err),
				)
			} else {
				applied = true
				report.Fixed++
				if loser.Status.Occupies() {
					s.releaseVehicle(ctx, vehicleID, loser.ID)
				}
				s.notifyDriver(ctx, updated, NotificationReservationCanceled, "Vehicle reservation canceled: double booking")
			}
		}

		if len(report.Samples) < s.policy.SampleLimit {
			if plate == "" {
				plate = s.vehiclePlate(ctx, vehicleID)
			}
			report.Samples = append(report.Samples, ConflictSample{
				VehicleID:        vehicleID,
				VehiclePlate:     plate,
				WinnerID:         pair.Winner.ID,
				WinnerDriverID:   pair.Winner.DriverID,
				WinnerWindow:     pair.Winner.Window,
				CanceledID:       pair.Loser.ID,
				CanceledDriverID: pair.Loser.DriverID,
				CanceledWindow:   pair.Loser.Window,
				Applied:          applied,
			})
		}
	}
}

func (s *RepairService) vehiclePlate(ctx context.Context, vehicleID string) string {
	if s.vehicles == nil {
		return ""
	}
	v, err := s.vehicles.GetVehicle(ctx, vehicleID)
	if err != nil {
		return ""
	}
	return v.Plate
}

// FixStatusParams selects reservations for a forced status change.
type FixStatusParams struct {
	From Status
	To   Status
	IDs  []string
	// Vehicle and Driver are fuzzy needles resolved through Resolver.
	Vehicle     string
	Driver      string
	IncludePast bool
	Commit      bool
}

// FixStatusSample describes one selected reservation.
type FixStatusSample struct {
	ReservationID string
	VehicleID     string
	DriverID      string
	Window        scheduler.Window
	Applied       bool
	SkipReason    string
}

// FixStatusReport summarizes a FixStatus run.
type FixStatusReport struct {
	Commit  bool
	From    Status
	To      Status
	Matched int
	Updated int
	Skipped int
	Samples []FixStatusSample
}

// FixStatus moves every selected reservation from one status to another. It is an operator
// escape hatch and does not consult the transition table, but it never creates a double booking.
func (s *RepairService) FixStatus(ctx context.Context, params FixStatusParams) (report FixStatusReport, err error) {
	if s == nil {
		err = fmt.Errorf("RepairService is nil")
		return
	}
	report = FixStatusReport{Commit: params.Commit, From: params.From, To: params.To}

	logger := s.loggerWith(ctx, "FixStatus",
		"from", string(params.From),
		"to", string(params.To),
		"commit", params.Commit,
	)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "status fix aborted", err)
			return
		}
		logger.InfoContext(ctx, "status fix finished",
			"matched", report.Matched,
			"updated", report.Updated,
			"skipped", report.Skipped,
		)
	}()

	vErr := &ValidationError{}
	if !params.From.Valid() {
		vErr.add("status_from", "unknown status")
	}
	if !params.To.Valid() {
		vErr.add("status_to", "unknown status")
	}
	if params.From == params.To && params.From != "" {
		vErr.add("status_to", "must differ from status_from")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	filter, empty, err := s.fixStatusFilter(ctx, params)
	if err != nil || empty {
		return
	}
	selected, err := s.reservations.ListReservations(ctx, filter)
	if err != nil {
		if isNotFoundError(err) {
			err = nil
			return
		}
		err = fmt.Errorf("list reservations: %w", err)
		return
	}
	report.Matched = len(selected)

	for _, candidate := range selected {
		if err = ctx.Err(); err != nil {
			return
		}
		sample := FixStatusSample{
			ReservationID: candidate.ID,
			VehicleID:     candidate.VehicleID,
			DriverID:      candidate.DriverID,
			Window:        candidate.Window,
		}

		if params.Commit {
			lockErr := s.withVehicleLock(ctx, candidate.VehicleID, func() error {
				current, err := s.reload(ctx, candidate.ID)
				if err != nil {
					return err
				}
				if current.Status != params.From {
					sample.SkipReason = fmt.Sprintf("status is now %s", current.Status)
					return nil
				}
				if reason, err := s.wouldDoubleBook(ctx, current, params.To); err != nil || reason != "" {
					sample.SkipReason = reason
					return err
				}
				_, err = s.transition(ctx, current, params.To, systemActor, forcedStatusMutation(params.To, s.clock()))
				if err != nil {
					return err
				}
				sample.Applied = true
				return nil
			})
			if lockErr != nil && sample.SkipReason == "" {
				sample.SkipReason = lockErr.Error()
			}
		} else {
			reason, checkErr := s.wouldDoubleBook(ctx, candidate, params.To)
			switch {
			case checkErr != nil:
				sample.SkipReason = checkErr.Error()
			default:
				sample.SkipReason = reason
			}
		}

		switch {
		case sample.Applied:
			report.Updated++
		case sample.SkipReason != "":
			report.Skipped++
		}
		if len(report.Samples) < s.policy.SampleLimit {
			report.Samples = append(report.Samples, sample)
		}
	}
	return
}

// fixStatusFilter reports empty when a needle matched nothing, so nothing may be touched.
func (s *RepairService) fixStatusFilter(ctx context.Context, params FixStatusParams) (ReservationFilter, bool, error) {
	filter := ReservationFilter{
		IDs:      params.IDs,
		Statuses: []Status{params.From},
	}
	if params.Vehicle != "" {
		ids, err := s.resolver.ResolveVehicleIDs(ctx, params.Vehicle)
		if err != nil {
			return filter, false, err
		}
		if len(ids) == 0 {
			return filter, true, nil
		}
		filter.VehicleIDs = ids
	}
	if params.Driver != "" {
		ids, err := s.resolver.ResolveDriverIDs(ctx, params.Driver)
		if err != nil {
			return filter, false, err
		}
		if len(ids) == 0 {
			return filter, true, nil
		}
		filter.DriverIDs = ids
	}
	if !params.IncludePast {
		today := scheduler.DateOf(s.clock())
		filter.DateFrom = &today
	}
	return filter, false, nil
}

// wouldDoubleBook returns a skip reason when moving r into an occupying status would overlap
// another occupying reservation of the vehicle.
func (s *RepairService) wouldDoubleBook(ctx context.Context, r Reservation, to Status) (string, error) {
	if !to.Occupies() {
		return "", nil
	}
	err := s.ensureNoConflict(ctx, r, OccupyingScope())
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return conflictErr.Error(), nil
	}
	return "", err
}

func forcedStatusMutation(to Status, now time.Time) func(*Reservation) {
	return func(r *Reservation) {
		r.SyncSource = ""
		if to == StatusBooked {
			r.Approved = true
			r.ApprovedBySystem = true
			r.ApprovalTime = timePtr(now)
			r.ApprovedBy = systemActor
		}
	}
}

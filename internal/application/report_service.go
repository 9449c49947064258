package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/fleet-reservations/internal/scheduler"
)

// ReportService is the direct-edit path for daily report clock times.
type ReportService struct {
	*core
	sync *ReportSynchronizer
}

// NewReportService wires dependencies for report operations.
func NewReportService(deps Dependencies, policy Policy) *ReportService {
	c := newCore(deps, policy)
	return &ReportService{core: c, sync: &ReportSynchronizer{core: c}}
}

func (s *ReportService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReportService", operation, attrs...)
}

// UpdateClock stores new clock times on the report and propagates them to the matching
// reservation. Only the report's driver or an administrator may edit it.
func (s *ReportService) UpdateClock(ctx context.Context, principal Principal, reportID string, clockIn, clockOut *scheduler.TimeOfDay) (report DailyReport, err error) {
	if s == nil {
		err = fmt.Errorf("ReportService is nil")
		return
	}
	if s.reports == nil {
		err = fmt.Errorf("report repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "UpdateClock",
		"principal_id", principal.UserID,
		"report_id", reportID,
	)
	defer func() {
		if err != nil {
			logOutcome(ctx, logger, "failed to update report clock", err)
			return
		}
		logger.InfoContext(ctx, "report clock updated")
	}()

	vErr := &ValidationError{}
	if clockIn != nil && !clockIn.Valid() {
		vErr.add("clock_in", "invalid time of day")
	}
	if clockOut != nil && !clockOut.Valid() {
		vErr.add("clock_out", "invalid time of day")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	existing, err := s.reports.GetReport(ctx, reportID)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}
	if !principal.IsAdmin {
		driver, derr := s.driverFor(ctx, principal)
		if derr != nil {
			err = derr
			return
		}
		if driver.ID != existing.DriverID {
			err = ErrUnauthorized
			return
		}
	}

	updated := existing
	updated.ClockIn = clockIn
	updated.ClockOut = clockOut
	updated.SyncSource = ""
	updated.UpdatedAt = s.clock()
	report, err = s.reports.UpdateReportClock(ctx, updated)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	if _, syncErr := s.sync.ReportChanged(ctx, report); syncErr != nil && !errors.Is(syncErr, ErrSyncGuardSkipped) {
		logger.WarnContext(ctx, "report to reservation sync failed", "error", syncErr, "error_kind", ErrorKind(syncErr))
	}
	return
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/persistence"
	"github.com/example/fleet-reservations/internal/scheduler"
)

// reservationRepositoryAdapter bridges the SQLite reservation store to the services.
type reservationRepositoryAdapter struct {
	repo persistence.ReservationRepository
	loc  *time.Location
}

func newReservationRepositoryAdapter(repo persistence.ReservationRepository, loc *time.Location) *reservationRepositoryAdapter {
	return &reservationRepositoryAdapter{repo: repo, loc: loc}
}

func (a *reservationRepositoryAdapter) CreateReservation(ctx context.Context, reservation application.Reservation) (application.Reservation, error) {
	if err := a.repo.CreateReservation(ctx, toPersistenceReservation(reservation)); err != nil {
		return application.Reservation{}, err
	}
	return a.GetReservation(ctx, reservation.ID)
}

func (a *reservationRepositoryAdapter) GetReservation(ctx context.Context, id string) (application.Reservation, error) {
	stored, err := a.repo.GetReservation(ctx, id)
	if err != nil {
		return application.Reservation{}, err
	}
	return toApplicationReservation(stored, a.loc)
}

func (a *reservationRepositoryAdapter) UpdateReservation(ctx context.Context, reservation application.Reservation, expected application.Status) (application.Reservation, error) {
	if err := a.repo.UpdateReservation(ctx, toPersistenceReservation(reservation), string(expected)); err != nil {
		return application.Reservation{}, err
	}
	return a.GetReservation(ctx, reservation.ID)
}

func (a *reservationRepositoryAdapter) DeleteReservation(ctx context.Context, id string, expected application.Status) error {
	return a.repo.DeleteReservation(ctx, id, string(expected))
}

func (a *reservationRepositoryAdapter) ListReservations(ctx context.Context, filter application.ReservationFilter) ([]application.Reservation, error) {
	stored, err := a.repo.ListReservations(ctx, toPersistenceFilter(filter))
	if err != nil {
		return nil, err
	}
	out := make([]application.Reservation, 0, len(stored))
	for _, r := range stored {
		converted, err := toApplicationReservation(r, a.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func toPersistenceFilter(filter application.ReservationFilter) persistence.ReservationFilter {
	out := persistence.ReservationFilter{
		IDs:           filter.IDs,
		VehicleIDs:    filter.VehicleIDs,
		DriverIDs:     filter.DriverIDs,
		CreatedBefore: filter.CreatedBefore,
	}
	for _, s := range filter.Statuses {
		out.Statuses = append(out.Statuses, string(s))
	}
	if filter.DateFrom != nil {
		from := filter.DateFrom.String()
		out.DateFrom = &from
	}
	if filter.DateTo != nil {
		to := filter.DateTo.String()
		out.DateTo = &to
	}
	return out
}

func toPersistenceReservation(r application.Reservation) persistence.Reservation {
	return persistence.Reservation{
		ID:               r.ID,
		VehicleID:        r.VehicleID,
		DriverID:         r.DriverID,
		StartDate:        r.Window.StartDate.String(),
		StartTime:        r.Window.StartTime.Format(),
		EndDate:          r.Window.EndDate.String(),
		EndTime:          r.Window.EndTime.Format(),
		Purpose:          r.Purpose,
		Status:           string(r.Status),
		ActualDeparture:  r.ActualDeparture,
		ActualReturn:     r.ActualReturn,
		Approved:         r.Approved,
		ApprovedBySystem: r.ApprovedBySystem,
		ApprovalTime:     r.ApprovalTime,
		ApprovedBy:       r.ApprovedBy,
		SyncSource:       r.SyncSource,
		SyncedAt:         r.SyncedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func toApplicationReservation(r persistence.Reservation, loc *time.Location) (application.Reservation, error) {
	window, err := parseWindow(r.StartDate, r.StartTime, r.EndDate, r.EndTime)
	if err != nil {
		return application.Reservation{}, fmt.Errorf("reservation %s: %w", r.ID, err)
	}
	status, err := application.ParseStatus(r.Status)
	if err != nil {
		return application.Reservation{}, fmt.Errorf("reservation %s: %w", r.ID, err)
	}
	return application.Reservation{
		ID:               r.ID,
		VehicleID:        r.VehicleID,
		DriverID:         r.DriverID,
		Window:           window,
		Purpose:          r.Purpose,
		Status:           status,
		ActualDeparture:  instantIn(r.ActualDeparture, loc),
		ActualReturn:     instantIn(r.ActualReturn, loc),
		Approved:         r.Approved,
		ApprovedBySystem: r.ApprovedBySystem,
		ApprovalTime:     instantIn(r.ApprovalTime, loc),
		ApprovedBy:       r.ApprovedBy,
		SyncSource:       r.SyncSource,
		SyncedAt:         instantIn(r.SyncedAt, loc),
		CreatedAt:        scheduler.NormalizeInstant(r.CreatedAt, loc),
		UpdatedAt:        scheduler.NormalizeInstant(r.UpdatedAt, loc),
	}, nil
}

func parseWindow(startDate, startTime, endDate, endTime string) (scheduler.Window, error) {
	var (
		w   scheduler.Window
		err error
	)
	if w.StartDate, err = scheduler.ParseDate(startDate); err != nil {
		return w, err
	}
	if w.StartTime, err = scheduler.ParseTimeOfDay(startTime); err != nil {
		return w, err
	}
	if w.EndDate, err = scheduler.ParseDate(endDate); err != nil {
		return w, err
	}
	if w.EndTime, err = scheduler.ParseTimeOfDay(endTime); err != nil {
		return w, err
	}
	return w, nil
}

func instantIn(t *time.Time, loc *time.Location) *time.Time {
	if t == nil {
		return nil
	}
	normalized := scheduler.NormalizeInstant(*t, loc)
	return &normalized
}

// driverDirectoryAdapter exposes stored drivers as application references.
type driverDirectoryAdapter struct {
	repo persistence.DriverRepository
}

func (a driverDirectoryAdapter) DriverForUser(ctx context.Context, userID string) (application.DriverRef, error) {
	d, err := a.repo.GetDriverByUserID(ctx, userID)
	if err != nil {
		return application.DriverRef{}, err
	}
	return toDriverRef(d), nil
}

func (a driverDirectoryAdapter) GetDriver(ctx context.Context, id string) (application.DriverRef, error) {
	d, err := a.repo.GetDriver(ctx, id)
	if err != nil {
		return application.DriverRef{}, err
	}
	return toDriverRef(d), nil
}

func (a driverDirectoryAdapter) ListDrivers(ctx context.Context) ([]application.DriverRef, error) {
	drivers, err := a.repo.ListDrivers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]application.DriverRef, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, toDriverRef(d))
	}
	return out, nil
}

func toDriverRef(d persistence.Driver) application.DriverRef {
	return application.DriverRef{ID: d.ID, UserID: d.UserID, Name: d.Name, Code: d.Code, Email: d.Email}
}

// vehicleCatalogAdapter exposes the stored vehicle catalog.
type vehicleCatalogAdapter struct {
	repo persistence.VehicleRepository
}

func (a vehicleCatalogAdapter) GetVehicle(ctx context.Context, id string) (application.VehicleRef, error) {
	v, err := a.repo.GetVehicle(ctx, id)
	if err != nil {
		return application.VehicleRef{}, err
	}
	return toVehicleRef(v), nil
}

func (a vehicleCatalogAdapter) ListVehicles(ctx context.Context) ([]application.VehicleRef, error) {
	vehicles, err := a.repo.ListVehicles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]application.VehicleRef, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, toVehicleRef(v))
	}
	return out, nil
}

func (a vehicleCatalogAdapter) SetVehicleStatus(ctx context.Context, id string, status application.VehicleStatus) error {
	return a.repo.SetVehicleStatus(ctx, id, string(status))
}

func toVehicleRef(v persistence.Vehicle) application.VehicleRef {
	return application.VehicleRef{
		ID:     v.ID,
		Plate:  v.Plate,
		Code:   v.Code,
		Name:   v.Name,
		Status: application.VehicleStatus(v.Status),
	}
}

// dailyReportAdapter exposes the clock fields of stored daily reports.
type dailyReportAdapter struct {
	repo persistence.DailyReportRepository
	loc  *time.Location
}

func (a dailyReportAdapter) GetReport(ctx context.Context, id string) (application.DailyReport, error) {
	stored, err := a.repo.GetDailyReport(ctx, id)
	if err != nil {
		return application.DailyReport{}, err
	}
	return toApplicationReport(stored, a.loc)
}

func (a dailyReportAdapter) ListReportsForDriver(ctx context.Context, driverID string, from, to scheduler.Date) ([]application.DailyReport, error) {
	stored, err := a.repo.ListDailyReports(ctx, driverID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	out := make([]application.DailyReport, 0, len(stored))
	for _, r := range stored {
		converted, err := toApplicationReport(r, a.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func (a dailyReportAdapter) UpdateReportClock(ctx context.Context, report application.DailyReport) (application.DailyReport, error) {
	if err := a.repo.UpdateDailyReportClock(ctx, toPersistenceReport(report)); err != nil {
		return application.DailyReport{}, err
	}
	return a.GetReport(ctx, report.ID)
}

func toPersistenceReport(r application.DailyReport) persistence.DailyReport {
	return persistence.DailyReport{
		ID:         r.ID,
		DriverID:   r.DriverID,
		Date:       r.Date.String(),
		ClockIn:    formatClock(r.ClockIn),
		ClockOut:   formatClock(r.ClockOut),
		SyncSource: r.SyncSource,
		SyncedAt:   r.SyncedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toApplicationReport(r persistence.DailyReport, loc *time.Location) (application.DailyReport, error) {
	date, err := scheduler.ParseDate(r.Date)
	if err != nil {
		return application.DailyReport{}, fmt.Errorf("daily report %s: %w", r.ID, err)
	}
	clockIn, err := parseClock(r.ClockIn)
	if err != nil {
		return application.DailyReport{}, fmt.Errorf("daily report %s clock_in: %w", r.ID, err)
	}
	clockOut, err := parseClock(r.ClockOut)
	if err != nil {
		return application.DailyReport{}, fmt.Errorf("daily report %s clock_out: %w", r.ID, err)
	}
	return application.DailyReport{
		ID:         r.ID,
		DriverID:   r.DriverID,
		Date:       date,
		ClockIn:    clockIn,
		ClockOut:   clockOut,
		SyncSource: r.SyncSource,
		SyncedAt:   instantIn(r.SyncedAt, loc),
		UpdatedAt:  scheduler.NormalizeInstant(r.UpdatedAt, loc),
	}, nil
}

func formatClock(t *scheduler.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	value := t.Format()
	return &value
}

func parseClock(value *string) (*scheduler.TimeOfDay, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := scheduler.ParseTimeOfDay(*value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

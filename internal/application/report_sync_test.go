package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/scheduler"
	"github.com/example/fleet-reservations/internal/testfixtures"
)

func (f *fleet) report(opts ...testfixtures.ReportOption) application.DailyReport {
	r := testfixtures.NewReportFixture(opts...).Application()
	f.store.AddReport(r)
	return r
}

func tod(value string) *scheduler.TimeOfDay {
	t := testfixtures.MustTime(value)
	return &t
}

func TestReportSync_DepartureAndReturnReachTheReport(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	booked := f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(today(), "09:00", "17:00")),
	)
	report := f.report(testfixtures.WithReportDriver("d1"), testfixtures.WithReportDate(today()))
	svc := f.factory.NewReservationService()

	_, err := svc.RecordDeparture(context.Background(), f.d1.Principal(), booked.ID, at(today(), "08:50"))
	require.NoError(t, err)

	synced, _ := f.store.Report(report.ID)
	require.NotNil(t, synced.ClockIn)
	assert.Equal(t, "08:50", synced.ClockIn.String())
	assert.Nil(t, synced.ClockOut)
	assert.Equal(t, application.DirectionReservationToReport, synced.SyncSource)

	_, err = svc.RecordReturn(context.Background(), f.d1.Principal(), booked.ID, at(today(), "17:10"))
	require.NoError(t, err)

	synced, _ = f.store.Report(report.ID)
	require.NotNil(t, synced.ClockOut)
	assert.Equal(t, "17:10", synced.ClockOut.String())

	stored, _ := f.store.Reservation(booked.ID)
	assert.Empty(t, stored.SyncSource, "the echo must not write the reservation back")
	assert.Equal(t, application.StatusCompleted, stored.Status)
}

func TestReportSync_ClockEditReachesTheReservation(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	booked := f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(today(), "09:00", "17:00")),
	)
	report := f.report(testfixtures.WithReportDriver("d1"), testfixtures.WithReportDate(today()))
	svc := f.factory.NewReportService()

	_, err := svc.UpdateClock(context.Background(), f.d2.Principal(), report.ID, tod("08:40"), nil)
	require.ErrorIs(t, err, application.ErrUnauthorized)

	updated, err := svc.UpdateClock(context.Background(), f.d1.Principal(), report.ID, tod("08:40"), tod("17:30"))
	require.NoError(t, err)
	assert.Empty(t, updated.SyncSource)

	stored, _ := f.store.Reservation(booked.ID)
	require.NotNil(t, stored.ActualDeparture)
	require.NotNil(t, stored.ActualReturn)
	assert.True(t, stored.ActualDeparture.Equal(at(today(), "08:40")))
	assert.True(t, stored.ActualReturn.Equal(at(today(), "17:30")))
	assert.Equal(t, application.DirectionReportToReservation, stored.SyncSource)
	assert.Equal(t, application.StatusBooked, stored.Status, "synchronization never changes status")

	after, _ := f.store.Report(report.ID)
	assert.Empty(t, after.SyncSource, "the echo must not write the report back")
	assert.Empty(t, f.factory.Events.Events())
}

func TestReportSync_Converges(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	booked := f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(today(), "09:00", "17:00")),
		testfixtures.WithReservationStatus(application.StatusDeparted),
		testfixtures.WithReservationDeparture(at(today(), "08:55")),
	)
	report := f.report(testfixtures.WithReportDriver("d1"), testfixtures.WithReportDate(today()))
	sync := f.factory.NewReportSynchronizer()
	ctx := context.Background()

	first, err := sync.ReservationChanged(ctx, booked)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, report.ID, first.ReportID)

	second, err := sync.ReservationChanged(ctx, booked)
	require.NoError(t, err)
	assert.False(t, second.Changed, "repeating an identical sync writes nothing")

	synced, _ := f.store.Report(report.ID)
	_, err = sync.ReportChanged(ctx, synced)
	assert.ErrorIs(t, err, application.ErrSyncGuardSkipped, "a report written by the sync is not echoed back")

	_, err = sync.ReservationChanged(application.WithSyncGuard(ctx, application.DirectionReportToReservation), booked)
	assert.ErrorIs(t, err, application.ErrSyncGuardSkipped)
	assert.True(t, application.SyncGuardHeld(application.WithSyncGuard(ctx, application.DirectionReportToReservation), application.DirectionReportToReservation))
	assert.False(t, application.SyncGuardHeld(ctx, application.DirectionReportToReservation))
}

func TestReportSync_PicksReservationClosestToClockIn(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	morning := f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(today(), "06:00", "08:00")),
	)
	afternoon := f.put(
		testfixtures.WithReservationVehicle("v2"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(today(), "13:00", "17:00")),
	)
	f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(today(), "12:30", "13:30")),
		testfixtures.WithReservationStatus(application.StatusCanceled),
	)
	sync := f.factory.NewReportSynchronizer()

	byClockIn := testfixtures.NewReportFixture(
		testfixtures.WithReportDriver("d1"),
		testfixtures.WithReportDate(today()),
		testfixtures.WithReportClock("12:50", ""),
	).Application()
	result, err := sync.ReportChanged(context.Background(), byClockIn)
	require.NoError(t, err)
	assert.Equal(t, afternoon.ID, result.ReservationID)

	byReferenceHour := testfixtures.NewReportFixture(
		testfixtures.WithReportDriver("d1"),
		testfixtures.WithReportDate(today()),
		testfixtures.WithReportClock("", "07:50"),
	).Application()
	result, err = sync.ReportChanged(context.Background(), byReferenceHour)
	require.NoError(t, err)
	assert.Equal(t, morning.ID, result.ReservationID)
}

func TestReportSync_OvernightClockOut(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	night := f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.Window(today(), "20:00", tomorrow(), "06:00")),
	)
	report := testfixtures.NewReportFixture(
		testfixtures.WithReportDriver("d1"),
		testfixtures.WithReportDate(today()),
		testfixtures.WithReportClock("19:55", "05:40"),
	).Application()

	result, err := f.factory.NewReportSynchronizer().ReportChanged(context.Background(), report)
	require.NoError(t, err)
	require.True(t, result.Changed)

	stored, _ := f.store.Reservation(night.ID)
	assert.True(t, stored.ActualDeparture.Equal(at(today(), "19:55")))
	assert.True(t, stored.ActualReturn.Equal(at(tomorrow(), "05:40")))
}

func TestReportService_UpdateClock_NotFound(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	_, err := f.factory.NewReportService().UpdateClock(context.Background(), admin, "missing", tod("09:00"), nil)
	assert.ErrorIs(t, err, application.ErrNotFound)
}

func TestReportSync_RejectsReturnBeforeDeparture(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	departed := f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(today(), "09:00", "17:00")),
		testfixtures.WithReservationStatus(application.StatusDeparted),
		testfixtures.WithReservationDeparture(at(today(), "09:05")),
	)
	report := f.report(testfixtures.WithReportDriver("d1"), testfixtures.WithReportDate(today()))
	svc := f.factory.NewReportService()

	updated, err := svc.UpdateClock(context.Background(), f.d1.Principal(), report.ID, nil, tod("08:00"))
	require.NoError(t, err, "the report edit itself is kept")
	require.NotNil(t, updated.ClockOut)

	stored, _ := f.store.Reservation(departed.ID)
	require.NotNil(t, stored.ActualDeparture)
	assert.True(t, stored.ActualDeparture.Equal(at(today(), "09:05")))
	assert.Nil(t, stored.ActualReturn, "a return before the departure is not synchronized")
	assert.Empty(t, stored.SyncSource)

	sync := f.factory.NewReportSynchronizer()
	edited, _ := f.store.Report(report.ID)
	result, err := sync.ReportChanged(context.Background(), edited)
	var validation *application.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.False(t, result.Changed)
}

package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/testfixtures"
)

func TestRepairService_FindAndFixConflicts(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	winner := f.put(
		testfixtures.WithReservationID("a-first"),
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(tomorrow(), "09:00", "11:00")),
		testfixtures.WithReservationCreatedAt(at(today(), "01:00")),
	)
	loser := f.put(
		testfixtures.WithReservationID("b-second"),
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d2"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(tomorrow(), "10:00", "12:00")),
		testfixtures.WithReservationCreatedAt(at(today(), "02:00")),
	)
	// Overlaps only the loser, so it survives once the loser is canceled.
	survivor := f.put(
		testfixtures.WithReservationID("c-third"),
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d3"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(tomorrow(), "11:30", "13:00")),
		testfixtures.WithReservationStatus(application.StatusApplying),
		testfixtures.WithReservationCreatedAt(at(today(), "03:00")),
	)
	sameDriver := f.put(
		testfixtures.WithReservationID("d-same-driver"),
		testfixtures.WithReservationVehicle("v2"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(tomorrow(), "09:00", "11:00")),
	)
	f.put(
		testfixtures.WithReservationID("e-same-driver"),
		testfixtures.WithReservationVehicle("v2"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(tomorrow(), "10:00", "12:00")),
	)

	svc := f.factory.NewRepairService()

	preview, err := svc.FindAndFixConflicts(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, preview.Commit)
	assert.Equal(t, 1, preview.Conflicts)
	assert.Zero(t, preview.Fixed)
	require.Len(t, preview.Samples, 1)
	assert.Equal(t, winner.ID, preview.Samples[0].WinnerID)
	assert.Equal(t, loser.ID, preview.Samples[0].CanceledID)
	assert.Equal(t, "品川 300 あ 12-34", preview.Samples[0].VehiclePlate)
	assert.False(t, preview.Samples[0].Applied)
	assert.Equal(t, application.StatusBooked, f.status(t, loser.ID), "a preview writes nothing")

	committed, err := svc.FindAndFixConflicts(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, preview.Conflicts, committed.Conflicts)
	assert.Equal(t, preview.Conflicts, committed.Fixed)
	assert.True(t, committed.Samples[0].Applied)

	assert.Equal(t, application.StatusCanceled, f.status(t, loser.ID))
	assert.Equal(t, application.StatusBooked, f.status(t, winner.ID))
	assert.Equal(t, application.StatusApplying, f.status(t, survivor.ID))
	assert.Equal(t, application.StatusBooked, f.status(t, sameDriver.ID))

	again, err := svc.FindAndFixConflicts(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, again.Conflicts)
	assert.Zero(t, again.Fixed)
}

func TestRepairService_FindAndFixConflicts_KeepsVehicleOutWhileWinnerDeparted(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	winner := f.put(
		testfixtures.WithReservationID("a-out"),
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(today(), "06:00", "12:00")),
		testfixtures.WithReservationStatus(application.StatusDeparted),
		testfixtures.WithReservationDeparture(at(today(), "06:00")),
		testfixtures.WithReservationCreatedAt(at(today(), "01:00")),
	)
	loser := f.put(
		testfixtures.WithReservationID("b-booked"),
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d2"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(today(), "10:00", "14:00")),
		testfixtures.WithReservationCreatedAt(at(today(), "02:00")),
	)

	report, err := f.factory.NewRepairService().FindAndFixConflicts(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fixed)
	assert.Equal(t, application.StatusDeparted, f.status(t, winner.ID))
	assert.Equal(t, application.StatusCanceled, f.status(t, loser.ID))
	assert.Empty(t, f.store.VehicleStatusWrites(), "a vehicle still on the road is not released")
}

func TestRepairService_FixStatus(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	pending := f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(tomorrow(), "09:00", "11:00")),
		testfixtures.WithReservationStatus(application.StatusApplying),
	)
	svc := f.factory.NewRepairService()
	params := application.FixStatusParams{
		From:    application.StatusApplying,
		To:      application.StatusBooked,
		Vehicle: "hiace",
	}

	preview, err := svc.FixStatus(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 1, preview.Matched)
	assert.Zero(t, preview.Updated)
	assert.Zero(t, preview.Skipped)
	assert.Equal(t, application.StatusApplying, f.status(t, pending.ID))

	params.Commit = true
	committed, err := svc.FixStatus(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 1, committed.Updated)
	require.Len(t, committed.Samples, 1)
	assert.True(t, committed.Samples[0].Applied)

	forced, _ := f.store.Reservation(pending.ID)
	assert.Equal(t, application.StatusBooked, forced.Status)
	assert.True(t, forced.Approved)
	assert.True(t, forced.ApprovedBySystem)
}

func TestRepairService_FixStatus_NeverDoubleBooks(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d2"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(tomorrow(), "09:00", "12:00")),
	)
	canceled := f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(tomorrow(), "10:00", "11:00")),
		testfixtures.WithReservationStatus(application.StatusCanceled),
	)

	report, err := f.factory.NewRepairService().FixStatus(context.Background(), application.FixStatusParams{
		From:   application.StatusCanceled,
		To:     application.StatusBooked,
		IDs:    []string{canceled.ID},
		Commit: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Updated)
	require.Len(t, report.Samples, 1)
	assert.NotEmpty(t, report.Samples[0].SkipReason)
	assert.Equal(t, application.StatusCanceled, f.status(t, canceled.ID))
}

func TestRepairService_FixStatus_Selection(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	past := f.put(
		testfixtures.WithReservationVehicle("v1"),
		testfixtures.WithReservationDriver("d1"),
		testfixtures.WithReservationWindow(testfixtures.DayWindow(today().AddDays(-3), "09:00", "11:00")),
		testfixtures.WithReservationStatus(application.StatusDeparted),
	)
	svc := f.factory.NewRepairService()

	report, err := svc.FixStatus(context.Background(), application.FixStatusParams{
		From: application.StatusDeparted,
		To:   application.StatusCompleted,
	})
	require.NoError(t, err)
	assert.Zero(t, report.Matched, "past reservations are excluded by default")

	report, err = svc.FixStatus(context.Background(), application.FixStatusParams{
		From:        application.StatusDeparted,
		To:          application.StatusCompleted,
		IncludePast: true,
		Driver:      "sato",
		Commit:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, application.StatusCompleted, f.status(t, past.ID))

	report, err = svc.FixStatus(context.Background(), application.FixStatusParams{
		From:        application.StatusCompleted,
		To:          application.StatusDeparted,
		IncludePast: true,
		Vehicle:     "no such vehicle",
		Commit:      true,
	})
	require.NoError(t, err)
	assert.Zero(t, report.Matched, "an unmatched needle selects nothing")
	assert.Equal(t, application.StatusCompleted, f.status(t, past.ID))
}

func TestRepairService_FixStatus_Validation(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	svc := f.factory.NewRepairService()

	tests := []struct {
		name   string
		params application.FixStatusParams
		field  string
	}{
		{name: "unknown from", params: application.FixStatusParams{From: "reserved", To: application.StatusBooked}, field: "status_from"},
		{name: "unknown to", params: application.FixStatusParams{From: application.StatusBooked, To: "done"}, field: "status_to"},
		{name: "same status", params: application.FixStatusParams{From: application.StatusBooked, To: application.StatusBooked}, field: "status_to"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.FixStatus(context.Background(), tc.params)
			var vErr *application.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.FieldErrors, tc.field)
		})
	}
}

func TestResolver(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	resolver := application.NewResolver(f.store, f.store)
	ctx := context.Background()

	tests := []struct {
		name    string
		resolve func(context.Context, string) ([]string, error)
		needle  string
		want    []string
	}{
		{name: "vehicle id", resolve: resolver.ResolveVehicleIDs, needle: "v2", want: []string{"v2"}},
		{name: "vehicle name exact", resolve: resolver.ResolveVehicleIDs, needle: "PRIUS", want: []string{"v2"}},
		{name: "plate substring", resolve: resolver.ResolveVehicleIDs, needle: "品川", want: []string{"v1", "v2"}},
		{name: "no match", resolve: resolver.ResolveVehicleIDs, needle: "bus", want: nil},
		{name: "blank needle", resolve: resolver.ResolveVehicleIDs, needle: "  ", want: nil},
		{name: "driver name", resolve: resolver.ResolveDriverIDs, needle: "suzuki", want: []string{"d2"}},
		{name: "driver id wins over substring", resolve: resolver.ResolveDriverIDs, needle: "d3", want: []string{"d3"}},
	}
	for _, tc := range tests {
		got, err := tc.resolve(ctx, tc.needle)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

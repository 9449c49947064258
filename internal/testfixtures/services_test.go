package testfixtures

import (
	"context"
	"testing"

	"github.com/example/fleet-reservations/internal/application"
)

func TestServiceFactoryNewReservationService(t *testing.T) {
	factory := NewServiceFactory()
	vehicle := NewVehicleFixture()
	driver := NewDriverFixture()
	factory.Seed([]VehicleFixture{vehicle}, []DriverFixture{driver})

	svc := factory.NewReservationService()
	day := ReferenceDate().AddDays(1)

	created, err := svc.CreateReservation(context.Background(), application.CreateReservationParams{
		Principal: driver.Principal(),
		VehicleID: vehicle.ID,
		Window:    DayWindow(day, "09:00", "17:00"),
		Purpose:   "delivery",
	})
	if err != nil {
		t.Fatalf("CreateReservation returned error: %v", err)
	}

	if created.ID != "res-0001" {
		t.Fatalf("expected generated ID res-0001, got %q", created.ID)
	}
	if created.DriverID != driver.ID {
		t.Fatalf("expected driver %s, got %s", driver.ID, created.DriverID)
	}
	stored, ok := factory.Store.Reservation(created.ID)
	if !ok {
		t.Fatalf("reservation %s was not stored", created.ID)
	}
	if stored.Status != application.StatusApplying {
		t.Fatalf("expected applying, got %s", stored.Status)
	}
	if !created.CreatedAt.Equal(factory.Clock.Current()) {
		t.Fatalf("expected timestamp %v, got %v", factory.Clock.Current(), created.CreatedAt)
	}
}

func TestStoreConditionalUpdate(t *testing.T) {
	t.Parallel()

	store := NewStore()
	res := NewReservationFixture().Application()
	store.PutReservation(res)

	res.Purpose = "changed"
	if _, err := store.UpdateReservation(context.Background(), res, application.StatusApplying); err != application.ErrStaleState {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
	if _, err := store.UpdateReservation(context.Background(), res, application.StatusBooked); err != nil {
		t.Fatalf("UpdateReservation returned error: %v", err)
	}
	stored, _ := store.Reservation(res.ID)
	if stored.Purpose != "changed" {
		t.Fatalf("expected purpose to be updated, got %q", stored.Purpose)
	}
}

func TestStoreListFilterByDate(t *testing.T) {
	t.Parallel()

	store := NewStore()
	day := ReferenceDate()
	overnight := NewReservationFixture(WithReservationWindow(Window(day.AddDays(-1), "22:00", day, "06:00")))
	later := NewReservationFixture(WithReservationWindow(DayWindow(day.AddDays(2), "09:00", "10:00")))
	store.PutReservation(overnight.Application())
	store.PutReservation(later.Application())

	from, to := day, day
	got, err := store.ListReservations(context.Background(), application.ReservationFilter{DateFrom: &from, DateTo: &to})
	if err != nil {
		t.Fatalf("ListReservations returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != overnight.ID {
		t.Fatalf("expected only the overnight reservation, got %+v", got)
	}
}

func TestReservationFixturePersistence(t *testing.T) {
	t.Parallel()

	fixture := NewReservationFixture(WithReservationWindow(DayWindow(ReferenceDate(), "08:30", "12:00")))
	stored := fixture.Persistence()
	if stored.StartTime != "08:30:00" || stored.EndTime != "12:00:00" {
		t.Fatalf("expected HH:MM:SS times, got %s-%s", stored.StartTime, stored.EndTime)
	}
	if stored.StartDate != "2025-03-10" {
		t.Fatalf("expected start date 2025-03-10, got %s", stored.StartDate)
	}
}

package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/lock"
)

// ServiceFactory assists tests with constructing application services over an
// in-memory store using deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Store       *Store
	Notifier    *RecordingNotifier
	Events      *RecordingEvents
	Policy      application.Policy
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults. The clock starts at
// ReferenceTime and the policy is the default one pinned to JST.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	policy := application.DefaultPolicy()
	policy.Location = JST
	factory := &ServiceFactory{
		Clock:       NewClock(referenceTime),
		IDGenerator: NewIDGenerator("res"),
		Store:       NewStore(),
		Notifier:    &RecordingNotifier{},
		Events:      &RecordingEvents{},
		Policy:      policy,
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(referenceTime)
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("res")
	}
	if factory.Store == nil {
		factory.Store = NewStore()
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithPolicy overrides the lifecycle policy.
func WithPolicy(policy application.Policy) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Policy = policy
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// Seed stores the given fixtures in the factory's store.
func (f *ServiceFactory) Seed(vehicles []VehicleFixture, drivers []DriverFixture, reservations ...ReservationFixture) {
	for _, v := range vehicles {
		f.Store.AddVehicle(v.Application())
	}
	for _, d := range drivers {
		f.Store.AddDriver(d.Application())
	}
	for _, r := range reservations {
		f.Store.PutReservation(r.Application())
	}
}

// Dependencies returns the collaborators shared by every service the factory builds.
func (f *ServiceFactory) Dependencies() application.Dependencies {
	return application.Dependencies{
		Reservations: f.Store,
		Drivers:      f.Store,
		Vehicles:     f.Store,
		Reports:      f.Store,
		Locker:       lock.NewLocal(),
		Notifier:     f.Notifier,
		Events:       f.Events,
		IDGenerator:  f.IDGenerator.NextFunc(),
		Now:          f.Clock.NowFunc(),
		Logger:       f.Logger,
	}
}

// NewReservationService builds a reservation service over the factory's store.
func (f *ServiceFactory) NewReservationService() *application.ReservationService {
	return application.NewReservationService(f.Dependencies(), f.Policy)
}

// NewReportService builds a report service over the factory's store.
func (f *ServiceFactory) NewReportService() *application.ReportService {
	return application.NewReportService(f.Dependencies(), f.Policy)
}

// NewReconciler builds a reconciler over the factory's store.
func (f *ServiceFactory) NewReconciler() *application.Reconciler {
	return application.NewReconciler(f.Dependencies(), f.Policy)
}

// NewRepairService builds a repair service over the factory's store.
func (f *ServiceFactory) NewRepairService() *application.RepairService {
	return application.NewRepairService(f.Dependencies(), f.Policy)
}

// NewReportSynchronizer builds a synchronizer over the factory's store.
func (f *ServiceFactory) NewReportSynchronizer() *application.ReportSynchronizer {
	return application.NewReportSynchronizer(f.Dependencies(), f.Policy)
}

// Now returns the factory clock's current instant in JST.
func (f *ServiceFactory) Now() time.Time {
	return f.Clock.Current().In(JST)
}

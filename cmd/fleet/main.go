package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/config"
	httptransport "github.com/example/fleet-reservations/internal/http"
	"github.com/example/fleet-reservations/internal/lock"
	"github.com/example/fleet-reservations/internal/logging"
	"github.com/example/fleet-reservations/internal/messaging"
	"github.com/example/fleet-reservations/internal/persistence/sqlite"
	"github.com/example/fleet-reservations/internal/scheduler"
	"github.com/example/fleet-reservations/internal/vehiclestatus"
)

const usage = `usage: fleet <command> [flags]

commands:
  serve             run the HTTP API and the reconciliation ticker
  migrate           apply pending schema migrations
  reconcile         run one reconciliation pass
  repair-conflicts  find double-booked vehicles and cancel the later booking
  fix-status        force reservations from one status to another
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}
	logger := logging.New(stderr, cfg.LogLevel)

	command, rest := args[0], args[1:]
	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger, stdout)
	case "reconcile":
		err = reconcileOnce(ctx, cfg, logger, rest, stdout)
	case "repair-conflicts":
		err = repairConflicts(ctx, cfg, logger, rest, stdout)
	case "fix-status":
		err = fixStatus(ctx, cfg, logger, rest, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", command, usage)
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		logger.Error("command failed", "command", command, "error", err, "error_kind", application.ErrorKind(err))
		return 1
	}
	return 0
}

// app holds the wired services and every resource that must be released on exit.
type app struct {
	logger  *slog.Logger
	policy  application.Policy
	deps    application.Dependencies
	closers []func() error
}

// policyFromConfig translates configuration into lifecycle rules.
func policyFromConfig(cfg config.Config) (application.Policy, error) {
	boundary, err := scheduler.ParseTimeOfDay(cfg.NightBoundary)
	if err != nil {
		return application.Policy{}, fmt.Errorf("night boundary: %w", err)
	}
	reference, err := scheduler.ParseTimeOfDay(cfg.SyncReferenceHour)
	if err != nil {
		return application.Policy{}, fmt.Errorf("sync reference hour: %w", err)
	}

	policy := application.DefaultPolicy()
	if cfg.TimeZone != nil {
		policy.Location = cfg.TimeZone
	}
	policy.Limits = scheduler.Limits{
		MaxDuration:   cfg.MaxDuration,
		RestGap:       cfg.RestGap,
		NightBoundary: boundary,
		MinLeadTime:   cfg.MinLeadTime,
	}
	policy.NoShowTimeout = cfg.NoShowTimeout
	policy.OverdueGrace = cfg.OverdueGrace
	policy.OverduePolicy = application.OverduePolicy(cfg.OverduePolicy)
	policy.ExtendIncrement = cfg.ExtendIncrement
	policy.AutoApproveAfter = cfg.AutoApproveAfter
	policy.SyncReferenceHour = reference
	policy.AdminRecipients = cfg.AdminRecipients
	return policy, nil
}

// openApp opens storage and wires the optional Redis, Kafka and MQTT backends.
func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	policy, err := policyFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &app{logger: logger, policy: policy}
	a.closers = append(a.closers, storage.Close)

	if _, err := storage.Migrate(ctx, logger); err != nil {
		a.close()
		return nil, err
	}

	var vehicles application.VehicleCatalog = vehicleCatalogAdapter{repo: storage.Vehicles}
	if cfg.MQTTBrokerURL != "" {
		client, err := vehiclestatus.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID, 10*time.Second)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		a.closers = append(a.closers, func() error {
			client.Disconnect(250)
			return nil
		})
		vehicles = vehiclestatus.NewMQTTMirror(vehicles, client, vehiclestatus.Options{Logger: logger})
		logger.Info("vehicle status mirror enabled", "broker", cfg.MQTTBrokerURL)
	}

	var locker application.VehicleLocker = lock.NewLocal()
	if cfg.LockBackend == "redis" {
		redisLock, client, err := lock.DialRedis(ctx, cfg.RedisURL, lock.RedisOptions{TTL: cfg.LockTTL, Logger: logger})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		locker = redisLock
		logger.Info("using redis vehicle lock")
	}

	a.deps = application.Dependencies{
		Reservations: newReservationRepositoryAdapter(storage.Reservations, policy.Location),
		Drivers:      driverDirectoryAdapter{repo: storage.Drivers},
		Vehicles:     vehicles,
		Reports:      dailyReportAdapter{repo: storage.Reports, loc: policy.Location},
		Locker:       locker,
		IDGenerator:  uuid.NewString,
		Now:          time.Now,
		Logger:       logger,
	}

	if len(cfg.KafkaBrokers) > 0 {
		notifier := messaging.NewKafkaNotifier(messaging.NewWriter(cfg.KafkaBrokers, cfg.KafkaNotificationTopic, logger))
		events := messaging.NewKafkaEventPublisher(messaging.NewWriter(cfg.KafkaBrokers, cfg.KafkaEventTopic, logger))
		a.closers = append(a.closers, notifier.Close, events.Close)
		a.deps.Notifier = notifier
		a.deps.Events = events
		logger.Info("kafka publishing enabled", "brokers", strings.Join(cfg.KafkaBrokers, ","))
	}

	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to release resource", "error", err)
		}
	}
	a.closers = nil
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	reservations := application.NewReservationService(a.deps, a.policy)
	reports := application.NewReportService(a.deps, a.policy)
	reconciler := application.NewReconciler(a.deps, a.policy)
	repair := application.NewRepairService(a.deps, a.policy)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Reservations: httptransport.NewReservationHandler(reservations, a.policy.Location, logger),
		Reports:      httptransport.NewReportHandler(reports, logger),
		Admin:        httptransport.NewAdminHandler(reconciler, repair, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequirePrincipal(logger),
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		if err := reconciler.RunEvery(ctx, cfg.ReconcileInterval, nil); err != nil {
			logger.Error("reconciliation ticker stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("fleet API listening", "addr", server.Addr, "reconcile_interval", cfg.ReconcileInterval.String())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-tickerDone
	return nil
}

func migrate(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer) error {
	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	applied, err := storage.Migrate(ctx, logger)
	if err != nil {
		return err
	}
	status, err := storage.MigrationStatus(ctx, logger)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{
		"applied":         applied,
		"current_version": status.CurrentVersion,
	})
}

func reconcileOnce(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	nowFlag := fs.String("now", "", "reference instant (RFC3339 or YYYY-MM-DDTHH:MM in the fleet zone), default current time")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	var now time.Time
	if *nowFlag != "" {
		now, err = scheduler.ParseInstant(*nowFlag, a.policy.Location)
		if err != nil {
			return fmt.Errorf("--now: %w", err)
		}
	}

	summary, err := application.NewReconciler(a.deps, a.policy).Run(ctx, now)
	if err != nil {
		return err
	}
	failures := make([]map[string]string, 0, len(summary.Failures))
	for _, f := range summary.Failures {
		failures = append(failures, map[string]string{
			"reservation_id": f.ReservationID,
			"vehicle_id":     f.VehicleID,
			"step":           f.Step,
			"error":          f.Err.Error(),
		})
	}
	return writeJSON(stdout, map[string]any{
		"approved": summary.Approved,
		"expired":  summary.Expired,
		"canceled": summary.Canceled,
		"overdue":  summary.Overdue,
		"extended": summary.Extended,
		"shifted":  summary.Shifted,
		"failed":   summary.Failed,
		"failures": failures,
	})
}

func repairConflicts(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("repair-conflicts", flag.ContinueOnError)
	commit := fs.Bool("commit", false, "cancel the losing reservations instead of previewing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := application.NewRepairService(a.deps, a.policy).FindAndFixConflicts(ctx, *commit)
	if err != nil {
		return err
	}
	samples := make([]map[string]any, 0, len(report.Samples))
	for _, s := range report.Samples {
		samples = append(samples, map[string]any{
			"vehicle_id":         s.VehicleID,
			"vehicle_plate":      s.VehiclePlate,
			"winner_id":          s.WinnerID,
			"winner_driver_id":   s.WinnerDriverID,
			"winner_window":      s.WinnerWindow.String(),
			"canceled_id":        s.CanceledID,
			"canceled_driver_id": s.CanceledDriverID,
			"canceled_window":    s.CanceledWindow.String(),
			"applied":            s.Applied,
		})
	}
	return writeJSON(stdout, map[string]any{
		"commit":    report.Commit,
		"conflicts": report.Conflicts,
		"fixed":     report.Fixed,
		"failed":    report.Failed,
		"samples":   samples,
	})
}

func fixStatus(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("fix-status", flag.ContinueOnError)
	from := fs.String("status-from", "", "current status of the reservations to change (required)")
	to := fs.String("status-to", "", "status to force (required)")
	ids := fs.String("ids", "", "comma separated reservation ids")
	vehicle := fs.String("vehicle", "", "vehicle id, plate, code or name")
	driver := fs.String("driver", "", "driver id, code, name or email")
	includePast := fs.Bool("include-past", false, "also select reservations that already ended")
	commit := fs.Bool("commit", false, "write the changes instead of previewing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := application.NewRepairService(a.deps, a.policy).FixStatus(ctx, application.FixStatusParams{
		From:        application.Status(strings.TrimSpace(*from)),
		To:          application.Status(strings.TrimSpace(*to)),
		IDs:         splitList(*ids),
		Vehicle:     *vehicle,
		Driver:      *driver,
		IncludePast: *includePast,
		Commit:      *commit,
	})
	if err != nil {
		return err
	}
	samples := make([]map[string]any, 0, len(report.Samples))
	for _, s := range report.Samples {
		sample := map[string]any{
			"reservation_id": s.ReservationID,
			"vehicle_id":     s.VehicleID,
			"driver_id":      s.DriverID,
			"window":         s.Window.String(),
			"applied":        s.Applied,
		}
		if s.SkipReason != "" {
			sample["skip_reason"] = s.SkipReason
		}
		samples = append(samples, sample)
	}
	return writeJSON(stdout, map[string]any{
		"commit":  report.Commit,
		"from":    report.From,
		"to":      report.To,
		"matched": report.Matched,
		"updated": report.Updated,
		"skipped": report.Skipped,
		"samples": samples,
	})
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(payload)
}

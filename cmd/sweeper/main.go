// Command sweeper runs one lifecycle sweep, a hub heartbeat or a bookings
// export and exits.
// It is meant to be driven by cron:
//
//	sweeper no-shows [--grace-period=15] [--dry-run]
//	sweeper reminders [--dry-run]
//	sweeper heartbeat
//	sweeper export [--from=YYYY-MM-DD] [--to=YYYY-MM-DD]
//
// The exit code is 1 when any swept booking failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appointly/internal/config"
	"appointly/internal/database"
	"appointly/internal/domain"
	"appointly/internal/events"
	"appointly/internal/export"
	"appointly/internal/lifecycle"
	"appointly/internal/logging"
	"appointly/internal/notify"
	"appointly/internal/repository"
	"appointly/internal/service"
	"appointly/internal/slots"
	"appointly/internal/sweeper"
	"appointly/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const usage = `usage: sweeper <command> [flags]

commands:
  no-shows    mark bookings past their grace period as no-show
  reminders   send reminders for bookings inside the reminder window
  heartbeat   report uptime and a booking snapshot to the hub
  export      write the bookings report (default: the last 7 days) to the exports directory
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd := args[0]
	switch cmd {
	case "no-shows", "reminders", "heartbeat", "export":
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	opts, err := parseFlags(cmd, args[1:], cfg.Lifecycle, stderr)
	if err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init sweeper")
		return 1
	}
	defer app.Close()

	switch cmd {
	case "heartbeat":
		err = app.heartbeat(ctx, stdout)
	case "export":
		err = app.export(ctx, opts, stdout)
	default:
		var failed bool
		failed, err = app.sweep(ctx, cmd, opts, stdout)
		if err == nil && failed {
			return 1
		}
	}
	if err != nil {
		logger.Error().Err(err).Str("command", cmd).Msg("command failed")
		return 1
	}
	return 0
}

type options struct {
	gracePeriod time.Duration
	dryRun      bool
	from, to    string
}

func parseFlags(cmd string, args []string, lc config.LifecycleConfig, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	var graceMinutes int
	if cmd == "no-shows" {
		fs.IntVar(&graceMinutes, "grace-period", int(lc.GracePeriod/time.Minute), "minutes after the scheduled start before a booking is a no-show")
	}
	switch cmd {
	case "no-shows", "reminders":
		fs.BoolVar(&opts.dryRun, "dry-run", false, "report candidates without changing them")
	case "export":
		fs.StringVar(&opts.from, "from", "", "first day, YYYY-MM-DD")
		fs.StringVar(&opts.to, "to", "", "last day, YYYY-MM-DD")
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if graceMinutes < 0 {
		fmt.Fprintln(stderr, "grace-period must not be negative")
		return opts, fmt.Errorf("negative grace period")
	}
	opts.gracePeriod = time.Duration(graceMinutes) * time.Minute
	return opts, nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "sweeper-cli").Logger()

	return cfg, logger, closer, nil
}

// app holds the collaborators one command run needs.
type app struct {
	cfg      *config.Config
	db       *database.DB
	redis    *redis.Client
	runtime  domain.RuntimeStore
	machine  *lifecycle.Machine
	bookings *service.BookingService
	hub      *events.HubReporter
	kafka    *events.KafkaPublisher
	logger   *zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	hours, err := cfg.BusinessHours.Hours()
	if err != nil {
		return nil, fmt.Errorf("business hours: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, db: db, logger: logger}
	a.runtime = repository.NewMemoryRuntimeStore()
	if cfg.Redis.Address != "" {
		client := repository.NewRedisClient(cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := repository.Ping(pingCtx, client)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using in-memory runtime store")
			_ = client.Close()
		} else {
			a.redis = client
			a.runtime = repository.NewFailoverRuntimeStore(repository.NewRedisRuntimeStore(client), a.runtime, logger)
		}
	}

	bus := events.NewEventBus(logger)
	if cfg.Kafka.Enabled {
		a.kafka = events.NewKafkaPublisher(cfg.Kafka, logger)
		bus.Subscribe(events.AllEvents, a.kafka.Handle)
	}
	a.hub = events.NewHubReporter(cfg.Hub, logger)
	if cfg.Hub.Enabled {
		bus.Subscribe(events.AllEvents, a.hub.Handle)
	}

	a.machine = lifecycle.NewMachine(db, bus, logger)
	var syncer domain.SyncWorker
	if cfg.Google.GoogleCredentialsFile != "" && cfg.Google.BookingSpreadSheetID != "" {
		// Enqueue only: the API's sheets worker drains the durable queue.
		syncer = worker.NewSheetsWorker(db, nil, a.redis, worker.RetryPolicy{}, logger)
	}
	a.bookings = service.NewBookingService(db, a.machine, slots.NewGenerator(hours), bus, syncer, logger)
	return a, nil
}

func (a *app) Close() {
	if a.kafka != nil {
		_ = a.kafka.Close()
	}
	_ = repository.Close(a.redis)
	_ = a.db.Close()
}

// sweep runs one sweep under the same lock the API runner takes. It reports
// whether any item failed.
func (a *app) sweep(ctx context.Context, cmd string, opts options, stdout io.Writer) (bool, error) {
	dispatcher, err := notify.New(a.cfg.Notify, a.logger)
	if err != nil {
		return false, fmt.Errorf("init reminder dispatcher: %w", err)
	}
	s := sweeper.New(a.db, a.bookings.SweepTransitions(), dispatcher, a.logger)

	name := sweeper.NoShowSweep
	if cmd == "reminders" {
		name = sweeper.ReminderSweep
	}

	if !opts.dryRun {
		acquired, err := a.runtime.AcquireLock(ctx, sweeper.LockName(name), sweeper.LockTTL(a.cfg.Lifecycle))
		if err != nil {
			return false, fmt.Errorf("acquire %s lock: %w", name, err)
		}
		if !acquired {
			a.logger.Info().Str("sweep", name).Msg("sweep already running elsewhere, skipping")
			return false, nil
		}
		defer (func() { _ = a.runtime.ReleaseLock(context.Background(), sweeper.LockName(name)) })()
	}

	var res sweeper.Result
	if cmd == "reminders" {
		res, err = s.Reminders(ctx, a.cfg.Lifecycle.ReminderWindow, opts.dryRun)
	} else {
		res, err = s.NoShows(ctx, opts.gracePeriod, opts.dryRun)
	}
	if err != nil {
		return false, err
	}

	if res.HasFailures() && a.cfg.Hub.Enabled {
		err := a.hub.Report(ctx, "ErrorReported", map[string]interface{}{
			"severity":    "warning",
			"sweep":       res.Sweep,
			"failed":      res.Failed,
			"attempted":   res.Attempted,
			"booking_ids": res.FailedIDs,
		})
		if err != nil {
			a.logger.Warn().Err(err).Msg("report sweep failures to hub")
		}
	}

	if err := writeJSON(stdout, res); err != nil {
		return false, err
	}
	return res.HasFailures(), nil
}

func (a *app) heartbeat(ctx context.Context, stdout io.Writer) error {
	hub := a.hub

	now := time.Now()
	since, err := a.runtime.LastRestart(ctx, now)
	if err != nil {
		return fmt.Errorf("read last restart: %w", err)
	}
	uptime := int64(now.Sub(since).Seconds())

	snapshot, err := a.bookings.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := hub.Heartbeat(ctx, uptime, snapshot); err != nil {
		return err
	}

	return writeJSON(stdout, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": uptime,
		"snapshot":       snapshot,
		"hub_configured": hub.IsConfigured(),
	})
}

// export writes the bookings workbook for [from, to]. Both default to the
// seven days before today in the business time zone.
func (a *app) export(ctx context.Context, opts options, stdout io.Writer) error {
	loc := a.bookings.Location()
	today := time.Now().In(loc)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	from, err := parseDay(opts.from, today.AddDate(0, 0, -7), loc)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseDay(opts.to, today.AddDate(0, 0, -1), loc)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	report := export.NewBookingsReport(a.db, a.cfg.Exports.Path, loc, a.logger)
	path, err := report.SaveToFile(ctx, from, to)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]string{"path": path})
}

func parseDay(raw string, fallback time.Time, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.ParseInLocation("2006-01-02", raw, loc)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

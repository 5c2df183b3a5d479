package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"appointly/internal/api"
	"appointly/internal/config"
	"appointly/internal/database"
	"appointly/internal/domain"
	"appointly/internal/events"
	"appointly/internal/export"
	"appointly/internal/google"
	"appointly/internal/lifecycle"
	"appointly/internal/logging"
	"appointly/internal/metrics"
	"appointly/internal/notify"
	"appointly/internal/payments"
	"appointly/internal/repository"
	"appointly/internal/service"
	"appointly/internal/slots"
	"appointly/internal/sweeper"
	"appointly/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := prepareDirectories(cfg); err != nil {
		logger.Error().Err(err).Msg("prepare directories")
		return err
	}

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	hours, err := cfg.BusinessHours.Hours()
	if err != nil {
		return fmt.Errorf("business hours: %w", err)
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}
	runtime := initRuntimeStore(redisClient, &logger)

	eventBus, sinks := initEventBus(cfg, &logger)
	defer (func() {
		for _, sink := range sinks {
			_ = sink.Close()
		}
	})()

	machine := lifecycle.NewMachine(db, eventBus, &logger)
	generator := slots.NewGenerator(hours)

	var syncer domain.SyncWorker
	if sheetsWorker := initGoogleSheets(ctx, cfg, db, redisClient, hours.Location, &logger); sheetsWorker != nil {
		syncer = sheetsWorker
	}

	bookings := service.NewBookingService(db, machine, generator, eventBus, syncer, &logger)

	gateway, err := payments.New(cfg.Payment, &logger)
	if err != nil {
		logger.Error().Err(err).Str("gateway", cfg.Payment.Gateway).Msg("init payment gateway")
		return err
	}
	if !gateway.IsConfigured() {
		logger.Warn().Str("gateway", gateway.Name()).Msg("payment gateway not configured, payment endpoints will return 503")
	}
	paymentService := service.NewPaymentService(db, gateway, machine, eventBus, syncer, &logger)

	if err := startSweeps(ctx, cfg, db, bookings.SweepTransitions(), runtime, &logger); err != nil {
		return err
	}

	go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)

	startMetrics(ctx, cfg, runtime, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, bookings, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	reports := export.NewBookingsReport(db, cfg.Exports.Path, hours.Location, &logger)
	httpServer := api.NewHTTPServer(cfg.API, bookings, paymentService, reports, &logger)
	httpServer.AddHealthCheck("database", db.PingContext)
	if redisClient != nil {
		httpServer.AddHealthCheck("redis", func(ctx context.Context) error {
			return repository.Ping(ctx, redisClient)
		})
	}

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
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
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config) error {
	dirs := []string{cfg.Exports.Path, filepath.Dir(cfg.Database.Path)}
	if cfg.Backup.Enabled && cfg.Backup.StoragePath != "" {
		dirs = append(dirs, cfg.Backup.StoragePath)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// initDatabase opens storage and upserts the service catalog seed file.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	servicesPath := os.Getenv("SERVICES_PATH")
	if servicesPath == "" {
		servicesPath = "configs/services.yaml"
	}
	catalog, err := config.LoadServices(servicesPath)
	if err != nil {
		logger.Error().Err(err).Str("services_path", servicesPath).Msg("load services")
		return nil, err
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SyncServices(ctx, catalog); err != nil {
		_ = db.Close()
		logger.Error().Err(err).Msg("sync services")
		return nil, err
	}
	logger.Info().Int("services", len(catalog)).Msg("service catalog synced")
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initRuntimeStore prefers redis and keeps an in-memory fallback for outages.
func initRuntimeStore(redisClient *redis.Client, logger *zerolog.Logger) domain.RuntimeStore {
	memory := repository.NewMemoryRuntimeStore()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverRuntimeStore(repository.NewRedisRuntimeStore(redisClient), memory, logger)
}

func initEventBus(cfg *config.Config, logger *zerolog.Logger) (*events.EventBus, []io.Closer) {
	bus := events.NewEventBus(logger)
	var closers []io.Closer

	if cfg.Kafka.Enabled {
		publisher := events.NewKafkaPublisher(cfg.Kafka, logger)
		bus.Subscribe(events.AllEvents, publisher.Handle)
		closers = append(closers, publisher)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka publisher enabled")
	}

	if cfg.Hub.Enabled {
		hub := events.NewHubReporter(cfg.Hub, logger)
		bus.Subscribe(events.AllEvents, hub.Handle)
		if !hub.IsConfigured() {
			logger.Warn().Msg("hub reporter enabled but not fully configured, events will be dropped")
		}
	}

	return bus, closers
}

// initGoogleSheets starts the sheets mirror worker, or returns nil when the
// mirror is not configured or unreachable.
func initGoogleSheets(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	loc *time.Location,
	logger *zerolog.Logger,
) *worker.SheetsWorker {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.BookingSpreadSheetID == "" {
		return nil
	}

	sheetsService, err := google.NewSheetsService(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.BookingSpreadSheetID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	sheetsService.SetLocation(loc)

	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sheetsService.TestConnection(testCtx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	go sheetsService.Start(ctx, time.Hour)

	sheetsWorker := worker.NewSheetsWorker(db, sheetsService, redisClient, worker.RetryPolicy{}, logger)
	if _, err := sheetsWorker.RequeueFailed(ctx); err != nil {
		logger.Warn().Err(err).Msg("requeue failed sheets tasks")
	}
	go sheetsWorker.Start(ctx)
	if err := sheetsWorker.EnqueueResync(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial sheets resync not scheduled")
	}

	logger.Info().Msg("google sheets connected")
	return sheetsWorker
}

func startSweeps(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	transitions sweeper.Transitioner,
	locks domain.RuntimeStore,
	logger *zerolog.Logger,
) error {
	if !cfg.Lifecycle.SweepEnabled {
		logger.Info().Msg("in-process sweeps disabled")
		return nil
	}

	dispatcher, err := notify.New(cfg.Notify, logger)
	if err != nil {
		logger.Error().Err(err).Str("channel", cfg.Notify.Channel).Msg("init reminder dispatcher")
		return err
	}

	runner := sweeper.NewRunner(sweeper.New(db, transitions, dispatcher, logger), locks, cfg.Lifecycle, logger)
	go runner.Run(ctx)
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, runtime domain.RuntimeStore, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
	go trackUptime(ctx, runtime, logger)
}

// trackUptime refreshes the uptime gauge from the recorded last restart.
func trackUptime(ctx context.Context, runtime domain.RuntimeStore, logger *zerolog.Logger) {
	update := func() {
		now := time.Now()
		since, err := runtime.LastRestart(ctx, now)
		if err != nil {
			logger.Warn().Err(err).Msg("read last restart")
			return
		}
		metrics.SetUptime(now.Sub(since).Seconds())
	}

	update()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	event := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		event = event.Str("grpc_addr", grpcServer.Addr())
	}
	event.Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"detention/internal/app"
	"detention/internal/config"
	"detention/internal/domain"
	"detention/internal/handler"
	"detention/internal/logging"
	"detention/internal/metrics"
	"detention/internal/middleware"
	internalRedis "detention/internal/redis"
	"detention/internal/remote"
	"detention/internal/repository"
	"detention/internal/repository/postgres"
	"detention/internal/service"
	"detention/internal/store"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.RegisterDefault()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", zap.Error(err))
		} else {
			logger.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	var db *sql.DB
	if cfg.Remote.Backend == "postgres" {
		db, err = app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("connected to postgres", zap.String("db", cfg.Database.DBName))
	}

	deps, err := wire(ctx, cfg, db, redisClient, nrApp, logger)
	if err != nil {
		logger.Fatal("failed to wire server", zap.Error(err))
	}

	deps.worker.Start()

	// Start server in goroutine.
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := deps.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	deps.worker.Stop()
	if err := deps.tracker.Persist(shutdownCtx); err != nil {
		logger.Error("failed to persist detention state", zap.Error(err))
	}
	if err := deps.Close(); err != nil {
		logger.Error("failed to close state store", zap.Error(err))
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("server exited")
}

type components struct {
	server     *http.Server
	tracker    *service.Tracker
	monitor    *service.GeofenceMonitor
	worker     *service.SyncWorker
	closeState func() error
}

// Close stops the monitor, waits for background remote calls and closes the
// state store.
func (c *components) Close() error {
	c.monitor.Stop()
	c.tracker.Close()
	if c.closeState != nil {
		return c.closeState()
	}
	return nil
}

// wire builds the session core and the HTTP server around it.
func wire(ctx context.Context, cfg *config.Config, db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, logger *zap.Logger) (*components, error) {
	// Durable state and facility index.
	var (
		facilities handler.FacilityIndex
		responses  middleware.ResponseCache
	)
	if redisClient != nil {
		facilities = internalRedis.NewFacilityStore(redisClient, cfg.Detention.FacilitySearchKm)
		responses = internalRedis.NewResponseCache(redisClient)
	} else {
		facilities = store.NewFacilityIndex(cfg.Detention.FacilitySearchKm)
		responses = store.NewResponseCache(10 * time.Minute)
	}

	state, closeState, err := newStateStore(ctx, cfg.Detention, redisClient, logger)
	if err != nil {
		return nil, err
	}

	events, err := newEventStore(ctx, cfg.Remote, db)
	if err != nil {
		if closeState != nil {
			_ = closeState()
		}
		return nil, err
	}

	// Session core.
	queue := service.NewCaptureQueue(logger.Named("queue"))
	session := service.NewSessionManager(queue, logger.Named("session"))
	scheduler := service.NewScheduler(service.NewLogNotifier(logger.Named("notify")), logger.Named("scheduler"))
	tracker := service.NewTracker(session, queue, events, state, scheduler, service.TrackerConfig{
		StateKey:          cfg.Detention.StateKey,
		RemoteTimeout:     cfg.Remote.Timeout,
		GraceReminderLead: cfg.Detention.GraceReminderLead,
	}, logger.Named("tracker"))
	if err := tracker.Restore(ctx); err != nil {
		// A corrupt or unreachable snapshot starts the device idle.
		logger.Error("failed to restore detention state", zap.Error(err))
	}

	provider := service.NewPushLocationProvider(true, 2*cfg.Detention.PollInterval)
	monitor := service.NewGeofenceMonitor(provider, facilities, service.MonitorConfig{
		PollInterval: cfg.Detention.PollInterval,
		RadiusMeters: cfg.Detention.GeofenceRadiusM,
		FetchTimeout: cfg.Detention.LocationTimeout,
	}, logger.Named("geofence"))
	monitor.OnLocation(func(loc domain.Location) {
		tracker.UpdateLocation(loc)
		tracker.LogGpsPoint(context.Background())
	})
	monitor.OnEvent(func(ev domain.GeofenceEvent) {
		logger.Info("geofence event",
			zap.String("kind", string(ev.Kind)),
			zap.String("facility_id", ev.Facility.ID),
			zap.String("facility", ev.Facility.Name),
		)
	})

	worker := service.NewSyncWorker(tracker, cfg.Detention.SyncInterval, cfg.Remote.Timeout*3, logger.Named("sync"))

	// Initialize handlers.
	detentionHandler := handler.NewDetentionHandler(tracker, handler.Defaults{
		GracePeriodMinutes: cfg.Detention.DefaultGraceMinutes,
		HourlyRate:         cfg.Detention.DefaultHourlyRate,
	})
	geofenceHandler := handler.NewGeofenceHandler(monitor, provider, tracker, facilities)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		DetentionHandler: detentionHandler,
		GeofenceHandler:  geofenceHandler,
		ResponseCache:    responses,
		NewRelicApp:      nrApp,
		Logger:           logger.Named("http"),
	})

	return &components{
		server: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		tracker:    tracker,
		monitor:    monitor,
		worker:     worker,
		closeState: closeState,
	}, nil
}

// newStateStore selects where the session snapshot lives: Redis when it is
// enabled, otherwise a local SQLite file. The returned close func may be nil.
func newStateStore(ctx context.Context, cfg config.DetentionConfig, redisClient *redis.Client, logger *zap.Logger) (service.StateStore, func() error, error) {
	if redisClient != nil {
		return internalRedis.NewStateStore(redisClient), nil, nil
	}

	switch cfg.StateStore {
	case "sqlite":
		s, err := store.OpenSQLiteStore(ctx, cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("detention state stored in sqlite", zap.String("path", cfg.StatePath))
		return s, s.Close, nil
	case "memory":
		logger.Warn("detention state is kept in memory and will not survive a restart")
		return store.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown state store %q", cfg.StateStore)
	}
}

// newEventStore selects the remote event store binding.
func newEventStore(ctx context.Context, cfg config.RemoteConfig, db *sql.DB) (repository.EventStore, error) {
	switch cfg.Backend {
	case "postgres":
		repo := postgres.NewEventRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure event schema: %w", err)
		}
		return repo, nil
	case "rest":
		if cfg.BaseURL == "" {
			return nil, errors.New("EVENT_STORE_URL is required for the rest backend")
		}
		return remote.NewClient(cfg.BaseURL, cfg.Token, cfg.Timeout, nil), nil
	default:
		return nil, fmt.Errorf("unknown event store backend %q", cfg.Backend)
	}
}

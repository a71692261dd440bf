package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/photark/photark-backend/internal/audit"
	"github.com/photark/photark-backend/internal/dedup"
	"github.com/photark/photark-backend/internal/importer"
	"github.com/photark/photark-backend/internal/items"
	"github.com/photark/photark-backend/internal/recovery"
	"github.com/photark/photark-backend/internal/sessions"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/enums"
	"github.com/photark/photark-backend/pkg/logger"
	"github.com/photark/photark-backend/pkg/metrics"
	"github.com/photark/photark-backend/pkg/migrate"
	"github.com/photark/photark-backend/pkg/outbox"
	"github.com/photark/photark-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "import-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "import-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	importMetrics := metrics.NewImportMetrics(prometheus.DefaultRegisterer)

	itemsRepo := items.NewRepository(dbClient.DB())
	sessionsRepo := sessions.NewRepository(dbClient.DB())
	mediaRepo := importer.NewMediaRepository(dbClient.DB())
	recorder := audit.NewRecorder(audit.NewRepository(dbClient.DB()), cfg.Audit, logg)
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	sessionsSvc, err := sessions.NewService(dbClient, sessionsRepo, itemsRepo, recorder, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create sessions service", err)
		os.Exit(1)
	}
	itemsSvc, err := items.NewService(dbClient, itemsRepo, recorder, sessionsRepo, importMetrics, cfg.Import, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create items service", err)
		os.Exit(1)
	}
	taskRegistry, err := recovery.NewTaskRegistry(redisClient, cfg.Recovery.TaskTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create task registry", err)
		os.Exit(1)
	}

	storage, err := importer.NewDiskStorage(cfg.Import.LibraryRoot)
	if err != nil {
		logg.Error(context.Background(), "failed to open media library", err)
		os.Exit(1)
	}

	processor, err := importer.NewProcessor(
		dbClient,
		mediaRepo,
		dedup.NewEngine(dedup.Config{CaptureTolerance: cfg.Import.CaptureTolerance}),
		storage,
		outboxSvc,
		recorder,
		importMetrics,
		cfg.Import,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create processor", err)
		os.Exit(1)
	}

	sources, fetchers, err := buildIntake(cfg)
	if err != nil {
		logg.Error(context.Background(), "failed to configure intake sources", err)
		os.Exit(1)
	}

	expander, err := importer.NewExpander(dbClient, sessionsSvc, itemsRepo, recorder, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create expander", err)
		os.Exit(1)
	}

	pool, err := importer.NewPool(
		dbClient,
		sessionsSvc,
		sessionsRepo,
		itemsSvc,
		itemsRepo,
		processor,
		fetchers,
		taskRegistry,
		importer.NewThrottle(cfg.Import.ThrottleCPUPercent, cfg.Import.ThrottleBackoff, logg),
		outboxSvc,
		cfg.Import,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker pool", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting import worker")

	go metrics.Serve(ctx, cfg.App.MetricsPort, logg)
	go expander.Run(ctx, cfg.Import.ExpandInterval, sessionsRepo, sources)

	pool.Run(ctx)
	logg.Info(ctx, "import worker shutting down gracefully")
}

// buildIntake wires one source/fetcher pair per configured origin. At least
// one origin must be configured or the worker has nothing to do.
func buildIntake(cfg *config.Config) (map[enums.ImportOrigin]importer.Source, map[enums.ImportOrigin]importer.Fetcher, error) {
	sources := map[enums.ImportOrigin]importer.Source{}
	fetchers := map[enums.ImportOrigin]importer.Fetcher{}

	if cfg.Picker.BaseURL != "" {
		picker, err := importer.NewPickerClient(cfg.Picker)
		if err != nil {
			return nil, nil, err
		}
		sources[enums.ImportOriginRemote] = picker
		fetchers[enums.ImportOriginRemote] = picker
	}
	if cfg.Import.LocalRoot != "" {
		local, err := importer.NewLocalSource(cfg.Import.LocalRoot)
		if err != nil {
			return nil, nil, err
		}
		sources[enums.ImportOriginLocal] = local
		fetchers[enums.ImportOriginLocal] = local
	}
	if len(sources) == 0 {
		return nil, nil, errors.New("neither picker base url nor local import root is configured")
	}
	return sources, fetchers, nil
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/photark/photark-backend/internal/audit"
	"github.com/photark/photark-backend/internal/items"
	"github.com/photark/photark-backend/internal/recovery"
	"github.com/photark/photark-backend/internal/sessions"
	"github.com/photark/photark-backend/internal/troubleshoot"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/logger"
	"github.com/photark/photark-backend/pkg/metrics"
	"github.com/photark/photark-backend/pkg/migrate"
	"github.com/photark/photark-backend/pkg/outbox"
	"github.com/photark/photark-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "recovery-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "recovery-worker",
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
	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)

	itemsRepo := items.NewRepository(dbClient.DB())
	sessionsRepo := sessions.NewRepository(dbClient.DB())
	auditRepo := audit.NewRepository(dbClient.DB())
	recorder := audit.NewRecorder(auditRepo, cfg.Audit, logg)

	sessionsSvc, err := sessions.NewService(dbClient, sessionsRepo, itemsRepo, recorder, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create sessions service", err)
		os.Exit(1)
	}
	taskRegistry, err := recovery.NewTaskRegistry(redisClient, cfg.Recovery.TaskTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create task registry", err)
		os.Exit(1)
	}

	validator, err := sessions.NewValidator(sessionsRepo, itemsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create consistency validator", err)
		os.Exit(1)
	}
	diagnostics, err := troubleshoot.NewEngine(auditRepo, validator, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create troubleshooting engine", err)
		os.Exit(1)
	}

	scanner, err := recovery.NewScanner(recovery.ScannerParams{
		Sessions:    sessionsRepo,
		States:      sessionsSvc,
		Tasks:       taskRegistry,
		Recorder:    recorder,
		Diagnostics: diagnostics,
		DB:          dbClient,
		Events:      outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Metrics:     importMetrics,
		Config:      cfg.Recovery,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create scanner", err)
		os.Exit(1)
	}
	retention, err := recovery.NewAuditRetentionJob(auditRepo, cfg.Recovery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create retention job", err)
		os.Exit(1)
	}

	lock, err := recovery.NewRedisLock(redisClient, redisClient.LockKey("recovery-worker"), cfg.Recovery.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create recovery lock", err)
		os.Exit(1)
	}

	service, err := recovery.NewService(recovery.ServiceParams{
		Logger:   logg,
		Registry: recovery.NewRegistry(scanner, retention),
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Recovery.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create recovery service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting recovery worker")

	go metrics.Serve(ctx, cfg.App.MetricsPort, logg)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "recovery worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "recovery worker shutting down gracefully")
}

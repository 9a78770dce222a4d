package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/daymark/daymark/internal/app"
	"github.com/daymark/daymark/internal/authz"
	"github.com/daymark/daymark/internal/delegations"
	"github.com/daymark/daymark/internal/directory"
	"github.com/daymark/daymark/internal/memberships"
	"github.com/daymark/daymark/internal/observability"
	"github.com/daymark/daymark/internal/platform/cache"
	"github.com/daymark/daymark/internal/platform/db"
	"github.com/daymark/daymark/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The worker cannot run without Redis, so unlike the API server it
	// refuses to start when the ping fails.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	catalog, err := authz.NewCatalog()
	if err != nil {
		logger.Error("build permission catalog", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	directoryRepo := directory.NewRepository(pool)
	membershipRepo := memberships.NewRepository(pool)
	delegationRepo := delegations.NewRepository(pool)

	effectiveCache := authz.NewEffectiveCache(redisClient, cfg.AuthzCacheTTL)

	engine := authz.NewEngine(authz.EngineConfig{
		Catalog:     catalog,
		Principals:  directoryRepo,
		Scopes:      directoryRepo,
		Memberships: membershipRepo,
		Delegations: delegationRepo,
		Cache:       effectiveCache,
		Logger:      logger,
		Recorder:    metrics,
	})

	delegationService := delegations.NewService(delegationRepo, catalog, engine, directoryRepo, effectiveCache, logger, nil)

	sweepTask, err := jobs.NewDelegationSweepTask(jobs.DelegationSweepPayload{Retention: cfg.DelegationRetention})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDelegationSweep, Handler: jobs.NewDelegationSweepHandler(delegationService, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DelegationSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

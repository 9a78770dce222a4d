package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/daymark/daymark/internal/app"
	"github.com/daymark/daymark/internal/auth"
	"github.com/daymark/daymark/internal/authz"
	"github.com/daymark/daymark/internal/delegations"
	"github.com/daymark/daymark/internal/directory"
	"github.com/daymark/daymark/internal/memberships"
	"github.com/daymark/daymark/internal/observability"
	"github.com/daymark/daymark/internal/platform/db"
	"github.com/daymark/daymark/internal/shared"
	"github.com/daymark/daymark/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "daymark_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	catalog, err := authz.NewCatalog()
	if err != nil {
		logger.Error("build permission catalog", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	directoryRepo := directory.NewRepository(dbpool)
	membershipRepo := memberships.NewRepository(dbpool)
	delegationRepo := delegations.NewRepository(dbpool)

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

	authService := auth.NewService(directoryRepo, auth.NewSessionAudit(dbpool))
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	authzHandler := authz.NewHandler(logger, engine)
	directoryHandler := directory.NewHandler(logger, directoryRepo, authz.Middleware{Engine: engine, Logger: logger})

	membershipService := memberships.NewService(membershipRepo, catalog, effectiveCache, logger)
	membershipHandler := memberships.NewHandler(logger, membershipService, engine)

	delegationService := delegations.NewService(delegationRepo, catalog, engine, directoryRepo, effectiveCache, logger, nil)
	delegationHandler := delegations.NewHandler(logger, delegationService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		AuthHandler:        authHandler,
		AuthzHandler:       authzHandler,
		DelegationsHandler: delegationHandler,
		DirectoryHandler:   directoryHandler,
		MembershipsHandler: membershipHandler,
		JobsHandler:        jobsHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

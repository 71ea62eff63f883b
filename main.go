package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/faultline-hq/faultline-engine/pkg/config"
	"github.com/faultline-hq/faultline-engine/pkg/database"
	"github.com/faultline-hq/faultline-engine/pkg/handlers"
	"github.com/faultline-hq/faultline-engine/pkg/repositories"
	"github.com/faultline-hq/faultline-engine/pkg/retry"
	"github.com/faultline-hq/faultline-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const migrationsPath = "migrations"

func main() {
	cfg, err := config.Load(Version)
	if errors.Is(err, os.ErrNotExist) {
		// No config.yaml: environment-only deployment.
		cfg, err = config.LoadFromEnv(Version)
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host),
		zap.Bool("redis_enabled", cfg.Redis.Host != ""),
		zap.Duration("lock_timeout", cfg.Grouping.LockTimeout),
		zap.Duration("regression_tolerance", cfg.Grouping.RegressionTolerance))

	ctx := context.Background()

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, migrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	groupRepo := repositories.NewGroupRepository(db)
	hashRepo := repositories.NewGroupHashRepository(db)
	resolutionRepo := repositories.NewResolutionRepository(db)

	var throttle services.CreationThrottle = services.NoopThrottle{}
	if redisClient != nil && cfg.Grouping.CreateRatePerProject > 0 {
		throttle = services.NewRedisCreationThrottle(
			redisClient, cfg.Grouping.CreateRatePerProject, cfg.Grouping.CreateRateWindow, logger)
	}

	resolver := services.NewHashResolver()
	aggregator := services.NewGroupAggregator(db, hashRepo, groupRepo, resolver, throttle, cfg.Grouping, logger)
	counters := services.NewCounterUpdater(groupRepo, cfg.Grouping.BufferFlushInterval, logger)
	sink := services.NewLogWitnessSink(logger)
	regressions := services.NewRegressionEngine(groupRepo, resolutionRepo, sink, cfg.Grouping.RegressionTolerance, logger)

	contributors := []services.TagContributor{
		services.PlatformTagContributor{},
		services.ReleaseTagContributor{},
	}
	orchestrator := services.NewOrchestrator(aggregator, counters, regressions, contributors, logger)

	counters.Start()

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewIngestHandler(orchestrator, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting faultline-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown failed", zap.Error(err))
	}
	if err := counters.Stop(shutdownCtx); err != nil {
		logger.Warn("Final counter flush failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

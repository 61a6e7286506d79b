package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/tenant-jobs/internal/config"
	"github.com/mtr002/tenant-jobs/internal/db"
	"github.com/mtr002/tenant-jobs/internal/grpc"
	"github.com/mtr002/tenant-jobs/internal/handlers"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/logger"
	"github.com/mtr002/tenant-jobs/internal/nats"
	"github.com/mtr002/tenant-jobs/internal/redisstore"
	"github.com/mtr002/tenant-jobs/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("worker-service", "info")
		logger.Logger.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init("worker-service", cfg.LogLevel)
	logger.Logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("Starting Worker Service")

	settings, err := cfg.JobSettings()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Invalid job settings")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := db.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	database, err := db.Connect(ctx, dbCfg)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if cfg.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	records, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer records.Close()

	natsClient, err := nats.NewClient(cfg.NATSURL, "worker-service")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer natsClient.Close()

	channel, err := nats.NewChannel(natsClient, cfg.ChannelConfig())
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to open JetStream")
	}
	events := nats.NewEventBus(natsClient)

	registry := handlers.NewRegistry(handlers.Deps{Repos: db.NewRepositories(database), Events: events})
	store := jobs.NewStore(records, settings)
	processor := worker.NewProcessor(store, channel, registry, events)

	workerPool := worker.NewPool(channel, processor, registry.Kinds(), cfg.WorkerConcurrency)
	if err := workerPool.Start(ctx); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to start worker pool")
	}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to listen")
	}
	healthServer := grpc.NewHealthServer()
	healthServer.SetServing(true)
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to serve")
		}
	}()

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsRouter, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Logger.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Logger.Info().Msg("Shutting down gracefully...")
	healthServer.SetServing(false)
	workerPool.Stop()
	healthServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("Metrics server shutdown failed")
	}
	logger.Logger.Info().Msg("Worker Service stopped")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtr002/tenant-jobs/internal/api"
	"github.com/mtr002/tenant-jobs/internal/auth"
	"github.com/mtr002/tenant-jobs/internal/config"
	"github.com/mtr002/tenant-jobs/internal/db"
	"github.com/mtr002/tenant-jobs/internal/grpc"
	"github.com/mtr002/tenant-jobs/internal/handlers"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/logger"
	"github.com/mtr002/tenant-jobs/internal/nats"
	"github.com/mtr002/tenant-jobs/internal/redisstore"
	"github.com/mtr002/tenant-jobs/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("api-service", "info")
		logger.Logger.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init("api-service", cfg.LogLevel)
	logger.Logger.Info().Msg("Starting API Service")

	if cfg.JWTSecret == "" {
		logger.Logger.Fatal().Msg("JOBS_JWT_SECRET is required")
	}
	settings, err := cfg.JobSettings()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Invalid job settings")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer records.Close()

	dbCfg := db.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	database, err := db.Connect(ctx, dbCfg)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	natsClient, err := nats.NewClient(cfg.NATSURL, "api-service")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer natsClient.Close()

	channel, err := nats.NewChannel(natsClient, cfg.ChannelConfig())
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to open JetStream")
	}

	events := nats.NewEventBus(natsClient)
	defer events.Close()

	// Only Prepare runs here; it does not touch the repositories.
	registry := handlers.NewRegistry(handlers.Deps{Repos: db.NewRepositories(database), Events: events})
	store := jobs.NewStore(records, settings)
	manager := jobs.NewManager(store, channel, registry, settings)
	reader := jobs.NewReader(store)

	hub := websocket.NewHub()
	go hub.Run(ctx)
	if err := events.Subscribe(hub.Send); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to subscribe to events")
	}

	workerClient, err := grpc.NewClient(cfg.WorkerGRPCAddr)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to create worker health client")
	}
	defer workerClient.Close()

	router := api.NewRouter(api.Deps{
		Manager:  manager,
		Reader:   reader,
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Hub:      hub,
		Checkers: []api.Checker{
			{Name: "redis", Check: records.Ping},
			{Name: "nats", Check: natsClient.Ping},
			{Name: "postgres", Check: database.PingContext},
			{Name: "worker", Check: workerClient.Check},
		},
		CORSOrigins: cfg.CORSOrigins,
	})
	server := api.NewServer(cfg.HTTPAddr, router)

	go func() {
		if err := server.Start(); err != nil {
			logger.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Logger.Info().Msg("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()
	logger.Logger.Info().Msg("API Service stopped")
}

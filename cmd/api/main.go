package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openhr/internal/api"
	"openhr/internal/cache"
	"openhr/internal/config"
	"openhr/internal/db"
	"openhr/internal/discord"
	"openhr/internal/logging"
	"openhr/internal/redis"
	"openhr/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New("openhr-api", cfg.LogLevel)
	logger.Info("starting_service", "http_addr", cfg.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConn, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := db.RunMigrations(cfg.DBDSN); err != nil {
		logger.Error("migrations_failed", "error", err)
		os.Exit(1)
	}

	// redis is optional: the API falls back to in-process rate limiting
	redisClient, err := redis.New(cfg.RedisDSN)
	if err != nil {
		logger.Warn("redis_connect_failed", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	memCache := cache.New(5*time.Minute, time.Minute)
	defer memCache.Stop()

	directory := discord.NewClient(logger, cfg.BotToken, discord.ClientOptions{
		BaseURL:   cfg.DiscordAPIBase,
		PageSize:  cfg.SyncPageSize,
		PageDelay: cfg.SyncPageDelay,
	})

	store := sync.NewPGStore(dbConn)
	resolver := sync.NewResolver(logger, store)
	engine := sync.NewEngine(logger, store, resolver)
	tracker := sync.NewStatusTracker(logger, store)
	service := sync.NewService(logger, directory, engine, tracker, memCache, cfg.SyncBatchSize)
	reconciler := sync.NewReconciler(logger, dbConn)

	srv := api.NewServer(logger, cfg, dbConn, redisClient, memCache, store, service, tracker, reconciler)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_listen_failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("api_server_ready", "addr", cfg.HTTPAddr)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	} else {
		logger.Info("http_server_stopped")
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openhr/internal/cache"
	"openhr/internal/config"
	"openhr/internal/db"
	"openhr/internal/discord"
	"openhr/internal/logging"
	"openhr/internal/storage"
	"openhr/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New("openhr-worker", cfg.LogLevel)
	logger.Info("starting_worker", "sync_interval", cfg.SyncInterval.String())

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

	archiver := buildArchiver(logger, cfg)
	archiveJob := storage.NewAvatarArchiveJob(logger, dbConn, archiver)
	go archiveJob.Start(ctx)

	go resyncLoop(ctx, logger, store, service, cfg.SyncInterval)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")
	cancel()
}

// buildArchiver picks real bucket storage when credentials are configured
// and the deterministic simulator otherwise.
func buildArchiver(logger *slog.Logger, cfg config.Config) storage.AvatarArchiver {
	keys, err := cfg.ParseR2Keys()
	if err != nil {
		logger.Warn("invalid_r2_keys", "error", err)
		return storage.NewSimulator(cfg.R2Bucket, cfg.R2Endpoint)
	}
	if keys.AccessKeyID == "" || cfg.R2Bucket == "" {
		logger.Info("avatar_archival_simulated", "reason", "no bucket credentials")
		return storage.NewSimulator(cfg.R2Bucket, cfg.R2Endpoint)
	}

	client, err := storage.NewS3Client(storage.S3Config{
		Endpoint:        cfg.R2Endpoint,
		AccessKeyID:     keys.AccessKeyID,
		SecretAccessKey: keys.SecretAccessKey,
		Bucket:          cfg.R2Bucket,
		PublicURL:       keys.PublicURL,
		Region:          keys.Region,
	})
	if err != nil {
		logger.Warn("s3_client_init_failed", "error", err)
		return storage.NewSimulator(cfg.R2Bucket, cfg.R2Endpoint)
	}
	logger.Info("avatar_archival_enabled", "bucket", cfg.R2Bucket)
	return client
}

// resyncLoop re-mirrors every known guild on a fixed interval. Guilds enter
// the set the first time an admin triggers a sync through the API.
func resyncLoop(ctx context.Context, logger *slog.Logger, store sync.Store, service *sync.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		guildIDs, err := store.ListGuildIDs(ctx)
		if err != nil {
			logger.Warn("guild_list_failed", "error", err)
			continue
		}

		for _, guildID := range guildIDs {
			if ctx.Err() != nil {
				return
			}
			result := service.SyncGuild(ctx, guildID)
			logger.Info("periodic_sync_finished",
				"guild_id", guildID,
				"success", result.Success,
				"synced_members", result.SyncedMembers,
				"errors", len(result.Errors),
			)
		}
	}
}

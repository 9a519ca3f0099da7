package storage

import (
	"context"
	"log/slog"
	"time"

	"openhr/internal/db"
)

// AvatarArchiver copies one avatar from the source CDN into durable storage.
type AvatarArchiver interface {
	ArchiveAvatar(discordID, avatarHash string) (string, error)
}

// ArchiveAvatar lets the simulator stand in for the S3 client in dev mode.
func (r *Simulator) ArchiveAvatar(discordID, avatarHash string) (string, error) {
	return r.SimulatedURL(discordID, avatarHash), nil
}

// AvatarArchiveJob periodically scans mirror rows whose avatar has not been
// archived yet and backfills archived_avatar_url. CDN URLs rot when a user
// changes avatar; the archived copy does not.
type AvatarArchiveJob struct {
	db       *db.DB
	archiver AvatarArchiver
	logger   *slog.Logger
	interval time.Duration
}

func NewAvatarArchiveJob(logger *slog.Logger, dbConn *db.DB, archiver AvatarArchiver) *AvatarArchiveJob {
	return &AvatarArchiveJob{
		db:       dbConn,
		archiver: archiver,
		logger:   logger,
		interval: 6 * time.Hour,
	}
}

// Start blocks until ctx is cancelled. The first cycle runs immediately.
func (aj *AvatarArchiveJob) Start(ctx context.Context) {
	ticker := time.NewTicker(aj.interval)
	defer ticker.Stop()

	aj.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(ctx, time.Hour)
			aj.runCycle(cycleCtx)
			cancel()
		}
	}
}

func (aj *AvatarArchiveJob) runCycle(ctx context.Context) {
	aj.logger.Info("avatar_archive_cycle_started")

	rows, err := aj.db.Pool.Query(ctx,
		`SELECT discord_id, avatar_hash
		 FROM guild_members
		 WHERE archived_avatar_url IS NULL
		 AND avatar_hash IS NOT NULL
		 AND avatar_hash != ''
		 GROUP BY discord_id, avatar_hash
		 LIMIT 100`,
	)
	if err != nil {
		aj.logger.Warn("failed_to_fetch_unarchived_avatars", "error", err)
		return
	}

	type pending struct{ discordID, avatarHash string }
	var work []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.discordID, &p.avatarHash); err != nil {
			continue
		}
		work = append(work, p)
	}
	rows.Close()

	count := 0
	for _, p := range work {
		select {
		case <-ctx.Done():
			return
		default:
		}

		url, err := aj.archiver.ArchiveAvatar(p.discordID, p.avatarHash)
		if err != nil {
			aj.logger.Warn("avatar_archive_failed",
				"discord_id", p.discordID,
				"avatar_hash", p.avatarHash,
				"error", err,
			)
			continue
		}

		_, err = aj.db.Pool.Exec(ctx,
			`UPDATE guild_members
			 SET archived_avatar_url = $1
			 WHERE discord_id = $2 AND avatar_hash = $3`,
			url, p.discordID, p.avatarHash,
		)
		if err != nil {
			aj.logger.Warn("failed_to_store_archived_url",
				"discord_id", p.discordID,
				"error", err,
			)
			continue
		}

		count++
		// pace CDN downloads
		time.Sleep(time.Second)
	}

	aj.logger.Info("avatar_archive_cycle_completed", "archived", count)
}

package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"openhr/internal/cache"
	"openhr/internal/discord"
	"openhr/internal/models"
)

// DirectoryClient is the slice of the Discord client the orchestrator needs.
type DirectoryClient interface {
	GetGuild(ctx context.Context, guildID string) (*discord.Guild, error)
	GetAllGuildMembers(ctx context.Context, guildID string) ([]discord.Member, error)
	ValidateBotPermissions(ctx context.Context, guildID string) (*discord.PermissionCheck, error)
}

// Service runs the full guild sync state machine:
// pending → syncing → completed|error, re-enterable from either terminal
// state. Infrastructure failures (permissions, metadata fetch, member fetch)
// abort the sync with status=error; batch failures are recorded and skipped.
type Service struct {
	client    DirectoryClient
	engine    *Engine
	tracker   *StatusTracker
	cache     *cache.Cache
	logger    *slog.Logger
	batchSize int
}

func NewService(logger *slog.Logger, client DirectoryClient, engine *Engine, tracker *StatusTracker, c *cache.Cache, batchSize int) *Service {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Service{
		client:    client,
		engine:    engine,
		tracker:   tracker,
		cache:     c,
		logger:    logger,
		batchSize: batchSize,
	}
}

// SyncGuild mirrors one guild's member list. It always returns a usable
// result: fatal failures come back as Success=false with the error recorded,
// never as a panic or a bare error to the caller.
func (s *Service) SyncGuild(ctx context.Context, guildID string) *models.SyncResult {
	// concurrent syncs of the same guild are not excluded, only surfaced
	if prev, err := s.tracker.GetStatus(ctx, guildID); err == nil && prev != nil && prev.Status == models.SyncStatusSyncing {
		s.logger.Warn("sync_already_in_progress", "guild_id", guildID)
	}

	if err := s.tracker.SetStatus(ctx, guildID, models.SyncStatusSyncing, nil, ""); err != nil {
		s.logger.Error("sync_status_write_failed", "guild_id", guildID, "error", err)
	}

	s.logger.Info("guild_sync_started", "guild_id", guildID)

	result, guildName, fatal := s.run(ctx, guildID)
	if fatal != nil {
		msg := fatal.Error()
		s.logger.Error("guild_sync_failed", "guild_id", guildID, "error", msg)
		if err := s.tracker.SetStatus(ctx, guildID, models.SyncStatusError, nil, msg); err != nil {
			s.logger.Error("sync_status_write_failed", "guild_id", guildID, "error", err)
		}
		return &models.SyncResult{Success: false, Errors: []string{msg}}
	}

	data := &StatusData{
		GuildName:     guildName,
		TotalMembers:  result.TotalMembers,
		SyncedMembers: result.SyncedMembers,
	}
	if err := s.tracker.SetStatus(ctx, guildID, models.SyncStatusCompleted, data, ""); err != nil {
		s.logger.Error("sync_status_write_failed", "guild_id", guildID, "error", err)
	}

	if s.cache != nil {
		s.cache.InvalidateByPrefix(fmt.Sprintf("guild:%s:", guildID))
	}

	result.Success = len(result.Errors) == 0
	s.logger.Info("guild_sync_completed",
		"guild_id", guildID,
		"total_members", result.TotalMembers,
		"synced_members", result.SyncedMembers,
		"linked_members", result.LinkedMembers,
		"batch_errors", len(result.Errors),
	)
	return result
}

// run performs steps 2-4 of the sync. A non-nil fatal error means the whole
// sync failed and no completion status should be written.
func (s *Service) run(ctx context.Context, guildID string) (*models.SyncResult, string, error) {
	perms, err := s.client.ValidateBotPermissions(ctx, guildID)
	if err != nil {
		return nil, "", fmt.Errorf("permission_check_failed: %w", err)
	}
	if !perms.HasPermissions {
		return nil, "", fmt.Errorf("insufficient_permissions: missing %s",
			strings.Join(perms.MissingPermissions, ", "))
	}

	guild, err := s.client.GetGuild(ctx, guildID)
	if err != nil {
		return nil, "", fmt.Errorf("guild_fetch_failed: %w", err)
	}

	members, err := s.client.GetAllGuildMembers(ctx, guildID)
	if err != nil {
		return nil, "", fmt.Errorf("member_fetch_failed: %w", err)
	}

	result := &models.SyncResult{
		TotalMembers: len(members),
		Errors:       []string{},
	}

	for i := 0; i < len(members); i += s.batchSize {
		end := i + s.batchSize
		if end > len(members) {
			end = len(members)
		}
		batchIndex := i / s.batchSize

		br, err := s.processBatchSafe(ctx, guildID, members[i:end])
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("batch %d: %v", batchIndex, err))
			s.logger.Warn("sync_batch_failed", "guild_id", guildID, "batch", batchIndex, "error", err)
			continue
		}

		result.SyncedMembers += br.Synced
		result.LinkedMembers += br.Linked
	}

	return result, guild.Name, nil
}

// processBatchSafe isolates one batch: a panic inside the engine becomes a
// recorded batch error instead of taking the whole sync down.
func (s *Service) processBatchSafe(ctx context.Context, guildID string, batch []discord.Member) (res BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch_panic: %v", r)
		}
	}()
	return s.engine.ProcessBatch(ctx, guildID, batch)
}

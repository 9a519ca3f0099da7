package sync

import (
	"context"
	"fmt"
	"log/slog"

	"openhr/internal/models"
)

// StatusData is the optional payload recorded alongside a status change.
type StatusData struct {
	GuildName     string
	TotalMembers  int
	SyncedMembers int
}

// Status is the read projection: persisted state plus the live mirror count.
type Status struct {
	models.GuildSyncState
	MemberCount int `json:"member_count"`
}

// StatusTracker owns the guild sync lifecycle rules:
//
//   - syncing:   recorded at sync start; last_synced_at untouched
//   - completed: stamps last_synced_at, stores final counts, clears last_error
//   - error:     stores last_error; last_synced_at keeps the last success so
//     staleness stays detectable across failures
type StatusTracker struct {
	store  Store
	logger *slog.Logger
}

func NewStatusTracker(logger *slog.Logger, store Store) *StatusTracker {
	return &StatusTracker{store: store, logger: logger}
}

func (t *StatusTracker) SetStatus(ctx context.Context, guildID, status string, data *StatusData, syncErr string) error {
	up := StateUpdate{
		GuildID: guildID,
		Status:  status,
	}

	if data != nil {
		if data.GuildName != "" {
			name := data.GuildName
			up.GuildName = &name
		}
		total, synced := data.TotalMembers, data.SyncedMembers
		up.TotalMembers = &total
		up.SyncedMembers = &synced
	}

	switch status {
	case models.SyncStatusCompleted:
		up.SetLastSyncedAt = true
		up.ClearLastError = true
	case models.SyncStatusError:
		if syncErr == "" {
			syncErr = "unknown error"
		}
		up.LastError = &syncErr
	}

	if err := t.store.ApplySyncState(ctx, up); err != nil {
		return fmt.Errorf("set_status_failed: %w", err)
	}

	t.logger.Info("guild_sync_status",
		"guild_id", guildID,
		"status", status,
		"error", syncErr,
	)
	return nil
}

// GetStatus returns the guild's sync state with its mirror row count, or nil
// when the guild has never been synced.
func (t *StatusTracker) GetStatus(ctx context.Context, guildID string) (*Status, error) {
	state, err := t.store.GetSyncState(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}

	count, err := t.store.CountMembers(ctx, guildID)
	if err != nil {
		return nil, err
	}

	return &Status{GuildSyncState: *state, MemberCount: count}, nil
}

package sync

import (
	"context"
	"log/slog"
	"time"

	"openhr/internal/discord"
)

// BatchResult counts the outcome of one batch. Linked counts upserts that
// carried a user id — given the resolver's guarantee that is every success,
// real account or placeholder.
type BatchResult struct {
	Synced int
	Linked int
}

// Engine persists one batch of external member records as mirror rows. A
// failing member is logged and skipped; it never aborts the batch.
type Engine struct {
	store    Store
	resolver *Resolver
	logger   *slog.Logger
}

func NewEngine(logger *slog.Logger, store Store, resolver *Resolver) *Engine {
	return &Engine{store: store, resolver: resolver, logger: logger}
}

// ProcessBatch upserts every non-bot member of the batch. The only error it
// returns is context cancellation; per-member failures only reduce the counts.
func (e *Engine) ProcessBatch(ctx context.Context, guildID string, members []discord.Member) (BatchResult, error) {
	var res BatchResult

	for _, m := range members {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		// automated accounts are not mirrored
		if m.User.Bot {
			continue
		}

		userID, err := e.resolver.Resolve(ctx, guildID, m)
		if err != nil {
			e.logger.Warn("member_resolve_failed",
				"guild_id", guildID,
				"discord_id", m.User.ID,
				"error", err,
			)
			continue
		}

		if err := e.store.UpsertMember(ctx, memberUpsert(guildID, m, userID)); err != nil {
			e.logger.Warn("member_upsert_failed",
				"guild_id", guildID,
				"discord_id", m.User.ID,
				"error", err,
			)
			continue
		}

		res.Synced++
		if userID != "" {
			res.Linked++
		}
	}

	return res, nil
}

func memberUpsert(guildID string, m discord.Member, userID string) MemberUpsert {
	up := MemberUpsert{
		DiscordID: m.User.ID,
		GuildID:   guildID,
		Username:  m.User.Username,
		UserID:    userID,
	}

	// the legacy "0" discriminator means the user migrated to unique names
	if m.User.Discriminator != "" && m.User.Discriminator != "0" {
		d := m.User.Discriminator
		up.Discriminator = &d
	}

	if name := displayName(m); name != "" {
		up.DisplayName = &name
	}
	if m.User.Avatar != "" {
		h := m.User.Avatar
		up.AvatarHash = &h
	}
	if m.JoinedAt != "" {
		if t, err := time.Parse(time.RFC3339, m.JoinedAt); err == nil {
			up.JoinedAt = &t
		}
	}

	return up
}

// displayName prefers the guild nickname over the global display name; both
// are what other members actually see.
func displayName(m discord.Member) string {
	if m.Nick != nil && *m.Nick != "" {
		return *m.Nick
	}
	return m.User.GlobalName
}

package sync

import (
	"context"
	"fmt"
	"log/slog"

	"openhr/internal/discord"
)

// placeholderFallbackName labels placeholder users when the external record
// carries no usable name at all.
const placeholderFallbackName = "Discord Member"

const placeholderAvatarSize = 256

// Resolver maps one external member to exactly one local user id. Resolution
// never comes back empty on success: when no identity is known, a placeholder
// user is provisioned so the mirror row is always linkable.
//
// Precedence, first match wins:
//  1. OAuth-linked account for the directory's provider
//  2. an earlier mirror row for the same (discord_id, guild_id) that already
//     carries a link (preserves manual and prior automatic linkage)
//  3. a freshly created placeholder user
type Resolver struct {
	store  Store
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger, store Store) *Resolver {
	return &Resolver{store: store, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, guildID string, m discord.Member) (string, error) {
	userID, err := r.store.FindUserIDByAccount(ctx, AccountProviderDiscord, m.User.ID)
	if err != nil {
		return "", fmt.Errorf("resolve_account_failed: %w", err)
	}
	if userID != "" {
		return userID, nil
	}

	userID, err = r.store.FindMemberUserID(ctx, m.User.ID, guildID)
	if err != nil {
		return "", fmt.Errorf("resolve_member_failed: %w", err)
	}
	if userID != "" {
		return userID, nil
	}

	name := placeholderName(m)
	avatarURL := discord.AvatarURL(m.User.ID, m.User.Avatar, placeholderAvatarSize)

	userID, err = r.store.CreatePlaceholderUser(ctx, name, avatarURL)
	if err != nil {
		return "", fmt.Errorf("resolve_placeholder_failed: %w", err)
	}

	r.logger.Debug("placeholder_user_created",
		"discord_id", m.User.ID,
		"guild_id", guildID,
		"user_id", userID,
		"name", name,
	)
	return userID, nil
}

// placeholderName picks the best available name: display name, then guild
// nickname, then username, then a generic label.
func placeholderName(m discord.Member) string {
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	if m.Nick != nil && *m.Nick != "" {
		return *m.Nick
	}
	if m.User.Username != "" {
		return m.User.Username
	}
	return placeholderFallbackName
}

package sync

import (
	"context"
	"errors"
	"time"

	"openhr/internal/models"
)

// AccountProviderDiscord is the OAuth provider name under which linked
// Discord accounts are stored.
const AccountProviderDiscord = "discord"

var ErrMemberNotFound = errors.New("member_not_found")

// MemberUpsert carries the mutable fields of one mirror row. The
// (DiscordID, GuildID) pair is the idempotency key.
type MemberUpsert struct {
	DiscordID     string
	GuildID       string
	Username      string
	Discriminator *string
	DisplayName   *string
	AvatarHash    *string
	JoinedAt      *time.Time
	UserID        string
}

// StateUpdate is one write against a guild's sync state, already translated
// from lifecycle rules into plain field effects by the StatusTracker.
type StateUpdate struct {
	GuildID         string
	Status          string
	GuildName       *string
	TotalMembers    *int
	SyncedMembers   *int
	LastError       *string
	SetLastSyncedAt bool
	ClearLastError  bool
}

// Store is the persistence surface the sync service needs. The production
// implementation is PGStore; tests substitute an in-memory fake.
type Store interface {
	// identity resolution
	FindUserIDByAccount(ctx context.Context, provider, providerAccountID string) (string, error)
	FindMemberUserID(ctx context.Context, discordID, guildID string) (string, error)
	CreatePlaceholderUser(ctx context.Context, name, avatarURL string) (string, error)

	// member mirrors
	UpsertMember(ctx context.Context, m MemberUpsert) error
	CountMembers(ctx context.Context, guildID string) (int, error)
	ListMembers(ctx context.Context, guildID, query string, skip, take int) ([]models.GuildMember, int, error)
	SetMemberLink(ctx context.Context, guildID, discordID string, userID *string) error

	// sync state
	ApplySyncState(ctx context.Context, up StateUpdate) error
	GetSyncState(ctx context.Context, guildID string) (*models.GuildSyncState, error)
	ListGuildIDs(ctx context.Context) ([]string, error)
}

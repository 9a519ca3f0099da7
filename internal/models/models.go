package models

import "time"

// Sync lifecycle for one guild. A guild re-enters "syncing" from either
// terminal state on every new sync attempt.
const (
	SyncStatusPending   = "pending"
	SyncStatusSyncing   = "syncing"
	SyncStatusCompleted = "completed"
	SyncStatusError     = "error"
)

// MemberStatusActive marks a mirror row touched by the most recent upsert.
// Rows for members who left the guild keep their last status; they are never
// deleted by the sync.
const MemberStatusActive = "active"

type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AvatarURL     *string   `json:"avatar_url,omitempty"`
	IsPlaceholder bool      `json:"is_placeholder"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Account struct {
	ID                int64     `json:"id"`
	UserID            string    `json:"user_id"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"provider_account_id"`
	CreatedAt         time.Time `json:"created_at"`
}

type GuildSyncState struct {
	GuildID       string     `json:"guild_id"`
	GuildName     *string    `json:"guild_name,omitempty"`
	Status        string     `json:"status"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	TotalMembers  *int       `json:"total_members,omitempty"`
	SyncedMembers *int       `json:"synced_members,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// GuildMember is the local mirror of one external member within one guild.
// (discord_id, guild_id) is unique; upserts are idempotent on that key.
type GuildMember struct {
	ID                int64      `json:"id"`
	DiscordID         string     `json:"discord_id"`
	GuildID           string     `json:"guild_id"`
	Username          string     `json:"username"`
	Discriminator     *string    `json:"discriminator,omitempty"`
	DisplayName       *string    `json:"display_name,omitempty"`
	AvatarHash        *string    `json:"avatar_hash,omitempty"`
	JoinedAt          *time.Time `json:"joined_at,omitempty"`
	UserID            *string    `json:"user_id,omitempty"`
	SyncedAt          time.Time  `json:"synced_at"`
	SyncStatus        string     `json:"sync_status"`
	ArchivedAvatarURL *string    `json:"archived_avatar_url,omitempty"`
}

// SyncResult summarizes one guild sync. Success reflects whether any batch
// reported an error; a sync can reach "completed" and still carry
// partial-batch errors.
type SyncResult struct {
	Success       bool     `json:"success"`
	TotalMembers  int      `json:"total_members"`
	SyncedMembers int      `json:"synced_members"`
	LinkedMembers int      `json:"linked_members"`
	Errors        []string `json:"errors"`
}

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"openhr/internal/db"
	"openhr/internal/models"
)

// PGStore is the pgx-backed Store.
type PGStore struct {
	db *db.DB
}

func NewPGStore(dbConn *db.DB) *PGStore {
	return &PGStore{db: dbConn}
}

func (s *PGStore) FindUserIDByAccount(ctx context.Context, provider, providerAccountID string) (string, error) {
	var userID string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT user_id FROM accounts WHERE provider = $1 AND provider_account_id = $2`,
		provider, providerAccountID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("account_lookup_failed: %w", err)
	}
	return userID, nil
}

func (s *PGStore) FindMemberUserID(ctx context.Context, discordID, guildID string) (string, error) {
	var userID *string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT user_id FROM guild_members WHERE discord_id = $1 AND guild_id = $2`,
		discordID, guildID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("member_lookup_failed: %w", err)
	}
	if userID == nil {
		return "", nil
	}
	return *userID, nil
}

func (s *PGStore) CreatePlaceholderUser(ctx context.Context, name, avatarURL string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO users (id, name, avatar_url, is_placeholder)
		 VALUES ($1, $2, NULLIF($3, ''), TRUE)`,
		id, name, avatarURL,
	)
	if err != nil {
		return "", fmt.Errorf("placeholder_create_failed: %w", err)
	}
	return id, nil
}

func (s *PGStore) UpsertMember(ctx context.Context, m MemberUpsert) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO guild_members
		   (discord_id, guild_id, username, discriminator, display_name, avatar_hash, joined_at, user_id, synced_at, sync_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9)
		 ON CONFLICT (discord_id, guild_id) DO UPDATE SET
		   username      = EXCLUDED.username,
		   discriminator = EXCLUDED.discriminator,
		   display_name  = EXCLUDED.display_name,
		   avatar_hash   = EXCLUDED.avatar_hash,
		   joined_at     = EXCLUDED.joined_at,
		   user_id       = EXCLUDED.user_id,
		   synced_at     = NOW(),
		   sync_status   = EXCLUDED.sync_status`,
		m.DiscordID, m.GuildID, m.Username, m.Discriminator, m.DisplayName,
		m.AvatarHash, m.JoinedAt, m.UserID, models.MemberStatusActive,
	)
	if err != nil {
		return fmt.Errorf("member_upsert_failed: %w", err)
	}
	return nil
}

func (s *PGStore) CountMembers(ctx context.Context, guildID string) (int, error) {
	var count int
	err := s.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM guild_members WHERE guild_id = $1`,
		guildID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("member_count_failed: %w", err)
	}
	return count, nil
}

func (s *PGStore) ListMembers(ctx context.Context, guildID, query string, skip, take int) ([]models.GuildMember, int, error) {
	if take < 1 || take > 200 {
		take = 50
	}
	if skip < 0 {
		skip = 0
	}

	pattern := "%" + query + "%"

	var total int
	err := s.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM guild_members
		 WHERE guild_id = $1
		   AND ($2 = '' OR username ILIKE $3 OR display_name ILIKE $3)`,
		guildID, query, pattern,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("member_count_failed: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, discord_id, guild_id, username, discriminator, display_name,
		        avatar_hash, joined_at, user_id, synced_at, sync_status, archived_avatar_url
		 FROM guild_members
		 WHERE guild_id = $1
		   AND ($2 = '' OR username ILIKE $3 OR display_name ILIKE $3)
		 ORDER BY username, discord_id
		 LIMIT $4 OFFSET $5`,
		guildID, query, pattern, take, skip,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("member_list_failed: %w", err)
	}
	defer rows.Close()

	var members []models.GuildMember
	for rows.Next() {
		var m models.GuildMember
		if err := rows.Scan(
			&m.ID, &m.DiscordID, &m.GuildID, &m.Username, &m.Discriminator,
			&m.DisplayName, &m.AvatarHash, &m.JoinedAt, &m.UserID,
			&m.SyncedAt, &m.SyncStatus, &m.ArchivedAvatarURL,
		); err != nil {
			return nil, 0, fmt.Errorf("member_scan_failed: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("member_list_failed: %w", err)
	}

	return members, total, nil
}

func (s *PGStore) SetMemberLink(ctx context.Context, guildID, discordID string, userID *string) error {
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE guild_members SET user_id = $3 WHERE guild_id = $1 AND discord_id = $2`,
		guildID, discordID, userID,
	)
	if err != nil {
		return fmt.Errorf("member_link_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (s *PGStore) ApplySyncState(ctx context.Context, up StateUpdate) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO guild_sync_states
		   (guild_id, status, guild_name, total_members, synced_members, last_error, last_synced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $7 THEN NOW() END)
		 ON CONFLICT (guild_id) DO UPDATE SET
		   status         = EXCLUDED.status,
		   guild_name     = COALESCE(EXCLUDED.guild_name, guild_sync_states.guild_name),
		   total_members  = COALESCE(EXCLUDED.total_members, guild_sync_states.total_members),
		   synced_members = COALESCE(EXCLUDED.synced_members, guild_sync_states.synced_members),
		   last_error     = CASE
		                      WHEN $8 THEN NULL
		                      ELSE COALESCE(EXCLUDED.last_error, guild_sync_states.last_error)
		                    END,
		   last_synced_at = CASE
		                      WHEN $7 THEN NOW()
		                      ELSE guild_sync_states.last_synced_at
		                    END,
		   updated_at     = NOW()`,
		up.GuildID, up.Status, up.GuildName, up.TotalMembers, up.SyncedMembers,
		up.LastError, up.SetLastSyncedAt, up.ClearLastError,
	)
	if err != nil {
		return fmt.Errorf("sync_state_upsert_failed: %w", err)
	}
	return nil
}

func (s *PGStore) GetSyncState(ctx context.Context, guildID string) (*models.GuildSyncState, error) {
	var st models.GuildSyncState
	err := s.db.Pool.QueryRow(ctx,
		`SELECT guild_id, guild_name, status, last_synced_at, total_members,
		        synced_members, last_error, created_at, updated_at
		 FROM guild_sync_states WHERE guild_id = $1`,
		guildID,
	).Scan(
		&st.GuildID, &st.GuildName, &st.Status, &st.LastSyncedAt,
		&st.TotalMembers, &st.SyncedMembers, &st.LastError,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sync_state_lookup_failed: %w", err)
	}
	return &st, nil
}

func (s *PGStore) ListGuildIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT guild_id FROM guild_sync_states ORDER BY guild_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("guild_list_failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("guild_scan_failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	stdsync "sync"
	"time"

	"openhr/internal/discord"
	"openhr/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUser struct {
	name        string
	avatarURL   string
	placeholder bool
}

// fakeStore is an in-memory Store mirroring the SQL semantics of PGStore.
type fakeStore struct {
	mu stdsync.Mutex

	accounts map[string]string // provider + ":" + providerAccountID -> user id
	users    map[string]fakeUser
	members  map[string]*models.GuildMember // discordID + "|" + guildID
	states   map[string]*models.GuildSyncState

	nextUser int

	// fault injection
	upsertErr   map[string]error // by discord id
	upsertPanic map[string]bool  // by discord id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:    make(map[string]string),
		users:       make(map[string]fakeUser),
		members:     make(map[string]*models.GuildMember),
		states:      make(map[string]*models.GuildSyncState),
		upsertErr:   make(map[string]error),
		upsertPanic: make(map[string]bool),
	}
}

func (f *fakeStore) addAccount(providerAccountID, userID string) {
	f.accounts[AccountProviderDiscord+":"+providerAccountID] = userID
	f.users[userID] = fakeUser{name: "real-" + userID}
}

func memberKey(discordID, guildID string) string { return discordID + "|" + guildID }

func (f *fakeStore) FindUserIDByAccount(_ context.Context, provider, providerAccountID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[provider+":"+providerAccountID], nil
}

func (f *fakeStore) FindMemberUserID(_ context.Context, discordID, guildID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberKey(discordID, guildID)]
	if !ok || m.UserID == nil {
		return "", nil
	}
	return *m.UserID, nil
}

func (f *fakeStore) CreatePlaceholderUser(_ context.Context, name, avatarURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUser++
	id := fmt.Sprintf("placeholder-%d", f.nextUser)
	f.users[id] = fakeUser{name: name, avatarURL: avatarURL, placeholder: true}
	return id, nil
}

func (f *fakeStore) UpsertMember(_ context.Context, up MemberUpsert) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.upsertPanic[up.DiscordID] {
		panic("injected upsert panic: " + up.DiscordID)
	}
	if err := f.upsertErr[up.DiscordID]; err != nil {
		return err
	}

	key := memberKey(up.DiscordID, up.GuildID)
	row, ok := f.members[key]
	if !ok {
		row = &models.GuildMember{
			ID:        int64(len(f.members) + 1),
			DiscordID: up.DiscordID,
			GuildID:   up.GuildID,
		}
		f.members[key] = row
	}
	row.Username = up.Username
	row.Discriminator = up.Discriminator
	row.DisplayName = up.DisplayName
	row.AvatarHash = up.AvatarHash
	row.JoinedAt = up.JoinedAt
	userID := up.UserID
	row.UserID = &userID
	row.SyncedAt = time.Now()
	row.SyncStatus = models.MemberStatusActive
	return nil
}

func (f *fakeStore) CountMembers(_ context.Context, guildID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.members {
		if m.GuildID == guildID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListMembers(_ context.Context, guildID, query string, skip, take int) ([]models.GuildMember, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := strings.ToLower(query)
	var matched []models.GuildMember
	for _, m := range f.members {
		if m.GuildID != guildID {
			continue
		}
		if q != "" {
			name := ""
			if m.DisplayName != nil {
				name = strings.ToLower(*m.DisplayName)
			}
			if !strings.Contains(strings.ToLower(m.Username), q) && !strings.Contains(name, q) {
				continue
			}
		}
		matched = append(matched, *m)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })

	total := len(matched)
	if skip > len(matched) {
		skip = len(matched)
	}
	matched = matched[skip:]
	if take > 0 && take < len(matched) {
		matched = matched[:take]
	}
	return matched, total, nil
}

func (f *fakeStore) SetMemberLink(_ context.Context, guildID, discordID string, userID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberKey(discordID, guildID)]
	if !ok {
		return ErrMemberNotFound
	}
	m.UserID = userID
	return nil
}

func (f *fakeStore) ApplySyncState(_ context.Context, up StateUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.states[up.GuildID]
	if !ok {
		st = &models.GuildSyncState{GuildID: up.GuildID, CreatedAt: time.Now()}
		f.states[up.GuildID] = st
	}

	st.Status = up.Status
	if up.GuildName != nil {
		st.GuildName = up.GuildName
	}
	if up.TotalMembers != nil {
		st.TotalMembers = up.TotalMembers
	}
	if up.SyncedMembers != nil {
		st.SyncedMembers = up.SyncedMembers
	}
	if up.ClearLastError {
		st.LastError = nil
	} else if up.LastError != nil {
		st.LastError = up.LastError
	}
	if up.SetLastSyncedAt {
		now := time.Now()
		st.LastSyncedAt = &now
	}
	st.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) GetSyncState(_ context.Context, guildID string) (*models.GuildSyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[guildID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) ListGuildIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// fakeDirectory is a canned DirectoryClient.
type fakeDirectory struct {
	guild      *discord.Guild
	guildErr   error
	members    []discord.Member
	membersErr error
	perms      *discord.PermissionCheck
	permsErr   error
}

func allowAllDirectory(guildName string, members []discord.Member) *fakeDirectory {
	return &fakeDirectory{
		guild:   &discord.Guild{ID: "g", Name: guildName},
		members: members,
		perms:   &discord.PermissionCheck{HasPermissions: true},
	}
}

func (f *fakeDirectory) GetGuild(context.Context, string) (*discord.Guild, error) {
	return f.guild, f.guildErr
}

func (f *fakeDirectory) GetAllGuildMembers(context.Context, string) ([]discord.Member, error) {
	return f.members, f.membersErr
}

func (f *fakeDirectory) ValidateBotPermissions(context.Context, string) (*discord.PermissionCheck, error) {
	return f.perms, f.permsErr
}

func humanMember(id, username string) discord.Member {
	return discord.Member{
		User:     discord.User{ID: id, Username: username},
		JoinedAt: "2024-03-01T12:00:00Z",
	}
}

func botMember(id string) discord.Member {
	return discord.Member{User: discord.User{ID: id, Username: "bot-" + id, Bot: true}}
}

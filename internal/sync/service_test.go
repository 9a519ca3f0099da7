package sync

import (
	"context"
	"errors"
	"strings"
	"testing"

	"openhr/internal/cache"
	"openhr/internal/discord"
	"openhr/internal/models"
)

func newTestService(store *fakeStore, dir DirectoryClient, batchSize int) *Service {
	resolver := NewResolver(testLogger(), store)
	engine := NewEngine(testLogger(), store, resolver)
	tracker := NewStatusTracker(testLogger(), store)
	return NewService(testLogger(), dir, engine, tracker, nil, batchSize)
}

// First sync of a guild: one bot, one human with an OAuth account for U7.
func TestSyncGuild_FirstSync(t *testing.T) {
	store := newFakeStore()
	store.addAccount("human-1", "U7")

	dir := allowAllDirectory("G1", []discord.Member{
		botMember("bot-1"),
		humanMember("human-1", "alice"),
	})

	svc := newTestService(store, dir, 100)
	res := svc.SyncGuild(context.Background(), "g1")

	if !res.Success {
		t.Errorf("expected success, got errors: %v", res.Errors)
	}
	if res.TotalMembers != 2 {
		t.Errorf("expected total_members=2, got %d", res.TotalMembers)
	}
	if res.SyncedMembers != 1 || res.LinkedMembers != 1 {
		t.Errorf("expected synced=1 linked=1, got %+v", res)
	}

	row, ok := store.members[memberKey("human-1", "g1")]
	if !ok {
		t.Fatal("expected mirror row for human-1")
	}
	if row.UserID == nil || *row.UserID != "U7" {
		t.Errorf("expected link to U7, got %v", row.UserID)
	}

	st := store.states["g1"]
	if st == nil || st.Status != models.SyncStatusCompleted {
		t.Fatalf("expected completed state, got %+v", st)
	}
	if st.GuildName == nil || *st.GuildName != "G1" {
		t.Errorf("expected guild name G1, got %v", st.GuildName)
	}
	if st.TotalMembers == nil || *st.TotalMembers != 2 {
		t.Errorf("expected total_members=2, got %v", st.TotalMembers)
	}
	if st.SyncedMembers == nil || *st.SyncedMembers != 1 {
		t.Errorf("expected synced_members=1, got %v", st.SyncedMembers)
	}
}

func TestSyncGuild_InsufficientPermissions(t *testing.T) {
	store := newFakeStore()
	dir := &fakeDirectory{
		perms: &discord.PermissionCheck{
			HasPermissions:     false,
			MissingPermissions: []string{"GUILD_MEMBERS_INTENT"},
		},
	}

	svc := newTestService(store, dir, 100)
	res := svc.SyncGuild(context.Background(), "g1")

	if res.Success {
		t.Error("expected failure")
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "insufficient_permissions") {
		t.Errorf("expected permission error, got %v", res.Errors)
	}

	st := store.states["g1"]
	if st == nil || st.Status != models.SyncStatusError {
		t.Fatalf("expected error state, got %+v", st)
	}
}

// Guild metadata fetch fails after permissions pass: status goes to error,
// last_synced_at stays where it was, last_error is recorded.
func TestSyncGuild_MetadataFailureKeepsLastSyncedAt(t *testing.T) {
	store := newFakeStore()

	// seed a successful sync so last_synced_at is non-nil
	okDir := allowAllDirectory("G1", []discord.Member{humanMember("1", "a")})
	svc := newTestService(store, okDir, 100)
	if res := svc.SyncGuild(context.Background(), "g1"); !res.Success {
		t.Fatalf("seed sync failed: %v", res.Errors)
	}
	prevSyncedAt := store.states["g1"].LastSyncedAt

	badDir := allowAllDirectory("G1", nil)
	badDir.guildErr = errors.New("guild fetch blew up")
	svc = newTestService(store, badDir, 100)

	res := svc.SyncGuild(context.Background(), "g1")
	if res.Success {
		t.Error("expected failure")
	}

	st := store.states["g1"]
	if st.Status != models.SyncStatusError {
		t.Errorf("expected error state, got %s", st.Status)
	}
	if st.LastError == nil || !strings.Contains(*st.LastError, "guild_fetch_failed") {
		t.Errorf("expected last_error recorded, got %v", st.LastError)
	}
	if st.LastSyncedAt == nil || !st.LastSyncedAt.Equal(*prevSyncedAt) {
		t.Error("expected last_synced_at unchanged across the failure")
	}
}

func TestSyncGuild_NeverSyncedFailureLeavesNilLastSyncedAt(t *testing.T) {
	store := newFakeStore()
	dir := allowAllDirectory("G1", nil)
	dir.membersErr = errors.New("member list unavailable")

	svc := newTestService(store, dir, 100)
	res := svc.SyncGuild(context.Background(), "g1")

	if res.Success {
		t.Error("expected failure")
	}
	st := store.states["g1"]
	if st.LastSyncedAt != nil {
		t.Error("expected nil last_synced_at for a guild that never completed")
	}
	if st.LastError == nil {
		t.Error("expected last_error recorded")
	}
}

// A batch-level panic is recorded with its batch index; the remaining batches
// still run and the sync reaches completed with Success=false.
func TestSyncGuild_BatchFailureDoesNotAbortSync(t *testing.T) {
	store := newFakeStore()
	store.upsertPanic["m2"] = true

	dir := allowAllDirectory("G1", []discord.Member{
		humanMember("m1", "aa"),
		humanMember("m2", "bb"),
		humanMember("m3", "cc"),
		humanMember("m4", "dd"),
	})

	// batch size 2: batch 0 = [m1,m2] panics, batch 1 = [m3,m4] succeeds
	svc := newTestService(store, dir, 2)
	res := svc.SyncGuild(context.Background(), "g1")

	if res.Success {
		t.Error("expected success=false when a batch errored")
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "batch 0:") {
		t.Errorf("expected one batch-0 error, got %v", res.Errors)
	}
	if res.SyncedMembers != 2 {
		t.Errorf("expected 2 members from the surviving batch, got %d", res.SyncedMembers)
	}

	// completion and success are independent signals
	if st := store.states["g1"]; st.Status != models.SyncStatusCompleted {
		t.Errorf("expected completed despite batch error, got %s", st.Status)
	}
}

func TestSyncGuild_RepeatSyncIsIdempotent(t *testing.T) {
	store := newFakeStore()
	dir := allowAllDirectory("G1", []discord.Member{
		humanMember("1", "alice"),
		humanMember("2", "bob"),
	})

	svc := newTestService(store, dir, 100)
	if res := svc.SyncGuild(context.Background(), "g1"); !res.Success {
		t.Fatalf("first sync failed: %v", res.Errors)
	}
	if res := svc.SyncGuild(context.Background(), "g1"); !res.Success {
		t.Fatalf("second sync failed: %v", res.Errors)
	}

	if len(store.members) != 2 {
		t.Errorf("expected 2 mirror rows after double sync, got %d", len(store.members))
	}
	if len(store.users) != 2 {
		t.Errorf("expected 2 placeholders after double sync, got %d", len(store.users))
	}
}

func TestSyncGuild_InvalidatesGuildCache(t *testing.T) {
	store := newFakeStore()
	dir := allowAllDirectory("G1", []discord.Member{humanMember("1", "a")})

	c := cache.New(0, 0)
	defer c.Stop()
	c.Set("guild:g1:status", "stale")
	c.Set("guild:other:status", "keep")

	resolver := NewResolver(testLogger(), store)
	engine := NewEngine(testLogger(), store, resolver)
	tracker := NewStatusTracker(testLogger(), store)
	svc := NewService(testLogger(), dir, engine, tracker, c, 100)

	if res := svc.SyncGuild(context.Background(), "g1"); !res.Success {
		t.Fatalf("sync failed: %v", res.Errors)
	}

	if _, ok := c.Get("guild:g1:status"); ok {
		t.Error("expected guild cache entries to be invalidated")
	}
	if _, ok := c.Get("guild:other:status"); !ok {
		t.Error("expected other guilds' cache entries to survive")
	}
}

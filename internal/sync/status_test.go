package sync

import (
	"context"
	"testing"

	"openhr/internal/models"
)

func TestStatusTracker_CompletedStampsAndClears(t *testing.T) {
	store := newFakeStore()
	tracker := NewStatusTracker(testLogger(), store)
	ctx := context.Background()

	// a previous failure left an error behind
	if err := tracker.SetStatus(ctx, "g1", models.SyncStatusError, nil, "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := &StatusData{GuildName: "Guild One", TotalMembers: 10, SyncedMembers: 9}
	if err := tracker.SetStatus(ctx, "g1", models.SyncStatusCompleted, data, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := store.states["g1"]
	if st.Status != models.SyncStatusCompleted {
		t.Errorf("expected completed, got %s", st.Status)
	}
	if st.LastSyncedAt == nil {
		t.Error("completed must stamp last_synced_at")
	}
	if st.LastError != nil {
		t.Error("completed must clear last_error")
	}
	if st.GuildName == nil || *st.GuildName != "Guild One" {
		t.Errorf("expected guild name stored, got %v", st.GuildName)
	}
	if st.TotalMembers == nil || *st.TotalMembers != 10 {
		t.Errorf("expected total_members 10, got %v", st.TotalMembers)
	}
	if st.SyncedMembers == nil || *st.SyncedMembers != 9 {
		t.Errorf("expected synced_members 9, got %v", st.SyncedMembers)
	}
}

func TestStatusTracker_ErrorPreservesLastSyncedAt(t *testing.T) {
	store := newFakeStore()
	tracker := NewStatusTracker(testLogger(), store)
	ctx := context.Background()

	if err := tracker.SetStatus(ctx, "g1", models.SyncStatusCompleted, &StatusData{GuildName: "G"}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	syncedAt := store.states["g1"].LastSyncedAt
	if syncedAt == nil {
		t.Fatal("expected last_synced_at after completion")
	}

	if err := tracker.SetStatus(ctx, "g1", models.SyncStatusError, nil, "api down"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := store.states["g1"]
	if st.Status != models.SyncStatusError {
		t.Errorf("expected error status, got %s", st.Status)
	}
	if st.LastError == nil || *st.LastError != "api down" {
		t.Errorf("expected last_error stored, got %v", st.LastError)
	}
	if st.LastSyncedAt == nil || !st.LastSyncedAt.Equal(*syncedAt) {
		t.Error("error must not move last_synced_at")
	}
}

func TestStatusTracker_SyncingDoesNotTouchTimestamps(t *testing.T) {
	store := newFakeStore()
	tracker := NewStatusTracker(testLogger(), store)
	ctx := context.Background()

	if err := tracker.SetStatus(ctx, "g1", models.SyncStatusSyncing, nil, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := store.states["g1"]
	if st.Status != models.SyncStatusSyncing {
		t.Errorf("expected syncing, got %s", st.Status)
	}
	if st.LastSyncedAt != nil {
		t.Error("syncing must not set last_synced_at")
	}
}

func TestStatusTracker_GetStatusIncludesMemberCount(t *testing.T) {
	store := newFakeStore()
	tracker := NewStatusTracker(testLogger(), store)
	ctx := context.Background()

	if st, err := tracker.GetStatus(ctx, "never-synced"); err != nil || st != nil {
		t.Errorf("expected nil status for unknown guild, got %v err %v", st, err)
	}

	_ = tracker.SetStatus(ctx, "g1", models.SyncStatusCompleted, nil, "")
	_ = store.UpsertMember(ctx, MemberUpsert{DiscordID: "1", GuildID: "g1", Username: "a", UserID: "u1"})
	_ = store.UpsertMember(ctx, MemberUpsert{DiscordID: "2", GuildID: "g1", Username: "b", UserID: "u2"})
	_ = store.UpsertMember(ctx, MemberUpsert{DiscordID: "3", GuildID: "other", Username: "c", UserID: "u3"})

	st, err := tracker.GetStatus(ctx, "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.MemberCount != 2 {
		t.Errorf("expected member_count=2, got %d", st.MemberCount)
	}
}

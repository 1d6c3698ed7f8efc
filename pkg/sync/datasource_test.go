package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"lingosync/internal/localstate"
	"lingosync/pkg/domain"
	"lingosync/pkg/remote"
)

func newTestDataSource(store *remote.MemoryStore, local localstate.Store) *DataSource {
	return New(Config{
		Store:   store,
		Local:   local,
		Backoff: 10 * time.Millisecond,
	})
}

func seedFriend(t *testing.T, store *remote.MemoryStore, uid string, rel domain.FriendRelation) {
	t.Helper()
	err := store.Write(context.Background(), domain.FriendDoc(uid, rel.FriendID),
		domain.EncodeFriendRelation(rel), remote.ModeSet)
	if err != nil {
		t.Fatalf("seed friend: %v", err)
	}
}

func seedSharedItem(t *testing.T, store *remote.MemoryStore, item domain.SharedItem) {
	t.Helper()
	err := store.Write(context.Background(), domain.SharedItemDoc(item.ToUserID, item.ID),
		domain.EncodeSharedItem(item), remote.ModeSet)
	if err != nil {
		t.Fatalf("seed shared item: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDataSourceStartObservingIsIdempotent(t *testing.T) {
	store := remote.NewMemoryStore()
	d := newTestDataSource(store, localstate.NewMemoryStore())
	ctx := context.Background()

	if err := d.StartObserving(ctx, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.StopObserving()
	waitFor(t, func() bool { return store.SubscribeCalls() == 4 }, "collections not opened")

	if err := d.StartObserving(ctx, "u1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := store.SubscribeCalls(); got != 4 {
		t.Fatalf("same-user start opened new subscriptions: %d", got)
	}
}

func TestDataSourceUserSwitchTearsDownPreviousSession(t *testing.T) {
	store := remote.NewMemoryStore()
	d := newTestDataSource(store, localstate.NewMemoryStore())
	ctx := context.Background()

	seedFriend(t, store, "u1", domain.FriendRelation{FriendID: "f1", AddedAt: time.Now().UTC()})
	seedFriend(t, store, "u2", domain.FriendRelation{FriendID: "f2", AddedAt: time.Now().UTC()})

	if err := d.StartObserving(ctx, "u1"); err != nil {
		t.Fatalf("start u1: %v", err)
	}
	defer d.StopObserving()
	waitFor(t, func() bool { return len(d.Friends()) == 1 }, "u1 friends not loaded")

	if err := d.StartObserving(ctx, "u2"); err != nil {
		t.Fatalf("start u2: %v", err)
	}
	if d.ActiveUser() != "u2" {
		t.Fatalf("expected active user u2, got %q", d.ActiveUser())
	}
	waitFor(t, func() bool {
		friends := d.Friends()
		return len(friends) == 1 && friends[0].FriendID == "f2"
	}, "u2 friends not loaded")
}

func TestDataSourceConcurrentUserSwitchLeavesNoStraySubscriptions(t *testing.T) {
	store := remote.NewMemoryStore()
	d := newTestDataSource(store, localstate.NewMemoryStore())
	ctx := context.Background()

	if err := d.StartObserving(ctx, "u1"); err != nil {
		t.Fatalf("start u1: %v", err)
	}
	waitFor(t, func() bool { return store.SubscribeCalls() == 4 }, "u1 collections not opened")

	// Two user switches race each other; whichever wins, a later stop must
	// reach every collection that was ever started.
	var wg gosync.WaitGroup
	for _, uid := range []string{"u2", "u3"} {
		uid := uid
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.StartObserving(ctx, uid); err != nil {
				t.Errorf("start %s: %v", uid, err)
			}
		}()
	}
	wg.Wait()
	d.StopObserving()

	if d.ActiveUser() != "" {
		t.Fatalf("expected no active user, got %q", d.ActiveUser())
	}
	before := store.SubscribeCalls()
	store.FailSubscriptions(remote.ErrSubscriptionLost)
	time.Sleep(100 * time.Millisecond)
	if got := store.SubscribeCalls(); got != before {
		t.Fatalf("subscriptions reopened after full stop: %d -> %d", before, got)
	}
}

func TestDataSourceStopClearsEverything(t *testing.T) {
	store := remote.NewMemoryStore()
	local := localstate.NewMemoryStore()
	d := newTestDataSource(store, local)
	ctx := context.Background()

	seedFriend(t, store, "u1", domain.FriendRelation{FriendID: "f1", AddedAt: time.Now().UTC()})
	if err := d.StartObserving(ctx, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return len(d.Friends()) == 1 }, "friends not loaded")
	d.ApplyUsernameUpdates(map[string]string{"f1": "New Name"})

	d.StopObserving()

	if d.ActiveUser() != "" {
		t.Fatalf("expected no active user, got %q", d.ActiveUser())
	}
	if d.Friends() != nil || d.PendingRequests() != nil || d.Chats() != nil {
		t.Fatal("caches must be empty after stop")
	}
	if d.HasUnseenSharedItems() {
		t.Fatal("badge state must reset on stop")
	}
	if _, ok, _ := local.LoadUsernames("u1"); ok {
		t.Fatal("persisted username cache must be deleted at logout")
	}
	if _, ok, _ := local.LoadSeen("u1"); ok {
		t.Fatal("persisted seen set must be deleted at logout")
	}
}

func TestDataSourceInboxBadgeLifecycle(t *testing.T) {
	store := remote.NewMemoryStore()
	d := newTestDataSource(store, localstate.NewMemoryStore())
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		seedSharedItem(t, store, domain.SharedItem{
			ID: id, ToUserID: "u1", FromUserID: "f1",
			Type: domain.ItemWord, Status: domain.ItemPending,
			CreatedAt: time.Now().UTC(),
		})
	}

	if err := d.StartObserving(ctx, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.StopObserving()
	waitFor(t, func() bool { return len(d.PendingSharedItems()) == 3 }, "inbox not loaded")
	if d.HasUnseenSharedItems() {
		t.Fatal("items pending at login must not raise the badge")
	}

	seedSharedItem(t, store, domain.SharedItem{
		ID: "s4", ToUserID: "u1", FromUserID: "f1",
		Type: domain.ItemQuiz, Status: domain.ItemPending,
		CreatedAt: time.Now().UTC(),
	})
	waitFor(t, d.HasUnseenSharedItems, "new item did not raise the badge")

	d.MarkInboxSeen()
	if d.HasUnseenSharedItems() {
		t.Fatal("badge must clear after MarkInboxSeen")
	}
}

func TestDataSourceUsernameWriteThroughAndReconcile(t *testing.T) {
	store := remote.NewMemoryStore()
	d := newTestDataSource(store, localstate.NewMemoryStore())
	ctx := context.Background()

	seedFriend(t, store, "u1", domain.FriendRelation{
		FriendID: "f1", FriendDisplayName: "Old Name", AddedAt: time.Now().UTC(),
	})
	if err := d.StartObserving(ctx, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.StopObserving()
	waitFor(t, func() bool { return len(d.Friends()) == 1 }, "friends not loaded")

	d.ApplyUsernameUpdates(map[string]string{"f1": "New Name"})
	friends := d.Friends()
	if friends[0].FriendDisplayName != "New Name" {
		t.Fatalf("override not applied: %+v", friends[0])
	}

	// The server catches up; the override is dropped and the live value wins.
	err := store.Write(ctx, domain.FriendDoc("u1", "f1"),
		map[string]any{"friendDisplayName": "New Name"}, remote.ModeMerge)
	if err != nil {
		t.Fatalf("server rename: %v", err)
	}
	waitFor(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.overrides) == 0
	}, "override not reconciled away")
	if got := d.Friends()[0].FriendDisplayName; got != "New Name" {
		t.Fatalf("expected live display name, got %q", got)
	}
}

func TestDataSourceChatBadges(t *testing.T) {
	store := remote.NewMemoryStore()
	d := newTestDataSource(store, localstate.NewMemoryStore())
	ctx := context.Background()

	err := store.Write(ctx, domain.UserChatDoc("u1", "f1_u1"), map[string]any{
		"peerId": "f1", "lastMessageContent": "hola",
		"lastMessageAt": remote.EncodeTime(time.Now().UTC()),
		"unread":        2,
	}, remote.ModeSet)
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}

	if err := d.StartObserving(ctx, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.StopObserving()
	waitFor(t, func() bool { return d.TotalUnreadCount() == 2 }, "unread count not loaded")
	if !d.HasUnreadMessages() {
		t.Fatal("expected unread messages flag")
	}
	if got := d.FriendBadgeCount(); got != 1 {
		t.Fatalf("expected badge count 1 (unread flag only), got %d", got)
	}
}

func TestDataSourceDisplayNameSharedLookup(t *testing.T) {
	store := remote.NewMemoryStore()
	d := newTestDataSource(store, localstate.NewMemoryStore())
	ctx := context.Background()

	err := store.Write(ctx, domain.UserDoc("f1"), map[string]any{
		"username": "friend1", "displayName": "Friend One",
	}, remote.ModeSet)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := d.StartObserving(ctx, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.StopObserving()

	name, err := d.DisplayName(ctx, "f1")
	if err != nil {
		t.Fatalf("display name: %v", err)
	}
	if name != "Friend One" {
		t.Fatalf("expected Friend One, got %q", name)
	}

	// Second call is served from the cache even if the doc changes.
	if err := store.Write(ctx, domain.UserDoc("f1"), map[string]any{"displayName": "Renamed"}, remote.ModeMerge); err != nil {
		t.Fatalf("rename: %v", err)
	}
	name, err = d.DisplayName(ctx, "f1")
	if err != nil {
		t.Fatalf("display name: %v", err)
	}
	if name != "Friend One" {
		t.Fatalf("expected cached name, got %q", name)
	}
}

func TestDataSourceDisplayNameResolvesLateProfile(t *testing.T) {
	store := remote.NewMemoryStore()
	d := newTestDataSource(store, localstate.NewMemoryStore())
	ctx := context.Background()

	if err := d.StartObserving(ctx, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.StopObserving()

	// The profile does not exist yet; the empty result must not stick.
	name, err := d.DisplayName(ctx, "f1")
	if err != nil {
		t.Fatalf("display name: %v", err)
	}
	if name != "" {
		t.Fatalf("expected empty name for missing profile, got %q", name)
	}

	err = store.Write(ctx, domain.UserDoc("f1"), map[string]any{"displayName": "Late Arrival"}, remote.ModeSet)
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	name, err = d.DisplayName(ctx, "f1")
	if err != nil {
		t.Fatalf("display name after create: %v", err)
	}
	if name != "Late Arrival" {
		t.Fatalf("expected the late-created profile to resolve, got %q", name)
	}
}

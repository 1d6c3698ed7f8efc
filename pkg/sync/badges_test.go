package sync

import (
	"log/slog"
	"testing"

	"lingosync/internal/localstate"
	"lingosync/pkg/domain"
)

func pendingItems(ids ...string) []domain.SharedItem {
	items := make([]domain.SharedItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, domain.SharedItem{ID: id, Status: domain.ItemPending})
	}
	return items
}

func TestBadgesFirstSnapshotIsAutoSeen(t *testing.T) {
	b := newBadges("u1", localstate.NewMemoryStore(), slog.Default())

	b.applyInbox(pendingItems("a", "b", "c"))
	if b.HasUnseen() {
		t.Fatal("items present at login must not raise the badge")
	}
}

func TestBadgesNewArrivalRaisesBadgeUntilMarkSeen(t *testing.T) {
	b := newBadges("u1", localstate.NewMemoryStore(), slog.Default())
	b.applyInbox(pendingItems("a", "b", "c"))

	b.applyInbox(pendingItems("a", "b", "c", "d"))
	if !b.HasUnseen() {
		t.Fatal("arrival after login must raise the badge")
	}

	b.MarkSeen()
	if b.HasUnseen() {
		t.Fatal("badge must clear after MarkSeen")
	}

	b.applyInbox(pendingItems("a", "b", "c", "d", "e"))
	if !b.HasUnseen() {
		t.Fatal("later arrival must raise the badge again")
	}
}

func TestBadgesPrunesSettledItems(t *testing.T) {
	b := newBadges("u1", localstate.NewMemoryStore(), slog.Default())
	b.applyInbox(pendingItems("a", "b"))
	b.MarkSeen()

	// "a" was accepted elsewhere and left the pending list.
	b.applyInbox(pendingItems("b"))
	b.mu.Lock()
	_, stillTracked := b.seen["a"]
	b.mu.Unlock()
	if stillTracked {
		t.Fatal("seen set must drop ids that left the pending list")
	}
	if b.HasUnseen() {
		t.Fatal("pruning must not raise the badge")
	}
}

func TestBadgesSeenSetSurvivesRestart(t *testing.T) {
	local := localstate.NewMemoryStore()

	b := newBadges("u1", local, slog.Default())
	b.applyInbox(pendingItems("a"))
	b.applyInbox(pendingItems("a", "b"))
	if !b.HasUnseen() {
		t.Fatal("expected unseen item before restart")
	}

	// Same user, new process: the persisted seen set keeps "b" unseen
	// instead of auto-marking everything on the first snapshot.
	b2 := newBadges("u1", local, slog.Default())
	b2.applyInbox(pendingItems("a", "b"))
	if !b2.HasUnseen() {
		t.Fatal("restart must not swallow an unseen item")
	}

	b2.MarkSeen()
	b3 := newBadges("u1", local, slog.Default())
	b3.applyInbox(pendingItems("a", "b"))
	if b3.HasUnseen() {
		t.Fatal("restart must not resurrect acknowledged items")
	}
}

func TestBadgesResetDeletesPersistedState(t *testing.T) {
	local := localstate.NewMemoryStore()

	b := newBadges("u1", local, slog.Default())
	b.applyInbox(pendingItems("a"))
	b.reset()

	if _, ok, _ := local.LoadSeen("u1"); ok {
		t.Fatal("logout must delete the persisted seen set")
	}
	// The next session primes fresh.
	b2 := newBadges("u1", local, slog.Default())
	b2.applyInbox(pendingItems("a", "b"))
	if b2.HasUnseen() {
		t.Fatal("fresh session must auto-see the initial list")
	}
}

package sync

import (
	"log/slog"
	"sort"
	gosync "sync"

	"lingosync/internal/localstate"
	"lingosync/pkg/domain"
)

// Badges derives the "do I have something new to look at?" signals from the
// pending shared inbox plus a seen set it owns exclusively. The seen set is
// mirrored to device-local storage so a process restart (without logout)
// neither resurrects acknowledged badges nor loses genuinely unseen items.
type Badges struct {
	uid   string
	local localstate.Store
	log   *slog.Logger

	mu      gosync.Mutex
	seen    map[string]struct{}
	pending []domain.SharedItem
	primed  bool
}

func newBadges(uid string, local localstate.Store, log *slog.Logger) *Badges {
	b := &Badges{
		uid:   uid,
		local: local,
		log:   log,
		seen:  make(map[string]struct{}),
	}
	ids, ok, err := local.LoadSeen(uid)
	if err != nil {
		log.Warn("seen set load failed", "uid", uid, "err", err)
	}
	if ok {
		for _, id := range ids {
			b.seen[id] = struct{}{}
		}
		// A persisted set means a restart mid-session: keep its unseen
		// distinctions instead of blanket-priming on the first snapshot.
		b.primed = true
	}
	return b
}

// applyInbox ingests the latest full pending list. On the very first snapshot
// of a fresh session every pre-existing item is auto-marked seen, so the
// badge only reacts to items arriving after the initial load. Ids of items
// that left Pending are pruned so the set stays bounded.
func (b *Badges) applyInbox(items []domain.SharedItem) {
	b.mu.Lock()
	b.pending = items
	if !b.primed {
		b.primed = true
		b.seen = make(map[string]struct{}, len(items))
		for _, item := range items {
			b.seen[item.ID] = struct{}{}
		}
	} else {
		live := make(map[string]struct{}, len(items))
		for _, item := range items {
			live[item.ID] = struct{}{}
		}
		for id := range b.seen {
			if _, ok := live[id]; !ok {
				delete(b.seen, id)
			}
		}
	}
	b.persistLocked()
	b.mu.Unlock()
}

// HasUnseen reports whether any pending item has not been shown yet.
func (b *Badges) HasUnseen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range b.pending {
		if _, ok := b.seen[item.ID]; !ok {
			return true
		}
	}
	return false
}

// MarkSeen snapshots all currently pending item ids into the seen set. Items
// arriving afterward count as unseen until the next MarkSeen.
func (b *Badges) MarkSeen() {
	b.mu.Lock()
	b.seen = make(map[string]struct{}, len(b.pending))
	for _, item := range b.pending {
		b.seen[item.ID] = struct{}{}
	}
	b.persistLocked()
	b.mu.Unlock()
}

func (b *Badges) persistLocked() {
	ids := make([]string, 0, len(b.seen))
	for id := range b.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if err := b.local.SaveSeen(b.uid, ids); err != nil {
		b.log.Warn("seen set save failed", "uid", b.uid, "err", err)
	}
}

// reset drops all state, including the persisted copy. Called at logout,
// which is a privacy boundary.
func (b *Badges) reset() {
	b.mu.Lock()
	b.seen = make(map[string]struct{})
	b.pending = nil
	b.primed = false
	b.mu.Unlock()
	if err := b.local.DeleteSeen(b.uid); err != nil {
		b.log.Warn("seen set delete failed", "uid", b.uid, "err", err)
	}
}

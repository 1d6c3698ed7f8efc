// Package sync implements the shared live-data layer: one DataSource per
// session composes the live collections every screen reads from, so the
// process holds at most one subscription per (user, collection) no matter
// how many consumers need the data.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"lingosync/internal/localstate"
	"lingosync/pkg/domain"
	"lingosync/pkg/live"
	"lingosync/pkg/remote"
)

// DefaultCollectionLimit bounds every observed collection; full-list delivery
// stays cheap because lists never exceed it.
const DefaultCollectionLimit = 100

// Config configures a DataSource.
type Config struct {
	Store remote.Store
	// Local persists the seen set and username cache across restarts; an
	// in-memory store is used when nil.
	Local           localstate.Store
	Logger          *slog.Logger
	Backoff         time.Duration
	CollectionLimit int
}

// DataSource is the session-scoped registry of live collections for one
// active user: friends, incoming friend requests, the pending shared inbox,
// and the denormalized chat list. It is constructed on login and torn down on
// logout; it is never a process-wide global.
//
// Collections update independently; there is no cross-collection consistency
// at a single instant and consumers must not assume any.
type DataSource struct {
	store   remote.Store
	local   localstate.Store
	log     *slog.Logger
	backoff time.Duration
	limit   int

	lookup singleflight.Group

	// life serializes StartObserving/StopObserving end to end, so a
	// teardown and a rebuild can never interleave. mu stays a short-hold
	// state lock that forwarder goroutines and accessors may take.
	life gosync.Mutex

	mu        gosync.Mutex
	uid       string
	friends   *live.Collection[domain.FriendRelation]
	requests  *live.Collection[domain.FriendRequest]
	inbox     *live.Collection[domain.SharedItem]
	chats     *live.Collection[domain.ChatSummary]
	badges    *Badges
	overrides map[string]string
	nameCache map[string]string
	stopFns   []func()
}

// New constructs an idle DataSource.
func New(cfg Config) *DataSource {
	local := cfg.Local
	if local == nil {
		local = localstate.NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.CollectionLimit
	if limit <= 0 {
		limit = DefaultCollectionLimit
	}
	return &DataSource{
		store:   cfg.Store,
		local:   local,
		log:     logger,
		backoff: cfg.Backoff,
		limit:   limit,
	}
}

// StartObserving opens the live collections for uid. Calling it again for the
// same user is a no-op; calling it for a different user tears the previous
// session down first, so two users' listeners never overlap.
func (d *DataSource) StartObserving(ctx context.Context, uid string) error {
	if uid == "" {
		return fmt.Errorf("user id required")
	}
	d.life.Lock()
	defer d.life.Unlock()
	d.mu.Lock()
	if d.uid == uid {
		d.mu.Unlock()
		return nil
	}
	active := d.uid != ""
	d.mu.Unlock()
	if active {
		d.teardown()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.uid = uid
	d.badges = newBadges(uid, d.local, d.log)
	d.overrides = make(map[string]string)
	d.nameCache = make(map[string]string)
	if names, ok, err := d.local.LoadUsernames(uid); err != nil {
		d.log.Warn("username cache load failed", "uid", uid, "err", err)
	} else if ok {
		d.overrides = names
	}

	d.friends = live.New(live.Config[domain.FriendRelation]{
		Name:  "friends",
		Store: d.store,
		Query: remote.Query{
			Collection: domain.FriendsCollection(uid),
			OrderBy:    "addedAt",
			Descending: true,
			Limit:      d.limit,
		},
		Decode:  domain.DecodeFriendRelation,
		Backoff: d.backoff,
		Logger:  d.log,
	})
	d.requests = live.New(live.Config[domain.FriendRequest]{
		Name:  "friend_requests",
		Store: d.store,
		Query: remote.Query{
			Collection: domain.FriendRequestsCollection,
			Filters: []remote.Filter{
				remote.Where("toUserId", remote.OpEqual, uid),
				remote.Where("status", remote.OpEqual, string(domain.RequestPending)),
			},
			OrderBy:    "createdAt",
			Descending: true,
			Limit:      d.limit,
		},
		Decode:  domain.DecodeFriendRequest,
		Backoff: d.backoff,
		Logger:  d.log,
	})
	d.inbox = live.New(live.Config[domain.SharedItem]{
		Name:  "shared_inbox",
		Store: d.store,
		Query: remote.Query{
			Collection: domain.SharedInboxCollection(uid),
			Filters: []remote.Filter{
				remote.Where("status", remote.OpEqual, string(domain.ItemPending)),
			},
			OrderBy:    "createdAt",
			Descending: true,
			Limit:      d.limit,
		},
		Decode:  domain.DecodeSharedItem,
		Backoff: d.backoff,
		Logger:  d.log,
	})
	d.chats = live.New(live.Config[domain.ChatSummary]{
		Name:  "chats",
		Store: d.store,
		Query: remote.Query{
			Collection: domain.UserChatsCollection(uid),
			OrderBy:    "lastMessageAt",
			Descending: true,
			Limit:      d.limit,
		},
		Decode:  domain.DecodeChatSummary,
		Backoff: d.backoff,
		Logger:  d.log,
	})

	d.friends.Start(ctx)
	d.requests.Start(ctx)
	d.inbox.Start(ctx)
	d.chats.Start(ctx)
	d.stopFns = []func(){d.friends.Stop, d.requests.Stop, d.inbox.Stop, d.chats.Stop}

	d.stopFns = append(d.stopFns, d.forwardInbox(d.inbox, d.badges))
	d.stopFns = append(d.stopFns, d.reconcileNames(d.friends))
	return nil
}

// forwardInbox pumps inbox snapshots into the badge aggregator. The badge
// state has a single writer: this goroutine.
func (d *DataSource) forwardInbox(inbox *live.Collection[domain.SharedItem], badges *Badges) func() {
	ch, cancelListen := inbox.Listen()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case items := <-ch:
				badges.applyInbox(items)
			}
		}
	}()
	return func() {
		cancelListen()
		close(stop)
		<-done
	}
}

// reconcileNames drops username overrides once a friends snapshot confirms
// the rename, so the write-through cache converges to server state instead of
// shadowing it forever.
func (d *DataSource) reconcileNames(friends *live.Collection[domain.FriendRelation]) func() {
	ch, cancelListen := friends.Listen()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case relations := <-ch:
				d.mu.Lock()
				for _, rel := range relations {
					if ov, ok := d.overrides[rel.FriendID]; ok && ov == rel.FriendDisplayName {
						delete(d.overrides, rel.FriendID)
					}
				}
				d.mu.Unlock()
			}
		}
	}()
	return func() {
		cancelListen()
		close(stop)
		<-done
	}
}

// StopObserving cancels every child collection and clears all derived caches.
// It blocks until no background task remains, so a stale subscription can
// never leak the previous user's data into the next session.
func (d *DataSource) StopObserving() {
	d.life.Lock()
	defer d.life.Unlock()
	d.teardown()
}

// teardown runs under life but takes mu only in short holds: the stop
// functions wait for forwarder goroutines that themselves acquire mu.
func (d *DataSource) teardown() {
	d.mu.Lock()
	stops := d.stopFns
	badges := d.badges
	uid := d.uid
	d.stopFns = nil
	d.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	if badges != nil {
		badges.reset()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if uid != "" {
		if err := d.local.DeleteUsernames(uid); err != nil {
			d.log.Warn("username cache delete failed", "uid", uid, "err", err)
		}
	}
	d.uid = ""
	d.friends = nil
	d.requests = nil
	d.inbox = nil
	d.chats = nil
	d.badges = nil
	d.overrides = nil
	d.nameCache = nil
}

// ActiveUser returns the uid currently observed, or "".
func (d *DataSource) ActiveUser() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uid
}

// Friends returns the latest friend list with any pending display-name
// overrides applied.
func (d *DataSource) Friends() []domain.FriendRelation {
	d.mu.Lock()
	friends := d.friends
	overrides := make(map[string]string, len(d.overrides))
	for k, v := range d.overrides {
		overrides[k] = v
	}
	d.mu.Unlock()
	if friends == nil {
		return nil
	}
	out := friends.Snapshot()
	for i := range out {
		if name, ok := overrides[out[i].FriendID]; ok {
			out[i].FriendDisplayName = name
		}
	}
	return out
}

// PendingRequests returns the latest incoming pending friend requests.
func (d *DataSource) PendingRequests() []domain.FriendRequest {
	d.mu.Lock()
	requests := d.requests
	d.mu.Unlock()
	if requests == nil {
		return nil
	}
	return requests.Snapshot()
}

// PendingSharedItems returns the latest pending inbox items.
func (d *DataSource) PendingSharedItems() []domain.SharedItem {
	d.mu.Lock()
	inbox := d.inbox
	d.mu.Unlock()
	if inbox == nil {
		return nil
	}
	return inbox.Snapshot()
}

// Chats returns the latest chat list, most recent first.
func (d *DataSource) Chats() []domain.ChatSummary {
	d.mu.Lock()
	chats := d.chats
	d.mu.Unlock()
	if chats == nil {
		return nil
	}
	return chats.Snapshot()
}

// TotalUnreadCount sums unread counters across the chat list.
func (d *DataSource) TotalUnreadCount() int {
	total := 0
	for _, c := range d.Chats() {
		total += c.Unread
	}
	return total
}

// HasUnreadMessages reports whether any chat carries unread messages.
func (d *DataSource) HasUnreadMessages() bool { return d.TotalUnreadCount() > 0 }

// HasUnseenSharedItems reports the inbox badge signal.
func (d *DataSource) HasUnseenSharedItems() bool {
	d.mu.Lock()
	badges := d.badges
	d.mu.Unlock()
	if badges == nil {
		return false
	}
	return badges.HasUnseen()
}

// MarkInboxSeen acknowledges everything currently pending in the inbox.
func (d *DataSource) MarkInboxSeen() {
	d.mu.Lock()
	badges := d.badges
	d.mu.Unlock()
	if badges != nil {
		badges.MarkSeen()
	}
}

// FriendBadgeCount is the single friend-tab badge: the pending request count
// plus one for unread messages and one for unseen shared items. Deliberately
// a coarse union, because the UI affordance is a single tab badge.
func (d *DataSource) FriendBadgeCount() int {
	count := len(d.PendingRequests())
	if d.HasUnreadMessages() {
		count++
	}
	if d.HasUnseenSharedItems() {
		count++
	}
	return count
}

// ApplyUsernameUpdates records renamed friends in the write-through cache so
// the UI reflects a rename immediately; the overrides are dropped once a real
// snapshot confirms them.
func (d *DataSource) ApplyUsernameUpdates(names map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.uid == "" {
		return
	}
	for id, name := range names {
		d.overrides[id] = name
	}
	persist := make(map[string]string, len(d.overrides))
	for k, v := range d.overrides {
		persist[k] = v
	}
	if err := d.local.SaveUsernames(d.uid, persist); err != nil {
		d.log.Warn("username cache save failed", "uid", d.uid, "err", err)
	}
}

// DisplayName resolves a user's display name through a deduplicated lookup
// cache; concurrent callers for the same uid share one store read.
func (d *DataSource) DisplayName(ctx context.Context, uid string) (string, error) {
	d.mu.Lock()
	if name, ok := d.nameCache[uid]; ok {
		d.mu.Unlock()
		return name, nil
	}
	d.mu.Unlock()

	v, err, _ := d.lookup.Do(uid, func() (any, error) {
		doc, ok, err := d.store.GetOnce(ctx, domain.UserDoc(uid))
		if err != nil {
			return nameLookup{}, fmt.Errorf("load user %s: %w", uid, err)
		}
		if !ok {
			return nameLookup{}, nil
		}
		name := remote.String(doc.Fields, "displayName")
		if name == "" {
			name = remote.String(doc.Fields, "username")
		}
		return nameLookup{name: name, found: true}, nil
	})
	if err != nil {
		return "", err
	}
	res := v.(nameLookup)
	// A missing profile is not cached: the doc may simply not exist yet,
	// and the next lookup should see it once created.
	if res.found {
		d.mu.Lock()
		if d.nameCache != nil {
			d.nameCache[uid] = res.name
		}
		d.mu.Unlock()
	}
	return res.name, nil
}

type nameLookup struct {
	name  string
	found bool
}

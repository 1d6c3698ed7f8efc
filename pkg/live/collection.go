// Package live provides Collection, the shared real-time cache primitive:
// one store subscription per query, fanned out to any number of listeners as
// full decoded lists, with transparent restart on delivery errors.
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lingosync/pkg/remote"
)

// DefaultBackoff is the fixed wait before reopening a failed subscription.
const DefaultBackoff = 5 * time.Second

// DecodeFunc turns one store document into a T.
type DecodeFunc[T any] func(remote.Document) (T, error)

// Config configures a Collection.
type Config[T any] struct {
	// Name labels log lines for this collection.
	Name   string
	Store  remote.Store
	Query  remote.Query
	Decode DecodeFunc[T]
	// Backoff between resubscribe attempts; DefaultBackoff if zero.
	Backoff time.Duration
	Logger  *slog.Logger
}

// Collection owns exactly one live subscription and republishes the latest
// decoded list to listeners. Delivery is always the full current list, never
// a diff, and snapshots are applied in delivery order, so consumers only ever
// observe monotonically newer state. Transient subscription errors are logged
// and recovered by backoff-and-resubscribe, never surfaced.
type Collection[T any] struct {
	name    string
	store   remote.Store
	query   remote.Query
	decode  DecodeFunc[T]
	backoff time.Duration
	log     *slog.Logger

	mu           sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
	current      []T
	listeners    map[int]chan []T
	nextListener int
}

// New constructs a stopped Collection.
func New[T any](cfg Config[T]) *Collection[T] {
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Query.Collection
	}
	return &Collection[T]{
		name:      name,
		store:     cfg.Store,
		query:     cfg.Query,
		decode:    cfg.Decode,
		backoff:   backoff,
		log:       logger,
		listeners: make(map[int]chan []T),
	}
}

// Start opens the subscription task. Calling Start while already running is a
// no-op.
func (c *Collection[T]) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)
}

// Stop cancels the subscription task and waits for it to exit, so no snapshot
// is applied after Stop returns. Idempotent.
func (c *Collection[T]) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// run is the supervisor loop: subscribe, drain snapshots, and on a terminal
// stream error wait out the backoff and subscribe again. Only cancellation
// ends the loop.
func (c *Collection[T]) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		sub, err := c.store.Subscribe(ctx, c.query)
		if err != nil {
			c.log.Warn("live subscription open failed", "collection", c.name, "err", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		for snap := range sub.Snapshots() {
			if ctx.Err() != nil {
				break
			}
			c.apply(snap)
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		if err := sub.Err(); err != nil {
			c.log.Warn("live subscription interrupted", "collection", c.name, "err", err)
		}
		if !c.sleep(ctx) {
			return
		}
	}
}

func (c *Collection[T]) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.backoff):
		return true
	}
}

func (c *Collection[T]) apply(snap remote.Snapshot) {
	items := make([]T, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		item, err := c.decode(doc)
		if err != nil {
			c.log.Warn("skipping undecodable document", "collection", c.name, "path", doc.Path, "err", err)
			continue
		}
		items = append(items, item)
	}
	c.mu.Lock()
	c.current = items
	for _, ch := range c.listeners {
		// Latest-wins: drain a stale pending list before offering the new one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- items:
		default:
		}
	}
	c.mu.Unlock()
}

// Snapshot returns a copy of the latest decoded list.
func (c *Collection[T]) Snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.current...)
}

// Listen registers an update channel carrying the full list after each
// applied snapshot. Slow listeners always see the newest list; intermediate
// ones may be coalesced. The returned func unregisters the listener.
func (c *Collection[T]) Listen() (<-chan []T, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextListener++
	id := c.nextListener
	ch := make(chan []T, 1)
	if c.current != nil {
		ch <- c.current
	}
	c.listeners[id] = ch
	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
	return ch, cancel
}

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const defaultTxRetries = 8

// RedisStore implements Store on Redis. Documents are JSON values keyed by
// path, each collection keeps a set of member paths, and writers publish the
// affected collection on a change channel that subscriptions re-evaluate
// their query against.
type RedisStore struct {
	client    *redis.Client
	log       *slog.Logger
	keyPrefix string
	channel   string
	txRetries int
}

// RedisConfig configures a RedisStore. Zero values get defaults.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Logger    *slog.Logger
	TxRetries int
}

// NewRedisStore validates config and connects the client.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "lingosync:"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.TxRetries
	if retries <= 0 {
		retries = defaultTxRetries
	}
	return &RedisStore{
		client:    redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}),
		log:       logger,
		keyPrefix: prefix,
		channel:   prefix + "changes",
		txRetries: retries,
	}, nil
}

func (r *RedisStore) docKey(path string) string { return r.keyPrefix + "doc:" + path }

func (r *RedisStore) colKey(collection string) string { return r.keyPrefix + "col:" + collection }

// Close releases the underlying client.
func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) GetOnce(ctx context.Context, path string) (Document, bool, error) {
	if err := ValidateDocPath(path); err != nil {
		return Document{}, false, err
	}
	raw, err := r.client.Get(ctx, r.docKey(path)).Result()
	if err == redis.Nil {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get document: %w", err)
	}
	fields, err := decodeDocJSON(raw)
	if err != nil {
		return Document{}, false, err
	}
	return Document{Path: path, Fields: fields}, true, nil
}

func (r *RedisStore) QueryOnce(ctx context.Context, q Query) (Snapshot, error) {
	paths, err := r.client.SMembers(ctx, r.colKey(q.Collection)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("list collection: %w", err)
	}
	if len(paths) == 0 {
		return Snapshot{Docs: []Document{}}, nil
	}
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = r.docKey(p)
	}
	raws, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load documents: %w", err)
	}
	docs := make([]Document, 0, len(raws))
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			// Index entry without a document; a concurrent delete won the race.
			continue
		}
		fields, err := decodeDocJSON(s)
		if err != nil {
			return Snapshot{}, err
		}
		docs = append(docs, Document{Path: paths[i], Fields: fields})
	}
	return Snapshot{Docs: evalQuery(docs, q)}, nil
}

func (r *RedisStore) Write(ctx context.Context, path string, fields map[string]any, mode WriteMode) error {
	return r.BatchWrite(ctx, []WriteOp{{Mode: mode, Path: path, Fields: fields}})
}

// BatchWrite applies the batch inside an optimistic WATCH/MULTI transaction,
// retrying on contention. All ops commit together or not at all.
func (r *RedisStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	_, err := r.runBatch(ctx, ops)
	return err
}

func (r *RedisStore) AtomicIncrement(ctx context.Context, path, field string, delta int64) (int64, error) {
	return r.runBatch(ctx, []WriteOp{Increment(path, field, delta)})
}

func (r *RedisStore) runBatch(ctx context.Context, ops []WriteOp) (int64, error) {
	watched := make([]string, 0, len(ops))
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if err := ValidateDocPath(op.Path); err != nil {
			return 0, err
		}
		if _, ok := seen[op.Path]; !ok {
			seen[op.Path] = struct{}{}
			watched = append(watched, r.docKey(op.Path))
		}
	}

	var lastIncrement int64
	txn := func(tx *redis.Tx) error {
		staged := make(map[string]*docState, len(seen))
		for path := range seen {
			st := &docState{}
			raw, err := tx.Get(ctx, r.docKey(path)).Result()
			switch {
			case err == redis.Nil:
			case err != nil:
				return fmt.Errorf("read document: %w", err)
			default:
				fields, derr := decodeDocJSON(raw)
				if derr != nil {
					return derr
				}
				st.fields = fields
				st.exists = true
			}
			staged[path] = st
		}
		for _, op := range ops {
			st := staged[op.Path]
			if err := applyWriteOp(st, op); err != nil {
				return err
			}
			if op.Mode == ModeIncrement {
				lastIncrement = st.lastIncrement
			}
		}
		affected := make(map[string]struct{})
		_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for path, st := range staged {
				col := CollectionOf(path)
				affected[col] = struct{}{}
				if st.exists {
					raw, merr := json.Marshal(st.fields)
					if merr != nil {
						return fmt.Errorf("encode document: %w", merr)
					}
					p.Set(ctx, r.docKey(path), raw, 0)
					p.SAdd(ctx, r.colKey(col), path)
				} else {
					p.Del(ctx, r.docKey(path))
					p.SRem(ctx, r.colKey(col), path)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Publish after commit; subscribers re-read, so a spurious wake is
		// harmless and a missed intermediate state is coalesced away.
		for col := range affected {
			if perr := r.client.Publish(ctx, r.channel, col).Err(); perr != nil {
				r.log.Warn("change publish failed", "collection", col, "err", perr)
			}
		}
		return nil
	}

	var err error
	for attempt := 0; attempt < r.txRetries; attempt++ {
		err = r.client.Watch(ctx, txn, watched...)
		if err != redis.TxFailedErr {
			return lastIncrement, err
		}
	}
	return 0, fmt.Errorf("batch write contention: %w", err)
}

type redisSub struct {
	out     chan Snapshot
	closeCh chan struct{}
	once    sync.Once
	pubsub  *redis.PubSub

	mu  sync.Mutex
	err error
}

func (s *redisSub) Snapshots() <-chan Snapshot { return s.out }

func (s *redisSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSub) Close() {
	s.once.Do(func() {
		close(s.closeCh)
		_ = s.pubsub.Close()
	})
}

func (s *redisSub) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Close()
}

// Subscribe opens a pub/sub driven query stream. The stream delivers the full
// current result list after every relevant change; a delivery failure is
// terminal and reported through Err.
func (r *RedisStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("open subscription: %w", err)
	}
	sub := &redisSub{
		out:     make(chan Snapshot),
		closeCh: make(chan struct{}),
		pubsub:  pubsub,
	}
	go r.runSub(ctx, sub, q)
	return sub, nil
}

func (r *RedisStore) runSub(ctx context.Context, sub *redisSub, q Query) {
	defer close(sub.out)

	emit := func() bool {
		snap, err := r.QueryOnce(ctx, q)
		if err != nil {
			sub.fail(err)
			return false
		}
		select {
		case sub.out <- snap:
			return true
		case <-sub.closeCh:
			return false
		case <-ctx.Done():
			sub.fail(ctx.Err())
			return false
		}
	}

	if !emit() {
		return
	}
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			sub.fail(ctx.Err())
			return
		case <-sub.closeCh:
			return
		case msg, ok := <-ch:
			if !ok {
				sub.fail(ErrSubscriptionLost)
				return
			}
			if msg.Payload != q.Collection {
				continue
			}
			if !emit() {
				return
			}
		}
	}
}

func decodeDocJSON(raw string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return fields, nil
}

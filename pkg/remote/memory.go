package remote

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in-process with full query and subscription
// semantics. It backs local development and is the standard test double for
// the sync layer; FailSubscriptions exists to exercise recovery paths.
type MemoryStore struct {
	mu             sync.Mutex
	docs           map[string]map[string]any
	subs           map[int]*memorySub
	nextSubID      int
	subscribeCalls int
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]any),
		subs: make(map[int]*memorySub),
	}
}

type memorySub struct {
	store *MemoryStore
	id    int
	query Query

	out    chan Snapshot
	notify chan struct{}
	stop   chan struct{}

	mu      sync.Mutex
	pending *Snapshot
	err     error
	closed  bool
}

func (s *memorySub) Snapshots() <-chan Snapshot { return s.out }

func (s *memorySub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *memorySub) Close() { s.store.closeSub(s, nil) }

// push stages the latest snapshot; intermediate states may be coalesced but
// delivery order stays monotonic.
func (s *memorySub) push(snap Snapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = &snap
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case <-s.notify:
		}
		s.mu.Lock()
		snap := s.pending
		s.pending = nil
		s.mu.Unlock()
		if snap == nil {
			continue
		}
		select {
		case s.out <- *snap:
		case <-s.stop:
			return
		}
	}
}

func (m *MemoryStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeCalls++
	m.nextSubID++
	sub := &memorySub{
		store:  m,
		id:     m.nextSubID,
		query:  q,
		out:    make(chan Snapshot),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	m.subs[sub.id] = sub
	sub.push(Snapshot{Docs: m.collectionDocsLocked(q)})
	go sub.pump()
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				m.closeSub(sub, ctx.Err())
			case <-sub.stop:
			}
		}()
	}
	return sub, nil
}

func (m *MemoryStore) closeSub(sub *memorySub, err error) {
	m.mu.Lock()
	delete(m.subs, sub.id)
	m.mu.Unlock()
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.err = err
	sub.mu.Unlock()
	close(sub.stop)
}

// SubscribeCalls reports how many subscriptions have been opened; tests use
// it to verify idempotent start behavior.
func (m *MemoryStore) SubscribeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribeCalls
}

// FailSubscriptions terminates every active subscription with err, simulating
// a dropped delivery stream.
func (m *MemoryStore) FailSubscriptions(err error) {
	m.mu.Lock()
	subs := make([]*memorySub, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	if err == nil {
		err = ErrSubscriptionLost
	}
	for _, s := range subs {
		m.closeSub(s, err)
	}
}

func (m *MemoryStore) collectionDocsLocked(q Query) []Document {
	docs := make([]Document, 0)
	for path, fields := range m.docs {
		if CollectionOf(path) == q.Collection {
			docs = append(docs, Document{Path: path, Fields: copyFields(fields)})
		}
	}
	return evalQuery(docs, q)
}

func (m *MemoryStore) QueryOnce(ctx context.Context, q Query) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Docs: m.collectionDocsLocked(q)}, nil
}

func (m *MemoryStore) GetOnce(ctx context.Context, path string) (Document, bool, error) {
	if err := ValidateDocPath(path); err != nil {
		return Document{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.docs[path]
	if !ok {
		return Document{}, false, nil
	}
	return Document{Path: path, Fields: copyFields(fields)}, true, nil
}

func (m *MemoryStore) Write(ctx context.Context, path string, fields map[string]any, mode WriteMode) error {
	return m.BatchWrite(ctx, []WriteOp{{Mode: mode, Path: path, Fields: fields}})
}

// BatchWrite applies all ops or none: every op is staged against copies and
// committed only after the whole batch validates.
func (m *MemoryStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	m.mu.Lock()
	staged := make(map[string]*docState)
	for _, op := range ops {
		if err := ValidateDocPath(op.Path); err != nil {
			m.mu.Unlock()
			return err
		}
		st, ok := staged[op.Path]
		if !ok {
			st = &docState{}
			if cur, exists := m.docs[op.Path]; exists {
				st.fields = copyFields(cur)
				st.exists = true
			}
			staged[op.Path] = st
		}
		if err := applyWriteOp(st, op); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	affected := make(map[string]struct{})
	for path, st := range staged {
		if st.exists {
			m.docs[path] = st.fields
		} else {
			delete(m.docs, path)
		}
		affected[CollectionOf(path)] = struct{}{}
	}
	for _, sub := range m.subs {
		if _, ok := affected[sub.query.Collection]; ok {
			sub.push(Snapshot{Docs: m.collectionDocsLocked(sub.query)})
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) AtomicIncrement(ctx context.Context, path, field string, delta int64) (int64, error) {
	if err := ValidateDocPath(path); err != nil {
		return 0, err
	}
	m.mu.Lock()
	st := &docState{}
	if cur, exists := m.docs[path]; exists {
		st.fields = copyFields(cur)
		st.exists = true
	}
	op := Increment(path, field, delta)
	if err := applyWriteOp(st, op); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	m.docs[path] = st.fields
	col := CollectionOf(path)
	for _, sub := range m.subs {
		if sub.query.Collection == col {
			sub.push(Snapshot{Docs: m.collectionDocsLocked(sub.query)})
		}
	}
	m.mu.Unlock()
	return st.lastIncrement, nil
}

package localstate

import "sync"

// MemoryStore is the in-process Store used in tests and when no data
// directory is configured.
type MemoryStore struct {
	mu    sync.Mutex
	seen  map[string][]string
	names map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen:  make(map[string][]string),
		names: make(map[string]map[string]string),
	}
}

func (m *MemoryStore) LoadSeen(uid string) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, ok := m.seen[uid]
	return append([]string(nil), ids...), ok, nil
}

func (m *MemoryStore) SaveSeen(uid string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[uid] = append([]string(nil), ids...)
	return nil
}

func (m *MemoryStore) DeleteSeen(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, uid)
	return nil
}

func (m *MemoryStore) LoadUsernames(uid string) (map[string]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.names[uid]
	if !ok {
		return nil, false, nil
	}
	out := make(map[string]string, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out, true, nil
}

func (m *MemoryStore) SaveUsernames(uid string, names map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make(map[string]string, len(names))
	for k, v := range names {
		stored[k] = v
	}
	m.names[uid] = stored
	return nil
}

func (m *MemoryStore) DeleteUsernames(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.names, uid)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

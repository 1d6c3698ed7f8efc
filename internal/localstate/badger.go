package localstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps local state in an embedded BadgerDB, giving low-latency
// reads without any server round trip.
type BadgerStore struct {
	db *badger.DB
}

// BadgerConfig configures OpenBadger. InMemory is intended for tests.
type BadgerConfig struct {
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// badgerLogger adapts slog to BadgerDB's logger interface.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.log.Error(fmt.Sprintf(format, args...)) }
func (l badgerLogger) Warningf(format string, args ...any) { l.log.Warn(fmt.Sprintf(format, args...)) }
func (l badgerLogger) Infof(format string, args ...any)    { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.log.Debug(fmt.Sprintf(format, args...)) }

// OpenBadger opens (or creates) the local state database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("localstate: path required")
	}
	opts := badger.DefaultOptions(cfg.Path).WithInMemory(cfg.InMemory)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open local state db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func seenKey(uid string) []byte      { return []byte("seen/" + uid) }
func usernamesKey(uid string) []byte { return []byte("names/" + uid) }

func (s *BadgerStore) loadJSON(key []byte, out any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load local state: %w", err)
	}
	return true, nil
}

func (s *BadgerStore) saveJSON(key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode local state: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("save local state: %w", err)
	}
	return nil
}

func (s *BadgerStore) deleteKey(key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete local state: %w", err)
	}
	return nil
}

func (s *BadgerStore) LoadSeen(uid string) ([]string, bool, error) {
	var ids []string
	ok, err := s.loadJSON(seenKey(uid), &ids)
	return ids, ok, err
}

func (s *BadgerStore) SaveSeen(uid string, ids []string) error {
	return s.saveJSON(seenKey(uid), ids)
}

func (s *BadgerStore) DeleteSeen(uid string) error {
	return s.deleteKey(seenKey(uid))
}

func (s *BadgerStore) LoadUsernames(uid string) (map[string]string, bool, error) {
	var names map[string]string
	ok, err := s.loadJSON(usernamesKey(uid), &names)
	return names, ok, err
}

func (s *BadgerStore) SaveUsernames(uid string, names map[string]string) error {
	return s.saveJSON(usernamesKey(uid), names)
}

func (s *BadgerStore) DeleteUsernames(uid string) error {
	return s.deleteKey(usernamesKey(uid))
}

func (s *BadgerStore) Close() error { return s.db.Close() }

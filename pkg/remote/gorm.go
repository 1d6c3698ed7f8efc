package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const defaultPollInterval = time.Second

// DocumentModel is the GORM row backing one document.
type DocumentModel struct {
	Path       string         `gorm:"primaryKey"`
	Collection string         `gorm:"index;not null"`
	Fields     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

// GormStore implements Store on Postgres. It is the self-hosted variant of
// the document contract: a single documents table with a JSONB fields column.
// Subscriptions are poll-based; the poll interval bounds delivery latency.
type GormStore struct {
	db   *gorm.DB
	poll time.Duration
	log  *slog.Logger
}

type GormStoreOptions struct {
	PollInterval time.Duration
	Logger       *slog.Logger
}

type GormStoreOption func(*GormStoreOptions)

// WithPollInterval sets the subscription poll cadence.
func WithPollInterval(d time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.PollInterval = d
	}
}

// WithGormLogger sets the structured logger used by subscriptions.
func WithGormLogger(l *slog.Logger) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Logger = l
	}
}

// NewGormStore opens the DB and runs auto-migration.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&DocumentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GormStore{db: db, poll: poll, log: logger}, nil
}

func (g *GormStore) GetOnce(ctx context.Context, path string) (Document, bool, error) {
	if err := ValidateDocPath(path); err != nil {
		return Document{}, false, err
	}
	var model DocumentModel
	err := g.db.WithContext(ctx).First(&model, "path = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get document: %w", err)
	}
	fields, err := decodeDocJSON(string(model.Fields))
	if err != nil {
		return Document{}, false, err
	}
	return Document{Path: path, Fields: fields}, true, nil
}

func (g *GormStore) QueryOnce(ctx context.Context, q Query) (Snapshot, error) {
	return g.queryOnceDB(g.db.WithContext(ctx), q)
}

func (g *GormStore) queryOnceDB(db *gorm.DB, q Query) (Snapshot, error) {
	var models []DocumentModel
	if err := db.Where("collection = ?", q.Collection).Find(&models).Error; err != nil {
		return Snapshot{}, fmt.Errorf("list collection: %w", err)
	}
	docs := make([]Document, 0, len(models))
	for _, model := range models {
		fields, err := decodeDocJSON(string(model.Fields))
		if err != nil {
			return Snapshot{}, err
		}
		docs = append(docs, Document{Path: model.Path, Fields: fields})
	}
	return Snapshot{Docs: evalQuery(docs, q)}, nil
}

func (g *GormStore) Write(ctx context.Context, path string, fields map[string]any, mode WriteMode) error {
	return g.BatchWrite(ctx, []WriteOp{{Mode: mode, Path: path, Fields: fields}})
}

func (g *GormStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	_, err := g.runBatch(ctx, ops)
	return err
}

func (g *GormStore) AtomicIncrement(ctx context.Context, path, field string, delta int64) (int64, error) {
	return g.runBatch(ctx, []WriteOp{Increment(path, field, delta)})
}

// runBatch stages every op against row-locked current state inside one DB
// transaction, so the batch is atomic and increments are safe under
// concurrent writers.
func (g *GormStore) runBatch(ctx context.Context, ops []WriteOp) (int64, error) {
	for _, op := range ops {
		if err := ValidateDocPath(op.Path); err != nil {
			return 0, err
		}
	}
	var lastIncrement int64
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		staged := make(map[string]*docState)
		for _, op := range ops {
			st, ok := staged[op.Path]
			if !ok {
				st = &docState{}
				var model DocumentModel
				err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
					First(&model, "path = ?", op.Path).Error
				switch {
				case errors.Is(err, gorm.ErrRecordNotFound):
				case err != nil:
					return fmt.Errorf("read document: %w", err)
				default:
					fields, derr := decodeDocJSON(string(model.Fields))
					if derr != nil {
						return derr
					}
					st.fields = fields
					st.exists = true
				}
				staged[op.Path] = st
			}
			if err := applyWriteOp(st, op); err != nil {
				return err
			}
			if op.Mode == ModeIncrement {
				lastIncrement = st.lastIncrement
			}
		}
		now := time.Now().UTC()
		for path, st := range staged {
			if !st.exists {
				if err := tx.Delete(&DocumentModel{}, "path = ?", path).Error; err != nil {
					return fmt.Errorf("delete document: %w", err)
				}
				continue
			}
			raw, err := json.Marshal(st.fields)
			if err != nil {
				return fmt.Errorf("encode document: %w", err)
			}
			model := DocumentModel{
				Path:       path,
				Collection: CollectionOf(path),
				Fields:     datatypes.JSON(raw),
				UpdatedAt:  now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "path"}},
				DoUpdates: clause.AssignmentColumns([]string{"fields", "updated_at"}),
			}).Create(&model).Error; err != nil {
				return fmt.Errorf("write document: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return lastIncrement, nil
}

type gormSub struct {
	out     chan Snapshot
	closeCh chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

func (s *gormSub) Snapshots() <-chan Snapshot { return s.out }

func (s *gormSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *gormSub) Close() {
	s.once.Do(func() { close(s.closeCh) })
}

func (s *gormSub) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Close()
}

// Subscribe polls the query at the configured interval and emits a snapshot
// whenever the result list changes. Query errors are terminal; the caller
// resubscribes.
func (g *GormStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	sub := &gormSub{
		out:     make(chan Snapshot),
		closeCh: make(chan struct{}),
	}
	go g.runSub(ctx, sub, q)
	return sub, nil
}

func (g *GormStore) runSub(ctx context.Context, sub *gormSub, q Query) {
	defer close(sub.out)
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	var lastSerialized []byte
	emit := func(force bool) bool {
		snap, err := g.QueryOnce(ctx, q)
		if err != nil {
			sub.fail(err)
			return false
		}
		serialized, err := json.Marshal(snap.Docs)
		if err != nil {
			sub.fail(fmt.Errorf("encode snapshot: %w", err))
			return false
		}
		if !force && bytes.Equal(serialized, lastSerialized) {
			return true
		}
		lastSerialized = serialized
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

	if !emit(true) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			sub.fail(ctx.Err())
			return
		case <-sub.closeCh:
			return
		case <-ticker.C:
			if !emit(false) {
				return
			}
		}
	}
}

// Package remote defines the document-store contract the sync layer is
// written against: collections of documents with filtered queries, real-time
// snapshot subscriptions, and atomic batch writes. Implementations exist for
// in-process use (MemoryStore), Redis (RedisStore), and Postgres (GormStore).
package remote

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by update-mode writes against a missing document.
	ErrNotFound = errors.New("remote: document not found")
	// ErrAlreadyExists is returned by create-mode writes against an existing
	// document. Batches containing the create fail as a whole.
	ErrAlreadyExists = errors.New("remote: document already exists")
	// ErrInvalidPath is returned for malformed document or collection paths.
	ErrInvalidPath = errors.New("remote: invalid path")
	// ErrSubscriptionLost is the terminal error of a subscription whose
	// underlying delivery channel failed. Callers must resubscribe.
	ErrSubscriptionLost = errors.New("remote: subscription lost")
)

type FilterOp string

const (
	OpEqual         FilterOp = "=="
	OpArrayContains FilterOp = "array-contains"
)

// Filter is a single field predicate within a Query.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Where builds a filter clause.
func Where(field string, op FilterOp, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents of one collection. Collections here are bounded by
// explicit limits; results are always delivered as the full matching list.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Document is one stored document: its full path plus decoded fields.
// Nested maps are addressed with dotted paths ("unreadCount.u1").
type Document struct {
	Path   string
	Fields map[string]any
}

// ID returns the final path segment.
func (d Document) ID() string {
	if i := strings.LastIndexByte(d.Path, '/'); i >= 0 {
		return d.Path[i+1:]
	}
	return d.Path
}

// Snapshot is the full current result list of one query.
type Snapshot struct {
	Docs []Document
}

// Subscription is one live query stream. Snapshots are delivered in commit
// order; the channel closes on Close or on a terminal delivery error, after
// which Err reports the cause.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Err() error
	Close()
}

type WriteMode string

const (
	// ModeSet replaces the whole document, creating it if missing.
	ModeSet WriteMode = "set"
	// ModeMerge sets the given (dotted) fields, creating the document if
	// missing and leaving other fields untouched.
	ModeMerge WriteMode = "merge"
	// ModeUpdate sets the given (dotted) fields and fails with ErrNotFound
	// if the document does not exist.
	ModeUpdate WriteMode = "update"
	// ModeCreate writes the document and fails with ErrAlreadyExists if it
	// already exists, making first-writer-wins guards expressible in a batch.
	ModeCreate WriteMode = "create"
	// ModeDelete removes the document.
	ModeDelete WriteMode = "delete"
	// ModeIncrement atomically adds Delta to the numeric field named by
	// Field, treating a missing field or document as zero.
	ModeIncrement WriteMode = "increment"
)

// WriteOp is one element of a batch. A batch either fully applies or fully
// fails; there is no partial outcome.
type WriteOp struct {
	Mode   WriteMode
	Path   string
	Fields map[string]any
	Field  string
	Delta  int64
}

func Set(path string, fields map[string]any) WriteOp {
	return WriteOp{Mode: ModeSet, Path: path, Fields: fields}
}

func Merge(path string, fields map[string]any) WriteOp {
	return WriteOp{Mode: ModeMerge, Path: path, Fields: fields}
}

func Update(path string, fields map[string]any) WriteOp {
	return WriteOp{Mode: ModeUpdate, Path: path, Fields: fields}
}

func Create(path string, fields map[string]any) WriteOp {
	return WriteOp{Mode: ModeCreate, Path: path, Fields: fields}
}

func Delete(path string) WriteOp {
	return WriteOp{Mode: ModeDelete, Path: path}
}

func Increment(path, field string, delta int64) WriteOp {
	return WriteOp{Mode: ModeIncrement, Path: path, Field: field, Delta: delta}
}

// Store is the document-store contract consumed by the sync layer. The store
// is assumed durable and authenticated per-user; subscription errors are
// terminal for that stream and recovered by the caller.
type Store interface {
	Subscribe(ctx context.Context, q Query) (Subscription, error)
	QueryOnce(ctx context.Context, q Query) (Snapshot, error)
	GetOnce(ctx context.Context, path string) (Document, bool, error)
	Write(ctx context.Context, path string, fields map[string]any, mode WriteMode) error
	BatchWrite(ctx context.Context, ops []WriteOp) error
	// AtomicIncrement adds delta to a numeric (possibly nested) field, safe
	// under concurrent writers, and returns the resulting value.
	AtomicIncrement(ctx context.Context, path, field string, delta int64) (int64, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*GormStore)(nil)
)

// CollectionOf returns the parent collection of a document path.
func CollectionOf(docPath string) string {
	if i := strings.LastIndexByte(docPath, '/'); i > 0 {
		return docPath[:i]
	}
	return ""
}

// ValidateDocPath checks that a path names a document: a non-empty even
// number of non-empty segments.
func ValidateDocPath(path string) error {
	segs := strings.Split(path, "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return ErrInvalidPath
	}
	for _, s := range segs {
		if s == "" {
			return ErrInvalidPath
		}
	}
	return nil
}

package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreWriteAndGet(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	err := store.Write(ctx, "users/u1", map[string]any{"username": "ana", "coinTotal": 5}, ModeSet)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, ok, err := store.GetOnce(ctx, "users/u1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if doc.Fields["username"] != "ana" || Int64(doc.Fields, "coinTotal") != 5 {
		t.Fatalf("unexpected fields: %+v", doc.Fields)
	}

	_, ok, err = store.GetOnce(ctx, "users/missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("expected missing document")
	}
}

func TestRedisStoreQueryOnce(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for i, status := range []string{"pending", "accepted", "pending"} {
		err := store.Write(ctx, fmt.Sprintf("friend_requests/r%d", i+1), map[string]any{
			"toUserId":  "u1",
			"status":    status,
			"createdAt": EncodeTime(time.Date(2026, 1, 1, 10+i, 0, 0, 0, time.UTC)),
		}, ModeSet)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	snap, err := store.QueryOnce(ctx, Query{
		Collection: "friend_requests",
		Filters: []Filter{
			Where("toUserId", OpEqual, "u1"),
			Where("status", OpEqual, "pending"),
		},
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(snap.Docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(snap.Docs))
	}
	if snap.Docs[0].ID() != "r3" || snap.Docs[1].ID() != "r1" {
		t.Fatalf("unexpected order: %s, %s", snap.Docs[0].ID(), snap.Docs[1].ID())
	}
}

func TestRedisStoreBatchAtomicity(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Write(ctx, "users/u1/friends/u2", map[string]any{"friendId": "u2"}, ModeSet); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := store.BatchWrite(ctx, []WriteOp{
		Set("users/u1", map[string]any{"username": "ana"}),
		Create("users/u1/friends/u2", map[string]any{"friendId": "u2"}),
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	_, ok, err := store.GetOnce(ctx, "users/u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("failed batch must not leave partial writes")
	}
}

func TestRedisStoreBatchDeleteRemovesFromCollection(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Write(ctx, "users/u1/friends/u2", map[string]any{"friendId": "u2"}, ModeSet); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.BatchWrite(ctx, []WriteOp{Delete("users/u1/friends/u2")}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap, err := store.QueryOnce(ctx, Query{Collection: "users/u1/friends"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(snap.Docs) != 0 {
		t.Fatalf("expected empty collection, got %+v", snap.Docs)
	}
}

func TestRedisStoreAtomicIncrement(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	got, err := store.AtomicIncrement(ctx, "users/u1", "coinTotal", 30)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
	got, err = store.AtomicIncrement(ctx, "users/u1", "coinByLang.en-es", 10)
	if err != nil {
		t.Fatalf("nested increment: %v", err)
	}
	if got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	doc, _, err := store.GetOnce(ctx, "users/u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if Int64(doc.Fields, "coinTotal") != 30 || Int64(doc.Fields, "coinByLang.en-es") != 10 {
		t.Fatalf("unexpected counters: %+v", doc.Fields)
	}
}

func TestRedisStoreSubscribeSeesWrites(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, Query{Collection: "users/u1/friends", OrderBy: "friendId"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	snap := waitSnapshot(t, sub)
	if len(snap.Docs) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d docs", len(snap.Docs))
	}

	if err := store.Write(ctx, "users/u1/friends/u2", map[string]any{"friendId": "u2"}, ModeSet); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				t.Fatalf("stream closed: %v", sub.Err())
			}
			if len(snap.Docs) == 1 && snap.Docs[0].ID() == "u2" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for change delivery")
		}
	}
}

func TestRedisStoreSubscribeCloseEndsStream(t *testing.T) {
	store := newTestRedisStore(t)
	sub, err := store.Subscribe(context.Background(), Query{Collection: "users/u1/friends"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitSnapshot(t, sub)
	sub.Close()

	select {
	case _, ok := <-sub.Snapshots():
		if ok {
			t.Fatal("expected closed stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream close")
	}
	if sub.Err() != nil {
		t.Fatalf("clean close must not report an error, got %v", sub.Err())
	}
}

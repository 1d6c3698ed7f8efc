package social

import (
	"context"
	"errors"
	"testing"
	"time"

	"lingosync/pkg/domain"
	"lingosync/pkg/remote"
)

func makeFriends(t *testing.T, store *remote.MemoryStore, a, b string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	err := store.BatchWrite(ctx, []remote.WriteOp{
		remote.Set(domain.FriendDoc(a, b), domain.EncodeFriendRelation(domain.FriendRelation{FriendID: b, AddedAt: now})),
		remote.Set(domain.FriendDoc(b, a), domain.EncodeFriendRelation(domain.FriendRelation{FriendID: a, AddedAt: now})),
	})
	if err != nil {
		t.Fatalf("make friends: %v", err)
	}
}

func TestSendMessageRequiresFriendship(t *testing.T) {
	c := NewChat(remote.NewMemoryStore(), nil)
	_, err := c.SendMessage(context.Background(), "u1", "u2", "hola", domain.MessageText)
	if !errors.Is(err, ErrNotFriends) {
		t.Fatalf("expected ErrNotFriends, got %v", err)
	}
}

func TestSendMessageUpdatesCountersAndChatLists(t *testing.T) {
	store := remote.NewMemoryStore()
	c := NewChat(store, nil)
	ctx := context.Background()
	makeFriends(t, store, "u1", "u2")

	for i := 0; i < 3; i++ {
		if _, err := c.SendMessage(ctx, "u1", "u2", "hola", domain.MessageText); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	chatID := domain.ChatIDFor("u1", "u2")
	meta, ok, err := c.Metadata(ctx, chatID)
	if err != nil || !ok {
		t.Fatalf("metadata: ok=%v err=%v", ok, err)
	}
	if meta.UnreadCount["u2"] != 3 {
		t.Fatalf("expected unread 3 for receiver, got %d", meta.UnreadCount["u2"])
	}
	if meta.UnreadCount["u1"] != 0 {
		t.Fatalf("sender unread must stay 0, got %d", meta.UnreadCount["u1"])
	}
	if meta.LastMessageContent != "hola" {
		t.Fatalf("unexpected last message: %q", meta.LastMessageContent)
	}

	total, err := c.TotalUnreadCount(ctx, "u2")
	if err != nil {
		t.Fatalf("total unread: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total unread 3, got %d", total)
	}

	// Both participants got a chat list entry pointing at the other.
	for uid, peer := range map[string]string{"u1": "u2", "u2": "u1"} {
		chats, err := c.UserChats(ctx, uid, 0)
		if err != nil {
			t.Fatalf("chats for %s: %v", uid, err)
		}
		if len(chats) != 1 || chats[0].PeerID != peer {
			t.Fatalf("unexpected chat list for %s: %+v", uid, chats)
		}
	}
}

func TestMarkAllMessagesAsReadZeroesExactly(t *testing.T) {
	store := remote.NewMemoryStore()
	c := NewChat(store, nil)
	ctx := context.Background()
	makeFriends(t, store, "u1", "u2")

	for i := 0; i < 3; i++ {
		if _, err := c.SendMessage(ctx, "u1", "u2", "hola", domain.MessageText); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	chatID := domain.ChatIDFor("u1", "u2")

	if err := c.MarkAllMessagesAsRead(ctx, "u2", chatID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	meta, _, err := c.Metadata(ctx, chatID)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.UnreadCount["u2"] != 0 {
		t.Fatalf("expected counter exactly 0, got %d", meta.UnreadCount["u2"])
	}
	total, err := c.TotalUnreadCount(ctx, "u2")
	if err != nil {
		t.Fatalf("total unread: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected chat list unread 0, got %d", total)
	}
	msgs, err := c.Messages(ctx, chatID, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	for _, m := range msgs {
		if !m.IsRead {
			t.Fatalf("message %s still unread", m.ID)
		}
	}

	// Marking again is harmless and leaves the counter at zero, even though
	// a concurrent send may interleave in production.
	if err := c.MarkAllMessagesAsRead(ctx, "u2", chatID); err != nil {
		t.Fatalf("second mark read: %v", err)
	}
}

func TestMarkAllMessagesAsReadAuthorization(t *testing.T) {
	store := remote.NewMemoryStore()
	c := NewChat(store, nil)
	ctx := context.Background()
	makeFriends(t, store, "u1", "u2")
	if _, err := c.SendMessage(ctx, "u1", "u2", "hola", domain.MessageText); err != nil {
		t.Fatalf("send: %v", err)
	}
	chatID := domain.ChatIDFor("u1", "u2")

	if err := c.MarkAllMessagesAsRead(ctx, "u3", chatID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if err := c.MarkAllMessagesAsRead(ctx, "u2", "missing_chat"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestMessagesChronologicalOrder(t *testing.T) {
	store := remote.NewMemoryStore()
	c := NewChat(store, nil)
	ctx := context.Background()
	makeFriends(t, store, "u1", "u2")

	var sent []string
	for _, text := range []string{"one", "two", "three"} {
		msg, err := c.SendMessage(ctx, "u1", "u2", text, domain.MessageText)
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		sent = append(sent, msg.ID)
		time.Sleep(2 * time.Millisecond)
	}

	msgs, err := c.Messages(ctx, domain.ChatIDFor("u1", "u2"), 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != sent[i] {
			t.Fatalf("message %d out of order: got %s want %s", i, m.ID, sent[i])
		}
	}
}

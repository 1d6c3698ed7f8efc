package social

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lingosync/internal/util"
	"lingosync/pkg/domain"
	"lingosync/pkg/remote"
)

// Chat performs direct-message operations. The unread counters and the
// per-user chat lists are denormalized state maintained entirely by the send
// and mark-read paths here.
type Chat struct {
	store remote.Store
	log   *slog.Logger
}

func NewChat(store remote.Store, logger *slog.Logger) *Chat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chat{store: store, log: logger}
}

// SendMessage appends a message and updates the chat metadata, the
// recipient's unread counter, and both participants' chat lists in one atomic
// batch. Messaging requires an existing friendship.
func (c *Chat) SendMessage(ctx context.Context, senderID, receiverID, content string, msgType domain.MessageType) (domain.ChatMessage, error) {
	senderID = strings.TrimSpace(senderID)
	receiverID = strings.TrimSpace(receiverID)
	if senderID == "" || receiverID == "" || senderID == receiverID {
		return domain.ChatMessage{}, fmt.Errorf("sender and receiver ids required")
	}
	if strings.TrimSpace(content) == "" {
		return domain.ChatMessage{}, fmt.Errorf("message content required")
	}
	if msgType == "" {
		msgType = domain.MessageText
	}
	_, friends, err := c.store.GetOnce(ctx, domain.FriendDoc(senderID, receiverID))
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("check friendship: %w", err)
	}
	if !friends {
		return domain.ChatMessage{}, ErrNotFriends
	}

	chatID := domain.ChatIDFor(senderID, receiverID)
	now := time.Now().UTC()
	msg := domain.ChatMessage{
		ID:         util.NewID(),
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       msgType,
		IsRead:     false,
		CreatedAt:  now,
	}
	lastAt := remote.EncodeTime(now)
	metaPath := domain.ChatMetadataDoc(chatID)
	err = c.store.BatchWrite(ctx, []remote.WriteOp{
		remote.Create(domain.ChatMessageDoc(chatID, msg.ID), domain.EncodeChatMessage(msg)),
		remote.Merge(metaPath, map[string]any{
			"chatId":             chatID,
			"participants":       []any{min(senderID, receiverID), max(senderID, receiverID)},
			"lastMessageContent": content,
			"lastMessageAt":      lastAt,
		}),
		remote.Increment(metaPath, "unreadCount."+receiverID, 1),
		remote.Merge(domain.UserChatDoc(senderID, chatID), map[string]any{
			"peerId":             receiverID,
			"lastMessageContent": content,
			"lastMessageAt":      lastAt,
		}),
		remote.Merge(domain.UserChatDoc(receiverID, chatID), map[string]any{
			"peerId":             senderID,
			"lastMessageContent": content,
			"lastMessageAt":      lastAt,
		}),
		remote.Increment(domain.UserChatDoc(receiverID, chatID), "unread", 1),
	})
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// MarkAllMessagesAsRead flags every message addressed to uid in the chat as
// read and zeroes uid's unread counters, all in one batch. Only a participant
// may reset their own counter, and it resets to exactly zero regardless of
// the prior value.
func (c *Chat) MarkAllMessagesAsRead(ctx context.Context, uid, chatID string) error {
	meta, ok, err := c.Metadata(ctx, chatID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrChatNotFound
	}
	participant := false
	for _, p := range meta.Participants {
		if p == uid {
			participant = true
			break
		}
	}
	if !participant {
		return ErrNotParticipant
	}

	snap, err := c.store.QueryOnce(ctx, remote.Query{
		Collection: domain.ChatMessagesCollection(chatID),
		Filters: []remote.Filter{
			remote.Where("receiverId", remote.OpEqual, uid),
			remote.Where("isRead", remote.OpEqual, false),
		},
	})
	if err != nil {
		return fmt.Errorf("list unread messages: %w", err)
	}
	ops := make([]remote.WriteOp, 0, len(snap.Docs)+2)
	for _, doc := range snap.Docs {
		ops = append(ops, remote.Update(doc.Path, map[string]any{"isRead": true}))
	}
	ops = append(ops,
		remote.Merge(domain.ChatMetadataDoc(chatID), map[string]any{"unreadCount." + uid: 0}),
		remote.Merge(domain.UserChatDoc(uid, chatID), map[string]any{"unread": 0}),
	)
	if err := c.store.BatchWrite(ctx, ops); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

// Messages returns the chat's messages in chronological order.
func (c *Chat) Messages(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	snap, err := c.store.QueryOnce(ctx, remote.Query{
		Collection: domain.ChatMessagesCollection(chatID),
		OrderBy:    "createdAt",
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := make([]domain.ChatMessage, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		msg, err := domain.DecodeChatMessage(doc)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Metadata loads the chat's single metadata document.
func (c *Chat) Metadata(ctx context.Context, chatID string) (domain.ChatMetadata, bool, error) {
	doc, ok, err := c.store.GetOnce(ctx, domain.ChatMetadataDoc(chatID))
	if err != nil {
		return domain.ChatMetadata{}, false, fmt.Errorf("load chat metadata: %w", err)
	}
	if !ok {
		return domain.ChatMetadata{}, false, nil
	}
	meta, err := domain.DecodeChatMetadata(doc)
	if err != nil {
		return domain.ChatMetadata{}, false, err
	}
	return meta, true, nil
}

// UserChats returns uid's denormalized chat list, most recent first.
func (c *Chat) UserChats(ctx context.Context, uid string, limit int) ([]domain.ChatSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	snap, err := c.store.QueryOnce(ctx, remote.Query{
		Collection: domain.UserChatsCollection(uid),
		OrderBy:    "lastMessageAt",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	chats := make([]domain.ChatSummary, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		summary, err := domain.DecodeChatSummary(doc)
		if err != nil {
			return nil, err
		}
		chats = append(chats, summary)
	}
	return chats, nil
}

// TotalUnreadCount sums uid's unread counters across all chats.
func (c *Chat) TotalUnreadCount(ctx context.Context, uid string) (int, error) {
	chats, err := c.UserChats(ctx, uid, 0)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, chat := range chats {
		total += chat.Unread
	}
	return total, nil
}

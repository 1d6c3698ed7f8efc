package social

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"lingosync/pkg/domain"
	"lingosync/pkg/remote"
)

// Inbox performs shared-item operations against the recipient's inbox.
type Inbox struct {
	store remote.Store
	log   *slog.Logger
}

func NewInbox(store remote.Store, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{store: store, log: logger}
}

// Share puts a word, learning sheet, or quiz into a friend's inbox as a
// pending item. Sharing requires an existing friendship.
func (i *Inbox) Share(ctx context.Context, fromUID, toUID string, itemType domain.SharedItemType, content string) (domain.SharedItem, error) {
	if strings.TrimSpace(content) == "" {
		return domain.SharedItem{}, fmt.Errorf("item content required")
	}
	_, friends, err := i.store.GetOnce(ctx, domain.FriendDoc(fromUID, toUID))
	if err != nil {
		return domain.SharedItem{}, fmt.Errorf("check friendship: %w", err)
	}
	if !friends {
		return domain.SharedItem{}, ErrNotFriends
	}
	item := domain.SharedItem{
		ID:         uuid.NewString(),
		FromUserID: fromUID,
		ToUserID:   toUID,
		Type:       itemType,
		Content:    content,
		Status:     domain.ItemPending,
		CreatedAt:  time.Now().UTC(),
	}
	err = i.store.Write(ctx, domain.SharedItemDoc(toUID, item.ID), domain.EncodeSharedItem(item), remote.ModeCreate)
	if err != nil {
		return domain.SharedItem{}, fmt.Errorf("share item: %w", err)
	}
	return item, nil
}

// Accept settles a pending item as accepted. The transition is single-use:
// a settled item admits no further mutation.
func (i *Inbox) Accept(ctx context.Context, uid, itemID string) error {
	return i.settle(ctx, uid, itemID, domain.ItemAccepted)
}

// Dismiss settles a pending item as dismissed.
func (i *Inbox) Dismiss(ctx context.Context, uid, itemID string) error {
	return i.settle(ctx, uid, itemID, domain.ItemDismissed)
}

func (i *Inbox) settle(ctx context.Context, uid, itemID string, status domain.SharedItemStatus) error {
	path := domain.SharedItemDoc(uid, itemID)
	doc, ok, err := i.store.GetOnce(ctx, path)
	if err != nil {
		return fmt.Errorf("load shared item: %w", err)
	}
	if !ok {
		return ErrItemNotFound
	}
	item, err := domain.DecodeSharedItem(doc)
	if err != nil {
		return err
	}
	if item.Status != domain.ItemPending {
		return ErrItemSettled
	}
	err = i.store.Write(ctx, path, map[string]any{"status": string(status)}, remote.ModeUpdate)
	if err != nil {
		return fmt.Errorf("settle shared item: %w", err)
	}
	return nil
}

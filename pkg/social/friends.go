// Package social holds the repository-style write operations behind the
// social screens: friend requests and friendships, direct chat, and the
// shared inbox. Every multi-document mutation goes through one atomic batch.
package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lingosync/pkg/domain"
	"lingosync/pkg/remote"
)

// Friends performs friendship and friend-request operations.
type Friends struct {
	store remote.Store
	log   *slog.Logger
}

func NewFriends(store remote.Store, logger *slog.Logger) *Friends {
	if logger == nil {
		logger = slog.Default()
	}
	return &Friends{store: store, log: logger}
}

// IsFriend reports whether uid's friend list contains friendID.
func (f *Friends) IsFriend(ctx context.Context, uid, friendID string) (bool, error) {
	_, ok, err := f.store.GetOnce(ctx, domain.FriendDoc(uid, friendID))
	if err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return ok, nil
}

// SendRequest creates a pending friend request from fromUID to toUID. It is
// rejected when the two are already friends or a pending request already
// exists in either direction.
func (f *Friends) SendRequest(ctx context.Context, fromUID, fromUsername, toUID string) (domain.FriendRequest, error) {
	fromUID = strings.TrimSpace(fromUID)
	toUID = strings.TrimSpace(toUID)
	if fromUID == "" || toUID == "" {
		return domain.FriendRequest{}, fmt.Errorf("user ids required")
	}
	if fromUID == toUID {
		return domain.FriendRequest{}, ErrSelfRequest
	}
	already, err := f.IsFriend(ctx, fromUID, toUID)
	if err != nil {
		return domain.FriendRequest{}, err
	}
	if already {
		return domain.FriendRequest{}, ErrAlreadyFriends
	}
	for _, pair := range [][2]string{{fromUID, toUID}, {toUID, fromUID}} {
		snap, err := f.store.QueryOnce(ctx, remote.Query{
			Collection: domain.FriendRequestsCollection,
			Filters: []remote.Filter{
				remote.Where("fromUserId", remote.OpEqual, pair[0]),
				remote.Where("toUserId", remote.OpEqual, pair[1]),
				remote.Where("status", remote.OpEqual, string(domain.RequestPending)),
			},
			Limit: 1,
		})
		if err != nil {
			return domain.FriendRequest{}, fmt.Errorf("check pending requests: %w", err)
		}
		if len(snap.Docs) > 0 {
			return domain.FriendRequest{}, ErrDuplicateRequest
		}
	}

	now := time.Now().UTC()
	req := domain.FriendRequest{
		ID:           uuid.NewString(),
		FromUserID:   fromUID,
		FromUsername: fromUsername,
		ToUserID:     toUID,
		Status:       domain.RequestPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = f.store.Write(ctx, domain.FriendRequestDoc(req.ID), domain.EncodeFriendRequest(req), remote.ModeCreate)
	if err != nil {
		return domain.FriendRequest{}, fmt.Errorf("create friend request: %w", err)
	}
	return req, nil
}

// Accept settles a pending request and creates the mirrored friendship in a
// single atomic batch: the status change and both friend documents either all
// apply or none do, so a one-sided friendship can never exist.
func (f *Friends) Accept(ctx context.Context, requestID, actorUID string) error {
	req, err := f.loadPending(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ToUserID != actorUID {
		return ErrNotAuthorized
	}

	var fromProfile, toProfile userProfile
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fromProfile, err = f.loadProfile(gctx, req.FromUserID)
		return err
	})
	g.Go(func() error {
		var err error
		toProfile, err = f.loadProfile(gctx, req.ToUserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now().UTC()
	err = f.store.BatchWrite(ctx, []remote.WriteOp{
		remote.Update(domain.FriendRequestDoc(req.ID), map[string]any{
			"status":    string(domain.RequestAccepted),
			"updatedAt": remote.EncodeTime(now),
		}),
		remote.Create(domain.FriendDoc(req.FromUserID, req.ToUserID), domain.EncodeFriendRelation(domain.FriendRelation{
			FriendID:          req.ToUserID,
			FriendUsername:    toProfile.username,
			FriendDisplayName: toProfile.displayName,
			AddedAt:           now,
		})),
		remote.Create(domain.FriendDoc(req.ToUserID, req.FromUserID), domain.EncodeFriendRelation(domain.FriendRelation{
			FriendID:          req.FromUserID,
			FriendUsername:    fromProfile.username,
			FriendDisplayName: fromProfile.displayName,
			AddedAt:           now,
		})),
	})
	if errors.Is(err, remote.ErrAlreadyExists) {
		return ErrAlreadyFriends
	}
	if err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}
	return nil
}

// Reject settles a pending request as rejected; only the recipient may do so.
func (f *Friends) Reject(ctx context.Context, requestID, actorUID string) error {
	return f.settle(ctx, requestID, actorUID, false, domain.RequestRejected)
}

// Cancel withdraws a pending request; only the sender may do so.
func (f *Friends) Cancel(ctx context.Context, requestID, actorUID string) error {
	return f.settle(ctx, requestID, actorUID, true, domain.RequestCancelled)
}

func (f *Friends) settle(ctx context.Context, requestID, actorUID string, bySender bool, status domain.RequestStatus) error {
	req, err := f.loadPending(ctx, requestID)
	if err != nil {
		return err
	}
	owner := req.ToUserID
	if bySender {
		owner = req.FromUserID
	}
	if owner != actorUID {
		return ErrNotAuthorized
	}
	err = f.store.Write(ctx, domain.FriendRequestDoc(req.ID), map[string]any{
		"status":    string(status),
		"updatedAt": remote.EncodeTime(time.Now().UTC()),
	}, remote.ModeUpdate)
	if err != nil {
		return fmt.Errorf("settle friend request: %w", err)
	}
	return nil
}

// RemoveFriend deletes both sides of the mirrored friendship atomically.
func (f *Friends) RemoveFriend(ctx context.Context, uid, friendID string) error {
	ok, err := f.IsFriend(ctx, uid, friendID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFriends
	}
	err = f.store.BatchWrite(ctx, []remote.WriteOp{
		remote.Delete(domain.FriendDoc(uid, friendID)),
		remote.Delete(domain.FriendDoc(friendID, uid)),
	})
	if err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	return nil
}

func (f *Friends) loadPending(ctx context.Context, requestID string) (domain.FriendRequest, error) {
	doc, ok, err := f.store.GetOnce(ctx, domain.FriendRequestDoc(requestID))
	if err != nil {
		return domain.FriendRequest{}, fmt.Errorf("load friend request: %w", err)
	}
	if !ok {
		return domain.FriendRequest{}, ErrRequestNotFound
	}
	req, err := domain.DecodeFriendRequest(doc)
	if err != nil {
		return domain.FriendRequest{}, err
	}
	if req.Status.Terminal() {
		return domain.FriendRequest{}, ErrRequestSettled
	}
	return req, nil
}

type userProfile struct {
	username    string
	displayName string
}

func (f *Friends) loadProfile(ctx context.Context, uid string) (userProfile, error) {
	doc, ok, err := f.store.GetOnce(ctx, domain.UserDoc(uid))
	if err != nil {
		return userProfile{}, fmt.Errorf("load user %s: %w", uid, err)
	}
	if !ok {
		// Friendships can still form before the profile doc exists.
		return userProfile{username: uid, displayName: uid}, nil
	}
	p := userProfile{
		username:    remote.String(doc.Fields, "username"),
		displayName: remote.String(doc.Fields, "displayName"),
	}
	if p.username == "" {
		p.username = uid
	}
	if p.displayName == "" {
		p.displayName = p.username
	}
	return p, nil
}

package social

import "errors"

// Business-rule rejections. These are expected outcomes shown to the user,
// not faults to be logged as errors.
var (
	ErrSelfRequest      = errors.New("cannot send a friend request to yourself")
	ErrAlreadyFriends   = errors.New("already friends")
	ErrDuplicateRequest = errors.New("a pending request already exists")
	ErrRequestNotFound  = errors.New("friend request not found")
	ErrRequestSettled   = errors.New("friend request already settled")
	ErrNotAuthorized    = errors.New("not authorized for this request")
	ErrNotFriends       = errors.New("users are not friends")
	ErrChatNotFound     = errors.New("chat not found")
	ErrNotParticipant   = errors.New("not a participant of this chat")
	ErrItemNotFound     = errors.New("shared item not found")
	ErrItemSettled      = errors.New("shared item already settled")
)

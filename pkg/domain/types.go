package domain

import (
	"strings"
	"time"
)

// LanguagePair identifies one learning-content context as
// "<primary>-<target>", e.g. "en-es".
type LanguagePair string

// NewLanguagePair builds the canonical pair key from two locale codes.
func NewLanguagePair(primary, target string) LanguagePair {
	return LanguagePair(strings.ToLower(strings.TrimSpace(primary)) + "-" + strings.ToLower(strings.TrimSpace(target)))
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

// Terminal reports whether the status admits no further transition.
func (s RequestStatus) Terminal() bool {
	return s == RequestAccepted || s == RequestRejected || s == RequestCancelled
}

type MessageType string

const (
	MessageText MessageType = "text"
	MessageWord MessageType = "word"
)

type SharedItemType string

const (
	ItemWord          SharedItemType = "word"
	ItemLearningSheet SharedItemType = "learning_sheet"
	ItemQuiz          SharedItemType = "quiz"
)

type SharedItemStatus string

const (
	ItemPending   SharedItemStatus = "pending"
	ItemAccepted  SharedItemStatus = "accepted"
	ItemDismissed SharedItemStatus = "dismissed"
)

type ContentKind string

const (
	KindSheet ContentKind = "sheet"
	KindQuiz  ContentKind = "quiz"
)

// FriendRelation is one side of a mirrored friendship. The same relation
// exists under both users' friend lists and both sides are created and
// removed together.
type FriendRelation struct {
	FriendID          string    `json:"friendId"`
	FriendUsername    string    `json:"friendUsername"`
	FriendDisplayName string    `json:"friendDisplayName"`
	AddedAt           time.Time `json:"addedAt"`
}

// FriendRequest lives in the flat friend_requests collection. Pending is the
// only mutable state.
type FriendRequest struct {
	ID           string        `json:"id"`
	FromUserID   string        `json:"fromUserId"`
	FromUsername string        `json:"fromUsername"`
	ToUserID     string        `json:"toUserId"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ChatMessage is a single direct message between two users.
type ChatMessage struct {
	ID         string      `json:"id"`
	ChatID     string      `json:"chatId"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	IsRead     bool        `json:"isRead"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// ChatMetadata is the single per-chat info document. UnreadCount holds one
// counter per participant, incremented atomically on send and zeroed only by
// that participant's own mark-read action.
type ChatMetadata struct {
	ChatID             string         `json:"chatId"`
	Participants       []string       `json:"participants"`
	LastMessageContent string         `json:"lastMessageContent"`
	LastMessageAt      time.Time      `json:"lastMessageAt"`
	UnreadCount        map[string]int `json:"unreadCount"`
}

// ChatSummary is the denormalized per-user chat list entry maintained by the
// message send path under users/{uid}/chats.
type ChatSummary struct {
	ChatID             string    `json:"chatId"`
	PeerID             string    `json:"peerId"`
	LastMessageContent string    `json:"lastMessageContent"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	Unread             int       `json:"unread"`
}

// SharedItem lives under the recipient's inbox. Status moves Pending ->
// Accepted|Dismissed exactly once and is never reversed.
type SharedItem struct {
	ID         string           `json:"id"`
	FromUserID string           `json:"fromUserId"`
	ToUserID   string           `json:"toUserId"`
	Type       SharedItemType   `json:"type"`
	Content    string           `json:"content"`
	Status     SharedItemStatus `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// QuizQuestion is one generated question; Answers on the attempt hold the
// chosen index per question.
type QuizQuestion struct {
	Prompt       string   `json:"prompt"`
	Choices      []string `json:"choices"`
	CorrectIndex int      `json:"correctIndex"`
}

// QuizAttempt records one completed quiz. HistoryCountAtGenerate pins the
// attempt to the content version it was generated from.
type QuizAttempt struct {
	ID                     string         `json:"id"`
	UserID                 string         `json:"userId"`
	LanguagePair           LanguagePair   `json:"languagePair"`
	Questions              []QuizQuestion `json:"questions"`
	Answers                []int          `json:"answers"`
	TotalScore             int            `json:"totalScore"`
	MaxScore               int            `json:"maxScore"`
	Percentage             float64        `json:"percentage"`
	HistoryCountAtGenerate int            `json:"historyCountAtGenerate"`
	CompletedAt            time.Time      `json:"completedAt"`
}

// UserCoinStats is the aggregate held on the users/{uid} root document.
// Monotonically non-decreasing except for explicit spends.
type UserCoinStats struct {
	CoinTotal  int64            `json:"coinTotal"`
	CoinByLang map[string]int64 `json:"coinByLang"`
}

// ContentVersion is the single current generation marker per
// (user, language pair, kind), overwritten on regeneration.
type ContentVersion struct {
	LanguagePair           LanguagePair `json:"languagePair"`
	Kind                   ContentKind  `json:"kind"`
	HistoryCountAtGenerate int          `json:"historyCountAtGenerate"`
	GeneratedAt            time.Time    `json:"generatedAt"`
}

// ChatIDFor returns the deterministic chat id for two users, so both
// participants resolve the same id without a lookup.
func ChatIDFor(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

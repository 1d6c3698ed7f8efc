package domain

import (
	"fmt"

	"lingosync/pkg/remote"
)

// Field encoders/decoders between entities and store documents. Timestamps
// travel as RFC 3339 strings and counters as numbers, matching the mobile
// client's remote schema.

func EncodeFriendRelation(r FriendRelation) map[string]any {
	return map[string]any{
		"friendId":          r.FriendID,
		"friendUsername":    r.FriendUsername,
		"friendDisplayName": r.FriendDisplayName,
		"addedAt":           remote.EncodeTime(r.AddedAt),
	}
}

func DecodeFriendRelation(doc remote.Document) (FriendRelation, error) {
	r := FriendRelation{
		FriendID:          remote.String(doc.Fields, "friendId"),
		FriendUsername:    remote.String(doc.Fields, "friendUsername"),
		FriendDisplayName: remote.String(doc.Fields, "friendDisplayName"),
		AddedAt:           remote.Time(doc.Fields, "addedAt"),
	}
	if r.FriendID == "" {
		r.FriendID = doc.ID()
	}
	return r, nil
}

func EncodeFriendRequest(r FriendRequest) map[string]any {
	return map[string]any{
		"fromUserId":   r.FromUserID,
		"fromUsername": r.FromUsername,
		"toUserId":     r.ToUserID,
		"status":       string(r.Status),
		"createdAt":    remote.EncodeTime(r.CreatedAt),
		"updatedAt":    remote.EncodeTime(r.UpdatedAt),
	}
}

func DecodeFriendRequest(doc remote.Document) (FriendRequest, error) {
	r := FriendRequest{
		ID:           doc.ID(),
		FromUserID:   remote.String(doc.Fields, "fromUserId"),
		FromUsername: remote.String(doc.Fields, "fromUsername"),
		ToUserID:     remote.String(doc.Fields, "toUserId"),
		Status:       RequestStatus(remote.String(doc.Fields, "status")),
		CreatedAt:    remote.Time(doc.Fields, "createdAt"),
		UpdatedAt:    remote.Time(doc.Fields, "updatedAt"),
	}
	if r.FromUserID == "" || r.ToUserID == "" {
		return FriendRequest{}, fmt.Errorf("friend request %s: missing participants", doc.Path)
	}
	return r, nil
}

func EncodeChatMessage(m ChatMessage) map[string]any {
	return map[string]any{
		"chatId":     m.ChatID,
		"senderId":   m.SenderID,
		"receiverId": m.ReceiverID,
		"content":    m.Content,
		"type":       string(m.Type),
		"isRead":     m.IsRead,
		"createdAt":  remote.EncodeTime(m.CreatedAt),
	}
}

func DecodeChatMessage(doc remote.Document) (ChatMessage, error) {
	return ChatMessage{
		ID:         doc.ID(),
		ChatID:     remote.String(doc.Fields, "chatId"),
		SenderID:   remote.String(doc.Fields, "senderId"),
		ReceiverID: remote.String(doc.Fields, "receiverId"),
		Content:    remote.String(doc.Fields, "content"),
		Type:       MessageType(remote.String(doc.Fields, "type")),
		IsRead:     remote.Bool(doc.Fields, "isRead"),
		CreatedAt:  remote.Time(doc.Fields, "createdAt"),
	}, nil
}

func DecodeChatMetadata(doc remote.Document) (ChatMetadata, error) {
	return ChatMetadata{
		ChatID:             remote.String(doc.Fields, "chatId"),
		Participants:       remote.StringSlice(doc.Fields, "participants"),
		LastMessageContent: remote.String(doc.Fields, "lastMessageContent"),
		LastMessageAt:      remote.Time(doc.Fields, "lastMessageAt"),
		UnreadCount:        remote.IntMap(doc.Fields, "unreadCount"),
	}, nil
}

func DecodeChatSummary(doc remote.Document) (ChatSummary, error) {
	return ChatSummary{
		ChatID:             doc.ID(),
		PeerID:             remote.String(doc.Fields, "peerId"),
		LastMessageContent: remote.String(doc.Fields, "lastMessageContent"),
		LastMessageAt:      remote.Time(doc.Fields, "lastMessageAt"),
		Unread:             remote.Int(doc.Fields, "unread"),
	}, nil
}

func EncodeSharedItem(item SharedItem) map[string]any {
	return map[string]any{
		"fromUserId": item.FromUserID,
		"toUserId":   item.ToUserID,
		"type":       string(item.Type),
		"content":    item.Content,
		"status":     string(item.Status),
		"createdAt":  remote.EncodeTime(item.CreatedAt),
	}
}

func DecodeSharedItem(doc remote.Document) (SharedItem, error) {
	return SharedItem{
		ID:         doc.ID(),
		FromUserID: remote.String(doc.Fields, "fromUserId"),
		ToUserID:   remote.String(doc.Fields, "toUserId"),
		Type:       SharedItemType(remote.String(doc.Fields, "type")),
		Content:    remote.String(doc.Fields, "content"),
		Status:     SharedItemStatus(remote.String(doc.Fields, "status")),
		CreatedAt:  remote.Time(doc.Fields, "createdAt"),
	}, nil
}

func EncodeQuizAttempt(a QuizAttempt) map[string]any {
	questions := make([]any, 0, len(a.Questions))
	for _, q := range a.Questions {
		choices := make([]any, 0, len(q.Choices))
		for _, c := range q.Choices {
			choices = append(choices, c)
		}
		questions = append(questions, map[string]any{
			"prompt":       q.Prompt,
			"choices":      choices,
			"correctIndex": q.CorrectIndex,
		})
	}
	answers := make([]any, 0, len(a.Answers))
	for _, ans := range a.Answers {
		answers = append(answers, ans)
	}
	return map[string]any{
		"userId":                 a.UserID,
		"languagePair":           string(a.LanguagePair),
		"questions":              questions,
		"answers":                answers,
		"totalScore":             a.TotalScore,
		"maxScore":               a.MaxScore,
		"percentage":             a.Percentage,
		"historyCountAtGenerate": a.HistoryCountAtGenerate,
		"completedAt":            remote.EncodeTime(a.CompletedAt),
	}
}

func EncodeContentVersion(v ContentVersion) map[string]any {
	return map[string]any{
		"languagePair":           string(v.LanguagePair),
		"kind":                   string(v.Kind),
		"historyCountAtGenerate": v.HistoryCountAtGenerate,
		"generatedAt":            remote.EncodeTime(v.GeneratedAt),
	}
}

func DecodeContentVersion(doc remote.Document) (ContentVersion, error) {
	return ContentVersion{
		LanguagePair:           LanguagePair(remote.String(doc.Fields, "languagePair")),
		Kind:                   ContentKind(remote.String(doc.Fields, "kind")),
		HistoryCountAtGenerate: remote.Int(doc.Fields, "historyCountAtGenerate"),
		GeneratedAt:            remote.Time(doc.Fields, "generatedAt"),
	}, nil
}

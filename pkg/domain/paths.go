package domain

import "fmt"

// Document paths shared by every store-facing component. The layout mirrors
// the mobile client's remote schema and must stay compatible with it.

const FriendRequestsCollection = "friend_requests"

func UserDoc(uid string) string { return "users/" + uid }

func FriendsCollection(uid string) string { return "users/" + uid + "/friends" }

func FriendDoc(uid, friendID string) string { return "users/" + uid + "/friends/" + friendID }

func FriendRequestDoc(requestID string) string { return FriendRequestsCollection + "/" + requestID }

func ChatMessagesCollection(chatID string) string { return "chats/" + chatID + "/messages" }

func ChatMessageDoc(chatID, messageID string) string {
	return "chats/" + chatID + "/messages/" + messageID
}

func ChatMetadataDoc(chatID string) string { return "chats/" + chatID + "/metadata/info" }

func UserChatsCollection(uid string) string { return "users/" + uid + "/chats" }

func UserChatDoc(uid, chatID string) string { return "users/" + uid + "/chats/" + chatID }

func SharedInboxCollection(uid string) string { return "users/" + uid + "/shared_inbox" }

func SharedItemDoc(uid, itemID string) string { return "users/" + uid + "/shared_inbox/" + itemID }

func QuizAttemptsCollection(uid string) string { return "users/" + uid + "/quiz_attempts" }

func QuizAttemptDoc(uid, attemptID string) string { return "users/" + uid + "/quiz_attempts/" + attemptID }

func GeneratedQuizDoc(uid string, pair LanguagePair) string {
	return "users/" + uid + "/generated_quizzes/" + string(pair)
}

func LearningSheetDoc(uid string, pair LanguagePair) string {
	return "users/" + uid + "/learning_sheets/" + string(pair)
}

func CoinAwardsCollection(uid string) string { return "users/" + uid + "/coin_awards" }

// CoinAwardDoc keys one payout receipt by pair and history count, which makes
// a repeat payout for the same quiz version a same-document create.
func CoinAwardDoc(uid string, pair LanguagePair, historyCount int) string {
	return fmt.Sprintf("users/%s/coin_awards/%s_%d", uid, pair, historyCount)
}

func CoinSpendsCollection(uid string) string { return "users/" + uid + "/coin_spends" }

// CoinSpendDoc keys one spend receipt by the user's spend sequence number, so
// two spends racing from the same observed balance collide on the create.
func CoinSpendDoc(uid string, seq int) string {
	return fmt.Sprintf("users/%s/coin_spends/%d", uid, seq)
}

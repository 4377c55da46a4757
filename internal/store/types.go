package store

import "strings"

// Contact represents a cached roster contact.
type Contact struct {
	ID        string
	Username  string
	Email     string
	AvatarURL string
}

// Message represents a cached message.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	ReceiverID     string
	Body           string
	ImageURL       string
	SentAt         int64
}

// ConversationKey derives the cache key for a one-to-one conversation from
// the two participant ids. The key is order-independent so both sides of a
// conversation land in the same row set.
func ConversationKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}

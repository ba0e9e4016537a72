package models

import "time"

// ConversationKey returns the canonical identifier of the conversation
// between two users. The pair is unordered.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// ConversationSummary describes one counterpart in a user's conversation list.
type ConversationSummary struct {
	User        Counterpart `json:"user"`
	LastMessage Message     `json:"lastMessage"`
	UnreadCount int         `json:"unreadCount"`
}

// Counterpart is the other participant of a conversation with presence info.
type Counterpart struct {
	UserSummary
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// ConversationRow is the raw storage projection behind a ConversationSummary.
type ConversationRow struct {
	CounterpartID string `db:"counterpart_id"`
	Message
	UnreadCount int `db:"unread_count"`
}

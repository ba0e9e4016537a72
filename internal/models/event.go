package models

import "time"

// Outbound event names pushed to connections.
const (
	EventNewMessage  = "new_message"
	EventMessageSent = "message_sent"
	EventMessageRead = "message_read"
	EventUserTyping  = "user_typing"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventError       = "error"
)

// Event is a single frame pushed to a live connection.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// MessageReadPayload notifies a sender that the receiver read a message.
type MessageReadPayload struct {
	MessageID string `json:"messageId"`
	ReadBy    string `json:"readBy"`
}

// TypingPayload carries a transient typing indicator.
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// PresencePayload is broadcast on online/offline transitions.
type PresencePayload struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ErrorPayload reports a failed inbound action back to its connection.
type ErrorPayload struct {
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent builds an event frame.
func NewEvent(name string, data any) Event {
	return Event{Event: name, Data: data}
}

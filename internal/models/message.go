package models

import "time"

// MessageType enumerates the payload kinds a message can carry.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
	MessageTypeAudio MessageType = "audio"
)

// MaxMessageLength bounds message text, counted in runes.
const MaxMessageLength = 1000

// Valid reports whether t is one of the supported message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio:
		return true
	}
	return false
}

// Message represents a persisted one-to-one chat message.
type Message struct {
	ID          string      `db:"id" json:"id"`
	SenderID    string      `db:"sender_id" json:"senderId"`
	ReceiverID  string      `db:"receiver_id" json:"receiverId"`
	Text        string      `db:"message_text" json:"messageText"`
	Type        MessageType `db:"message_type" json:"messageType"`
	IsRead      bool        `db:"is_read" json:"isRead"`
	IsDelivered bool        `db:"is_delivered" json:"isDelivered"`
	IsDeleted   bool        `db:"is_deleted" json:"isDeleted"`
	ReplyToID   *string     `db:"reply_to_id" json:"replyToId"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`
}

// MessageDetails is a message expanded with its participants and reply preview.
// It is the shape pushed in new_message and message_sent events.
type MessageDetails struct {
	Message
	Sender   UserSummary   `json:"sender"`
	Receiver UserSummary   `json:"receiver"`
	ReplyTo  *ReplyPreview `json:"replyTo,omitempty"`
}

// ReplyPreview summarises the message being replied to. Text is blanked
// when the referenced message has been soft-deleted.
type ReplyPreview struct {
	ID        string      `json:"id"`
	SenderID  string      `json:"senderId"`
	Text      string      `json:"messageText"`
	Type      MessageType `json:"messageType"`
	IsDeleted bool        `json:"isDeleted"`
	CreatedAt time.Time   `json:"createdAt"`
}

// NewReplyPreview builds the preview for msg.
func NewReplyPreview(msg Message) *ReplyPreview {
	preview := &ReplyPreview{
		ID:        msg.ID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		IsDeleted: msg.IsDeleted,
		CreatedAt: msg.CreatedAt,
	}
	if !msg.IsDeleted {
		preview.Text = msg.Text
	}
	return preview
}

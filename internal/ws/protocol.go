package ws

import (
	"bytes"
	"encoding/json"
	"fmt"

	"chat-relay/internal/models"
)

// Inbound action names.
const (
	ActionSendMessage = "send_message"
	ActionMarkAsRead  = "mark_as_read"
	ActionTyping      = "typing"
)

// Action is one inbound client request. The set of variants is closed.
type Action interface {
	Name() string
	action()
}

type SendMessageAction struct {
	ReceiverID  string             `json:"receiverId"`
	MessageText string             `json:"messageText"`
	MessageType models.MessageType `json:"messageType,omitempty"`
	ReplyToID   string             `json:"replyToId,omitempty"`
}

type MarkReadAction struct {
	MessageID string `json:"messageId"`
}

type TypingAction struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

func (SendMessageAction) Name() string { return ActionSendMessage }
func (MarkReadAction) Name() string    { return ActionMarkAsRead }
func (TypingAction) Name() string      { return ActionTyping }

func (SendMessageAction) action() {}
func (MarkReadAction) action()    {}
func (TypingAction) action()      {}

// ProtocolError reports a frame that could not be decoded into an Action.
type ProtocolError struct {
	Action  string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Action == "" {
		return e.Message
	}
	return e.Action + ": " + e.Message
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseAction decodes a client frame of the form {"event": ..., "data": {...}}.
func ParseAction(frame []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &ProtocolError{Message: "malformed frame"}
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}

	switch env.Event {
	case ActionSendMessage:
		var a SendMessageAction
		if err := decodeStrict(data, &a); err != nil {
			return nil, &ProtocolError{Action: env.Event, Message: err.Error()}
		}
		return a, nil
	case ActionMarkAsRead:
		var a MarkReadAction
		if err := decodeStrict(data, &a); err != nil {
			return nil, &ProtocolError{Action: env.Event, Message: err.Error()}
		}
		if a.MessageID == "" {
			return nil, &ProtocolError{Action: env.Event, Message: "messageId is required"}
		}
		return a, nil
	case ActionTyping:
		var a TypingAction
		if err := decodeStrict(data, &a); err != nil {
			return nil, &ProtocolError{Action: env.Event, Message: err.Error()}
		}
		return a, nil
	case "":
		return nil, &ProtocolError{Message: "event is required"}
	default:
		return nil, &ProtocolError{Action: env.Event, Message: fmt.Sprintf("unknown event %q", env.Event)}
	}
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

// SendRequest is a message submission by SenderID.
type SendRequest struct {
	SenderID   string
	ReceiverID string
	Text       string
	Type       models.MessageType
	ReplyToID  string
}

// SendMessage validates and persists a message, then pushes new_message to
// the receiver and message_sent to the sender, each only if connected.
// The message is stored as delivered.
func (r *Router) SendMessage(ctx context.Context, req SendRequest) (models.MessageDetails, error) {
	ctx, span := r.start(ctx, "send_message")
	span.SetAttributes(attribute.String("chat.sender_id", req.SenderID), attribute.String("chat.receiver_id", req.ReceiverID))

	details, err := r.sendMessage(ctx, req)
	return details, r.finish(span, "send_message", err)
}

func (r *Router) sendMessage(ctx context.Context, req SendRequest) (models.MessageDetails, error) {
	req, text, msgType, err := validateSend(req)
	if err != nil {
		return models.MessageDetails{}, err
	}

	var replyTo *models.ReplyPreview
	var replyToID *string
	if req.ReplyToID != "" {
		target, err := r.messages.GetMessage(ctx, req.ReplyToID)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.MessageDetails{}, validation("reply target not found")
		}
		if err != nil {
			return models.MessageDetails{}, internal("load reply target", err)
		}
		replyTo = models.NewReplyPreview(target)
		replyToID = &target.ID
	}

	participants, err := r.users.GetUsers(ctx, []string{req.SenderID, req.ReceiverID})
	if err != nil {
		return models.MessageDetails{}, internal("load participants", err)
	}
	byID := indexUsers(participants)
	receiver, ok := byID[req.ReceiverID]
	if !ok {
		return models.MessageDetails{}, validation("receiver not found")
	}
	sender, ok := byID[req.SenderID]
	if !ok {
		return models.MessageDetails{}, validation("sender not found")
	}

	id, err := r.newID()
	if err != nil {
		return models.MessageDetails{}, internal("generate message id", err)
	}

	saved, err := r.messages.Create(ctx, models.Message{
		ID:          id,
		SenderID:    req.SenderID,
		ReceiverID:  req.ReceiverID,
		Text:        text,
		Type:        msgType,
		IsDelivered: true,
		ReplyToID:   replyToID,
	})
	if err != nil {
		return models.MessageDetails{}, internal("persist message", err)
	}

	details := models.MessageDetails{
		Message:  saved,
		Sender:   sender.Summary(),
		Receiver: receiver.Summary(),
		ReplyTo:  replyTo,
	}
	r.log.Debug("message persisted",
		zap.String("message_id", saved.ID),
		zap.String("conversation", models.ConversationKey(saved.SenderID, saved.ReceiverID)))

	r.push(saved.ReceiverID, models.NewEvent(models.EventNewMessage, details))
	r.push(saved.SenderID, models.NewEvent(models.EventMessageSent, details))

	r.events.Emit(ctx, telemetry.EventMessageSent, saved.SenderID, map[string]any{
		"message_id":  saved.ID,
		"receiver_id": saved.ReceiverID,
		"type":        saved.Type,
	})
	return details, nil
}

// validateSend returns req with canonical ids, the trimmed text and the
// effective type.
func validateSend(req SendRequest) (SendRequest, string, models.MessageType, error) {
	if isReservedSender(req.SenderID) {
		return req, "", "", validation("sender is reserved")
	}
	if id, ok := canonicalID(req.SenderID); ok {
		req.SenderID = id
	}
	receiverID, ok := canonicalID(req.ReceiverID)
	if !ok {
		return req, "", "", validation("receiverId must be a valid user id")
	}
	req.ReceiverID = receiverID
	if req.SenderID == req.ReceiverID {
		return req, "", "", validation("cannot send a message to yourself")
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return req, "", "", validation("messageText is required")
	}
	if n := utf8.RuneCountInString(text); n > models.MaxMessageLength {
		return req, "", "", validation(fmt.Sprintf("messageText must be at most %d characters, got %d", models.MaxMessageLength, n))
	}

	msgType := req.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !msgType.Valid() {
		return req, "", "", validation(fmt.Sprintf("unsupported messageType %q", msgType))
	}

	if req.ReplyToID != "" {
		replyID, ok := canonicalID(req.ReplyToID)
		if !ok {
			return req, "", "", validation("replyToId must be a valid message id")
		}
		req.ReplyToID = replyID
	}
	return req, text, msgType, nil
}

func indexUsers(users []models.User) map[string]models.User {
	out := make(map[string]models.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out
}

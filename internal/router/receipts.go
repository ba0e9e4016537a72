package router

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

// MarkRead marks messageID read on behalf of its receiver and notifies the
// sender. Unknown messages, readers other than the receiver and messages
// already read are ignored, so repeating the call is harmless.
func (r *Router) MarkRead(ctx context.Context, readerID, messageID string) error {
	ctx, span := r.start(ctx, "mark_as_read")
	span.SetAttributes(attribute.String("chat.message_id", messageID))
	return r.finish(span, "mark_as_read", r.markRead(ctx, readerID, messageID))
}

func (r *Router) markRead(ctx context.Context, readerID, messageID string) error {
	messageID, ok := canonicalID(messageID)
	if !ok {
		return validation("messageId must be a valid message id")
	}

	senderID, flipped, err := r.messages.MarkRead(ctx, messageID, readerID)
	if err != nil {
		return internal("mark message read", err)
	}
	if !flipped {
		r.log.Debug("read receipt ignored",
			zap.String("message_id", messageID),
			zap.String("reader_id", readerID))
		return nil
	}

	r.push(senderID, models.NewEvent(models.EventMessageRead, models.MessageReadPayload{
		MessageID: messageID,
		ReadBy:    readerID,
	}))
	r.events.Emit(ctx, telemetry.EventMessageRead, readerID, map[string]any{
		"message_id": messageID,
		"sender_id":  senderID,
	})
	return nil
}

// SetTyping forwards a typing indicator. Nothing is stored and nothing is
// queued for an offline receiver.
func (r *Router) SetTyping(ctx context.Context, senderID, receiverID string, isTyping bool) error {
	_, span := r.start(ctx, "typing")
	var err error
	receiverID, ok := canonicalID(receiverID)
	switch {
	case !ok:
		err = validation("receiverId must be a valid user id")
	case receiverID == senderID:
		err = validation("cannot send typing state to yourself")
	default:
		r.push(receiverID, models.NewEvent(models.EventUserTyping, models.TypingPayload{
			UserID:   senderID,
			IsTyping: isTyping,
		}))
	}
	return r.finish(span, "typing", err)
}

// DeleteMessage soft-deletes a message. Only its sender may do so. No event
// is pushed; deleted messages disappear from history and reply previews.
func (r *Router) DeleteMessage(ctx context.Context, requesterID, messageID string) error {
	ctx, span := r.start(ctx, "delete_message")
	span.SetAttributes(attribute.String("chat.message_id", messageID))
	return r.finish(span, "delete_message", r.deleteMessage(ctx, requesterID, messageID))
}

func (r *Router) deleteMessage(ctx context.Context, requesterID, messageID string) error {
	messageID, ok := canonicalID(messageID)
	if !ok {
		return notFound("message not found")
	}

	msg, err := r.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return notFound("message not found")
	}
	if err != nil {
		return internal("load message", err)
	}
	if msg.SenderID != requesterID {
		return forbidden("only the sender can delete a message")
	}
	if msg.IsDeleted {
		return nil
	}

	err = r.messages.MarkDeleted(ctx, messageID, requesterID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return notFound("message not found")
	}
	if err != nil {
		return internal("delete message", err)
	}

	r.events.Emit(ctx, telemetry.EventMessageDeleted, requesterID, map[string]any{
		"message_id":  messageID,
		"receiver_id": msg.ReceiverID,
	})
	return nil
}

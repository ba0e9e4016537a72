package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

const (
	DefaultHistoryLimit      = 50
	DefaultConversationLimit = 20
	MaxPageLimit             = 100
)

// PageRequest selects a page. Zero values pick the defaults.
type PageRequest struct {
	Page  int
	Limit int
}

func (p PageRequest) normalize(defaultLimit int) (PageRequest, error) {
	if p.Page < 0 {
		return p, validation("page must be at least 1")
	}
	if p.Limit < 0 || p.Limit > MaxPageLimit {
		return p, validation(fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit))
	}
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Limit == 0 {
		p.Limit = defaultLimit
	}
	return p, nil
}

func (p PageRequest) offset() int {
	return (p.Page - 1) * p.Limit
}

// History returns one page of the conversation between userID and otherID,
// oldest first, skipping deleted messages. Everything otherID sent to userID
// is marked read as a side effect; no receipts are pushed for it.
func (r *Router) History(ctx context.Context, userID, otherID string, page PageRequest) (models.HistoryPage, error) {
	ctx, span := r.start(ctx, "history")
	out, err := r.history(ctx, userID, otherID, page)
	return out, r.finish(span, "history", err)
}

func (r *Router) history(ctx context.Context, userID, otherID string, page PageRequest) (models.HistoryPage, error) {
	otherID, ok := canonicalID(otherID)
	if !ok {
		return models.HistoryPage{}, validation("userId must be a valid user id")
	}
	page, err := page.normalize(DefaultHistoryLimit)
	if err != nil {
		return models.HistoryPage{}, err
	}

	msgs, err := r.messages.ListConversation(ctx, userID, otherID, page.Limit, page.offset())
	if err != nil {
		return models.HistoryPage{}, internal("list conversation", err)
	}
	total, err := r.messages.CountConversation(ctx, userID, otherID)
	if err != nil {
		return models.HistoryPage{}, internal("count conversation", err)
	}

	marked, err := r.messages.MarkConversationRead(ctx, userID, otherID)
	if err != nil {
		return models.HistoryPage{}, internal("mark conversation read", err)
	}
	if marked > 0 {
		for i := range msgs {
			if msgs[i].ReceiverID == userID {
				msgs[i].IsRead = true
			}
		}
		r.log.Debug("conversation marked read", zap.String("reader_id", userID), zap.Int64("messages", marked))
	}

	details, err := r.expand(ctx, msgs, []string{userID, otherID})
	if err != nil {
		return models.HistoryPage{}, err
	}

	return models.HistoryPage{
		Messages: details,
		Pagination: models.Pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      total,
			TotalPages: totalPages(total, page.Limit),
		},
	}, nil
}

func totalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// expand attaches participants and reply previews to msgs.
func (r *Router) expand(ctx context.Context, msgs []models.Message, userIDs []string) ([]models.MessageDetails, error) {
	out := make([]models.MessageDetails, 0, len(msgs))
	if len(msgs) == 0 {
		return out, nil
	}

	users, err := r.users.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, internal("load participants", err)
	}
	byUser := indexUsers(users)

	var replyIDs []string
	seen := map[string]bool{}
	for _, m := range msgs {
		if m.ReplyToID != nil && !seen[*m.ReplyToID] {
			seen[*m.ReplyToID] = true
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}
	replies := map[string]models.Message{}
	if len(replyIDs) > 0 {
		found, err := r.messages.GetMessages(ctx, replyIDs)
		if err != nil {
			return nil, internal("load reply targets", err)
		}
		for _, m := range found {
			replies[m.ID] = m
		}
	}

	for _, m := range msgs {
		d := models.MessageDetails{
			Message:  m,
			Sender:   summaryOf(byUser, m.SenderID),
			Receiver: summaryOf(byUser, m.ReceiverID),
		}
		if m.ReplyToID != nil {
			if target, ok := replies[*m.ReplyToID]; ok {
				d.ReplyTo = models.NewReplyPreview(target)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func summaryOf(users map[string]models.User, id string) models.UserSummary {
	if u, ok := users[id]; ok {
		return u.Summary()
	}
	return models.UserSummary{ID: id}
}

// Conversations lists userID's conversations, most recent first, with the
// latest visible message and the number of unread messages in each.
func (r *Router) Conversations(ctx context.Context, userID string, page PageRequest) (models.ConversationPage, error) {
	ctx, span := r.start(ctx, "conversations")
	out, err := r.conversations(ctx, userID, page)
	return out, r.finish(span, "conversations", err)
}

func (r *Router) conversations(ctx context.Context, userID string, page PageRequest) (models.ConversationPage, error) {
	page, err := page.normalize(DefaultConversationLimit)
	if err != nil {
		return models.ConversationPage{}, err
	}

	rows, err := r.messages.ListConversations(ctx, userID, page.Limit, page.offset())
	if err != nil {
		return models.ConversationPage{}, internal("list conversations", err)
	}
	total, err := r.messages.CountConversations(ctx, userID)
	if err != nil {
		return models.ConversationPage{}, internal("count conversations", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.CounterpartID)
	}
	byUser := map[string]models.User{}
	if len(ids) > 0 {
		users, err := r.users.GetUsers(ctx, ids)
		if err != nil {
			return models.ConversationPage{}, internal("load counterparts", err)
		}
		byUser = indexUsers(users)
	}

	list := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		counterpart := models.Counterpart{
			UserSummary: summaryOf(byUser, row.CounterpartID),
			IsOnline:    r.registry.IsOnline(row.CounterpartID),
		}
		if u, ok := byUser[row.CounterpartID]; ok {
			counterpart.LastSeen = u.LastSeen
		}
		list = append(list, models.ConversationSummary{
			User:        counterpart,
			LastMessage: row.Message,
			UnreadCount: row.UnreadCount,
		})
	}

	return models.ConversationPage{
		Conversations: list,
		Pagination: models.Pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      total,
			TotalPages: totalPages(total, page.Limit),
		},
	}, nil
}

// Presence reports whether userID is connected to this relay and when it
// was last seen. The registry decides isOnline; the store only supplies
// the last-seen time.
func (r *Router) Presence(ctx context.Context, userID string) (models.PresencePayload, error) {
	ctx, span := r.start(ctx, "presence")
	out, err := r.presence(ctx, userID)
	return out, r.finish(span, "presence", err)
}

func (r *Router) presence(ctx context.Context, userID string) (models.PresencePayload, error) {
	userID, ok := canonicalID(userID)
	if !ok {
		return models.PresencePayload{}, validation("userId must be a valid user id")
	}
	user, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.PresencePayload{}, notFound("user not found")
	}
	if err != nil {
		return models.PresencePayload{}, internal("load user", err)
	}

	out := models.PresencePayload{UserID: userID, IsOnline: r.registry.IsOnline(userID)}
	if !out.IsOnline && !user.LastSeen.IsZero() {
		seen := user.LastSeen.UTC()
		out.LastSeen = &seen
	}
	return out, nil
}

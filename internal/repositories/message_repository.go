package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-relay/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, sender_id, receiver_id, message_text, message_type, is_read, is_delivered, is_deleted, reply_to_id, created_at, updated_at`

// MessageRepository defines storage operations for one-to-one messages.
type MessageRepository interface {
	Create(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID, readerID string) (senderID string, flipped bool, err error)
	MarkDeleted(ctx context.Context, messageID, senderID string) error
	ListConversation(ctx context.Context, userID, otherID string, limit, offset int) ([]models.Message, error)
	CountConversation(ctx context.Context, userID, otherID string) (int, error)
	MarkConversationRead(ctx context.Context, readerID, senderID string) (int64, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]models.ConversationRow, error)
	CountConversations(ctx context.Context, userID string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create stores msg and returns the row as persisted.
func (r *MessageRepo) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	var out models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, sender_id, receiver_id, message_text, message_type, is_delivered, reply_to_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+messageColumns,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.Type, msg.IsDelivered, msg.ReplyToID).
		StructScan(&out)
	return out, err
}

// GetMessage retrieves a single message, deleted or not.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetMessages fetches several messages by id. Unknown ids are skipped.
func (r *MessageRepo) GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	msgs := []models.Message{}
	if len(messageIDs) == 0 {
		return msgs, nil
	}
	query, args, err := sqlx.In(`SELECT `+messageColumns+` FROM messages WHERE id IN (?)`, messageIDs)
	if err != nil {
		return nil, err
	}
	err = r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), args...)
	return msgs, err
}

// MarkRead flips the read flag when readerID is the receiver and the message
// is still unread. flipped is false when nothing changed.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID, readerID string) (string, bool, error) {
	var senderID string
	err := r.db.GetContext(ctx, &senderID, `UPDATE messages SET is_read = TRUE, updated_at = NOW()
        WHERE id=$1 AND receiver_id=$2 AND is_read = FALSE RETURNING sender_id`, messageID, readerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return senderID, true, nil
}

// MarkDeleted soft-deletes a message owned by senderID.
func (r *MessageRepo) MarkDeleted(ctx context.Context, messageID, senderID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_deleted = TRUE, updated_at = NOW() WHERE id=$1 AND sender_id=$2`, messageID, senderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListConversation returns visible messages between two users, oldest first.
func (r *MessageRepo) ListConversation(ctx context.Context, userID, otherID string, limit, offset int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))
        AND is_deleted = FALSE
        ORDER BY created_at ASC, id ASC
        LIMIT $3 OFFSET $4`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, userID, otherID, limit, offset)
	return msgs, err
}

// CountConversation counts visible messages between two users.
func (r *MessageRepo) CountConversation(ctx context.Context, userID, otherID string) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages
        WHERE ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))
        AND is_deleted = FALSE`, userID, otherID)
	return total, err
}

// MarkConversationRead marks everything senderID sent to readerID as read.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, readerID, senderID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE, updated_at = NOW()
        WHERE sender_id=$1 AND receiver_id=$2 AND is_read = FALSE`, senderID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListConversations returns the latest visible message per counterpart,
// newest conversation first, with the count of unread messages from them.
func (r *MessageRepo) ListConversations(ctx context.Context, userID string, limit, offset int) ([]models.ConversationRow, error) {
	query := `SELECT latest.*,
            (SELECT COUNT(*) FROM messages u
             WHERE u.sender_id = latest.counterpart_id AND u.receiver_id = $1
             AND u.is_read = FALSE AND u.is_deleted = FALSE) AS unread_count
        FROM (
            SELECT DISTINCT ON (counterpart_id) counterpart_id, ` + messageColumns + `
            FROM (
                SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS counterpart_id, ` + messageColumns + `
                FROM messages
                WHERE (sender_id = $1 OR receiver_id = $1) AND is_deleted = FALSE
            ) mine
            ORDER BY counterpart_id, created_at DESC
        ) latest
        ORDER BY latest.created_at DESC
        LIMIT $2 OFFSET $3`
	rows := []models.ConversationRow{}
	err := r.db.SelectContext(ctx, &rows, query, userID, limit, offset)
	return rows, err
}

// CountConversations counts the distinct counterparts userID has visible
// messages with.
func (r *MessageRepo) CountConversations(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(DISTINCT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END)
        FROM messages
        WHERE (sender_id = $1 OR receiver_id = $1) AND is_deleted = FALSE`, userID)
	return total, err
}

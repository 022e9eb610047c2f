package message

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

const (
	pqForeignKeyViolation       = "23503"
	pqInvalidTextRepresentation = "22P02"

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Insert writes the message and reads it back joined with the sender's
// display name. sent_at never goes backwards within a conversation.
func (s *SQLStore) Insert(ctx context.Context, m New) (*Message, error) {
	if m.Kind != KindText && m.Kind != KindImage {
		return nil, ErrInvalidKind
	}

	query := `
		WITH inserted AS (
			INSERT INTO messages (conversation_id, sender_id, body, kind, filename, sent_at)
			VALUES ($1, $2, $3, $4, $5, GREATEST(
				clock_timestamp(),
				COALESCE((SELECT MAX(sent_at) FROM messages WHERE conversation_id = $1), '-infinity')
			))
			RETURNING id, conversation_id, sender_id, body, kind, filename, sent_at
		)
		SELECT i.id, i.conversation_id, i.sender_id, COALESCE(u.username, ''), i.body, i.kind, COALESCE(i.filename, ''), i.sent_at
		FROM inserted i
		LEFT JOIN users u ON u.id = i.sender_id
	`

	var filename sql.NullString
	if m.Filename != "" {
		filename = sql.NullString{String: m.Filename, Valid: true}
	}

	row := s.db.QueryRowContext(ctx, query, m.ConversationID, m.SenderID, m.Body, string(m.Kind), filename)

	var msg Message
	if err := scanMessage(row, &msg); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && (pqErr.Code == pqForeignKeyViolation || pqErr.Code == pqInvalidTextRepresentation) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	return &msg, nil
}

func (s *SQLStore) History(ctx context.Context, conversationID string, beforeID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	query := `
		SELECT id, conversation_id, sender_id, username, body, kind, filename, sent_at
		FROM (
			SELECT m.id, m.conversation_id, m.sender_id, COALESCE(u.username, '') AS username,
				m.body, m.kind, COALESCE(m.filename, '') AS filename, m.sent_at
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.conversation_id = $1 AND ($2::bigint = 0 OR m.id < $2::bigint)
			ORDER BY m.sent_at DESC, m.id DESC
			LIMIT $3
		) recent
		ORDER BY sent_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner, msg *Message) error {
	var kind string
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderDisplayName,
		&msg.Body, &kind, &msg.Filename, &msg.SentAt); err != nil {
		return err
	}
	msg.Kind = Kind(kind)
	return nil
}

package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/samber/lo"
)

const (
	pqUniqueViolation           = "23505"
	pqForeignKeyViolation       = "23503"
	pqInvalidTextRepresentation = "22P02"

	previewLength = 200
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// PairKey returns the canonical key of the unordered pair {a, b}.
// Ids are length-prefixed so no separator can make two pairs collide.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%s:%s", len(a), a, b)
}

func (s *SQLStore) FindTwoParty(ctx context.Context, userAID, userBID string) (*Conversation, error) {
	if userAID == "" || userBID == "" || userAID == userBID {
		return nil, ErrInvalidParticipants
	}

	query := `
		SELECT c.id, c.created_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		GROUP BY c.id, c.created_at
		HAVING COUNT(*) = 2
			AND COUNT(*) FILTER (WHERE p.user_id IN ($1, $2)) = 2
		ORDER BY c.created_at ASC, c.id ASC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, userAID, userBID)

	var convo Conversation
	if err := row.Scan(&convo.ID, &convo.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	convo.Participants = sortedPair(userAID, userBID)

	return &convo, nil
}

func (s *SQLStore) Create(ctx context.Context, participantIDs []string) (convo *Conversation, err error) {
	members := lo.Uniq(lo.Compact(participantIDs))
	if len(members) < 2 {
		return nil, ErrInvalidParticipants
	}

	var pairKey sql.NullString
	if len(members) == 2 {
		pairKey = sql.NullString{String: PairKey(members[0], members[1]), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	convoInsert := `
		INSERT INTO conversations (pair_key)
		VALUES ($1)
		RETURNING id, created_at
	`

	convo = &Conversation{Participants: members}
	if err = tx.QueryRowContext(ctx, convoInsert, pairKey).Scan(&convo.ID, &convo.CreatedAt); err != nil {
		return nil, translate(err)
	}

	memberInsert := `
		INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
		VALUES ($1, $2, $3)
	`

	for _, memberID := range members {
		if _, err = tx.ExecContext(ctx, memberInsert, convo.ID, memberID, convo.CreatedAt); err != nil {
			return nil, translate(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return convo, nil
}

func (s *SQLStore) Participants(ctx context.Context, conversationID string) ([]Participant, error) {
	query := `
		SELECT p.user_id, COALESCE(u.username, '')
		FROM conversation_participants p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1
		ORDER BY p.joined_at ASC, p.user_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqInvalidTextRepresentation {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.DisplayName); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, ErrConversationNotFound
	}

	return participants, nil
}

func (s *SQLStore) ForUser(ctx context.Context, userID string) ([]Summary, error) {
	query := `
		SELECT c.id, c.created_at,
			array_agg(p.user_id ORDER BY p.user_id),
			array_agg(COALESCE(u.username, '') ORDER BY p.user_id),
			lm.body, lm.kind, lm.sent_at
		FROM conversations c
		JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = $1
		JOIN conversation_participants p ON p.conversation_id = c.id
		LEFT JOIN users u ON u.id = p.user_id
		LEFT JOIN LATERAL (
			SELECT left(m.body, $2) AS body, m.kind, m.sent_at
			FROM messages m
			WHERE m.conversation_id = c.id
			ORDER BY m.sent_at DESC, m.id DESC
			LIMIT 1
		) lm ON TRUE
		GROUP BY c.id, c.created_at, lm.body, lm.kind, lm.sent_at
		ORDER BY COALESCE(lm.sent_at, c.created_at) DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, previewLength)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	summaries := []Summary{}
	for rows.Next() {
		var (
			summary Summary
			ids     []string
			names   []string
			body    sql.NullString
			kind    sql.NullString
			sentAt  sql.NullTime
		)
		if err := rows.Scan(&summary.ID, &summary.CreatedAt, pq.Array(&ids), pq.Array(&names), &body, &kind, &sentAt); err != nil {
			return nil, err
		}
		summary.Participants = make([]Participant, 0, len(ids))
		for i, id := range ids {
			p := Participant{UserID: id}
			if i < len(names) {
				p.DisplayName = names[i]
			}
			summary.Participants = append(summary.Participants, p)
		}
		if sentAt.Valid {
			summary.LastMessage = &Preview{Body: body.String, Kind: kind.String, SentAt: sentAt.Time}
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicatePair, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrInvalidParticipants, pqErr.Message)
		}
	}
	return err
}

func sortedPair(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

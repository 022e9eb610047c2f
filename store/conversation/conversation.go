//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../../mocks/mock_conversation_store.go -package=mocks -mock_names=Store=MockConversationStore
package conversation

import (
	"context"
	"errors"
	"time"
)

// Conversation represents a chat thread between users.
type Conversation struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Participants []string  `json:"participants"`
}

// Participant is a member of a conversation together with its display name.
type Participant struct {
	UserID      string `json:"id"`
	DisplayName string `json:"username"`
}

// Preview is the most recent message of a conversation.
type Preview struct {
	Body   string    `json:"text"`
	Kind   string    `json:"type"`
	SentAt time.Time `json:"timestamp"`
}

// Summary is one entry of a user's conversation list.
type Summary struct {
	ID           string        `json:"id"`
	CreatedAt    time.Time     `json:"created_at"`
	Participants []Participant `json:"participants"`
	LastMessage  *Preview      `json:"last_message,omitempty"`
}

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrDuplicatePair        = errors.New("two-party conversation already exists")
	ErrInvalidParticipants  = errors.New("a conversation needs at least two distinct participants")
)

// Store defines conversation persistence operations.
type Store interface {
	// FindTwoParty returns the conversation whose participant set is exactly {userAID, userBID}.
	FindTwoParty(ctx context.Context, userAID, userBID string) (*Conversation, error)
	// Create persists a conversation and its participant rows as one unit.
	Create(ctx context.Context, participantIDs []string) (*Conversation, error)
	Participants(ctx context.Context, conversationID string) ([]Participant, error)
	ForUser(ctx context.Context, userID string) ([]Summary, error)
}

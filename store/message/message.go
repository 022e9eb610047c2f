//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../../mocks/mock_message_store.go -package=mocks -mock_names=Store=MockMessageStore
package message

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Message is a persisted, hydrated chat message. Messages are never mutated.
type Message struct {
	ID                int64     `json:"id"`
	ConversationID    string    `json:"conversationId"`
	SenderID          string    `json:"senderId"`
	SenderDisplayName string    `json:"senderDisplayName"`
	Body              string    `json:"body"`
	Kind              Kind      `json:"kind"`
	Filename          string    `json:"filename,omitempty"`
	SentAt            time.Time `json:"timestamp"`
}

// New carries the fields of a message that the sender controls.
type New struct {
	ConversationID string
	SenderID       string
	Body           string
	Kind           Kind
	Filename       string
}

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidKind          = errors.New("invalid message kind")
)

// Store defines message persistence operations.
type Store interface {
	// Insert persists m, assigns its canonical timestamp and returns the hydrated record.
	Insert(ctx context.Context, m New) (*Message, error)
	// History returns up to limit messages older than beforeID (0 means newest), oldest first.
	History(ctx context.Context, conversationID string, beforeID int64, limit int) ([]Message, error)
}

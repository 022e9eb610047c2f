package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/fitcoach/coachchat/store/conversation"
)

// Directory resolves user pairs to canonical conversations.
type Directory struct {
	store conversation.Store
	log   *slog.Logger
}

func NewDirectory(store conversation.Store, log *slog.Logger) *Directory {
	return &Directory{store: store, log: log}
}

// Find returns the conversation whose participant set is exactly {userA, userB}.
func (d *Directory) Find(ctx context.Context, userA, userB string) (string, bool, error) {
	convo, err := d.store.FindTwoParty(ctx, userA, userB)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("find conversation: %w", err)
	}
	return convo.ID, true, nil
}

// Create persists a new conversation with its participants. No id is
// returned unless the conversation and all participant rows were stored.
func (d *Directory) Create(ctx context.Context, participantIDs []string) (string, error) {
	convo, err := d.store.Create(ctx, participantIDs)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	d.log.Info("Conversation created",
		"conversation_id", convo.ID,
		"participants", len(convo.Participants))
	return convo.ID, nil
}

// FindOrCreate returns the two-party conversation between userA and userB,
// creating it on first contact. When a concurrent caller wins the creation
// race the store rejects the duplicate pair and the winner is returned.
func (d *Directory) FindOrCreate(ctx context.Context, userA, userB string) (string, bool, error) {
	id, found, err := d.Find(ctx, userA, userB)
	if err != nil || found {
		return id, false, err
	}

	id, err = d.Create(ctx, []string{userA, userB})
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, conversation.ErrDuplicatePair) {
		return "", false, err
	}

	d.log.Info("Concurrent first contact, reusing existing conversation",
		"user_a", userA,
		"user_b", userB)
	id, found, err = d.Find(ctx, userA, userB)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, fmt.Errorf("create conversation: %w", conversation.ErrDuplicatePair)
	}
	return id, false, nil
}

func (d *Directory) Participants(ctx context.Context, conversationID string) ([]conversation.Participant, error) {
	return d.store.Participants(ctx, conversationID)
}

func (d *Directory) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	participants, err := d.store.Participants(ctx, conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return false, nil
		}
		return false, err
	}
	return lo.ContainsBy(participants, func(p conversation.Participant) bool {
		return p.UserID == userID
	}), nil
}

func (d *Directory) ForUser(ctx context.Context, userID string) ([]conversation.Summary, error) {
	return d.store.ForUser(ctx, userID)
}

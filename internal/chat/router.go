package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/fitcoach/coachchat/internal/auth"
	"github.com/fitcoach/coachchat/store/conversation"
	"github.com/fitcoach/coachchat/store/message"
)

// Broadcaster delivers an encoded event to every live connection of the given users
// and reports how many connections accepted it.
type Broadcaster interface {
	FanoutMany(userIDs []string, payload []byte) int
}

type Options struct {
	// VerifyMembership rejects sends from users who are not participants.
	VerifyMembership bool
	// PersistTimeout bounds a single insert. Zero means no extra bound.
	PersistTimeout time.Duration
}

// Router takes an inbound send through authorization, persistence and fan-out.
type Router struct {
	directory *Directory
	messages  message.Store
	out       Broadcaster
	opts      Options
	locks     *keyedMutex
	log       *slog.Logger
}

func NewRouter(directory *Directory, messages message.Store, out Broadcaster, opts Options, log *slog.Logger) *Router {
	return &Router{
		directory: directory,
		messages:  messages,
		out:       out,
		opts:      opts,
		locks:     newKeyedMutex(),
		log:       log,
	}
}

// HandleFrame decodes a raw inbound frame and routes it. Frames of unknown
// type are ignored.
func (r *Router) HandleFrame(ctx context.Context, sender auth.Identity, raw []byte) (*message.Message, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if frame.Type != FrameSendMessage {
		r.log.Debug("Ignoring frame", "type", frame.Type, "user_id", sender.UserID)
		return nil, nil
	}
	var req SendRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return r.Handle(ctx, sender, req)
}

// Handle processes one send. The returned error describes why a message was
// dropped; nothing is reported back to the sender.
func (r *Router) Handle(ctx context.Context, sender auth.Identity, req SendRequest) (*message.Message, error) {
	if req.SenderID != sender.UserID {
		r.log.Warn("Dropping message with mismatched sender",
			"user_id", sender.UserID,
			"claimed_sender_id", req.SenderID,
			"conversation_id", req.ConversationID)
		return nil, ErrIdentityMismatch
	}

	req.normalize()
	if err := validate.Struct(req); err != nil {
		r.log.Info("Dropping invalid message",
			"user_id", sender.UserID,
			"conversation_id", req.ConversationID,
			"error", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	unlock := r.locks.Lock(req.ConversationID)
	defer unlock()

	var participants []conversation.Participant
	if r.opts.VerifyMembership {
		var err error
		participants, err = r.directory.Participants(ctx, req.ConversationID)
		if err != nil {
			if errors.Is(err, conversation.ErrConversationNotFound) {
				return nil, ErrUnknownConversation
			}
			return nil, fmt.Errorf("load participants: %w", err)
		}
		if !lo.ContainsBy(participants, func(p conversation.Participant) bool { return p.UserID == sender.UserID }) {
			r.log.Warn("Dropping message from non-participant",
				"user_id", sender.UserID,
				"conversation_id", req.ConversationID)
			return nil, ErrNotParticipant
		}
	}

	msg, err := r.persist(ctx, req)
	if err != nil {
		if errors.Is(err, message.ErrConversationNotFound) {
			return nil, ErrUnknownConversation
		}
		r.log.Error("Failed to persist message",
			"user_id", sender.UserID,
			"conversation_id", req.ConversationID,
			"error", err)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	// Participants are never removed, so a set read before the insert is
	// still current.
	if participants == nil {
		participants, err = r.directory.Participants(ctx, req.ConversationID)
		if err != nil {
			r.log.Error("Message stored but participants unavailable",
				"message_id", msg.ID,
				"conversation_id", msg.ConversationID,
				"error", err)
			return msg, fmt.Errorf("%w: %w", ErrDeliveryAborted, err)
		}
	}

	payload, err := EncodeDelivery(*msg)
	if err != nil {
		return msg, fmt.Errorf("%w: %w", ErrDeliveryAborted, err)
	}

	recipients := append(lo.Map(participants, func(p conversation.Participant, _ int) string {
		return p.UserID
	}), sender.UserID)
	delivered := r.out.FanoutMany(recipients, payload)

	r.log.Debug("Message delivered",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"participants", len(participants),
		"connections", delivered)
	return msg, nil
}

func (r *Router) persist(ctx context.Context, req SendRequest) (*message.Message, error) {
	if r.opts.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.PersistTimeout)
		defer cancel()
	}
	return r.messages.Insert(ctx, message.New{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Body:           req.Body,
		Kind:           req.Kind,
		Filename:       req.Filename,
	})
}

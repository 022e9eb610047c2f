package chat

import "errors"

var (
	ErrIdentityMismatch    = errors.New("sender does not match authenticated identity")
	ErrInvalidMessage      = errors.New("invalid message")
	ErrNotParticipant      = errors.New("sender is not a participant of the conversation")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrPersistence         = errors.New("message could not be persisted")
	ErrDeliveryAborted     = errors.New("message persisted but participants could not be resolved")
)

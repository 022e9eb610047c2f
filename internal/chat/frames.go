package chat

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/fitcoach/coachchat/store/message"
)

const (
	FrameSendMessage    = "sendMessage"
	FrameReceiveMessage = "receiveMessage"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SendRequest is the inbound send event.
type SendRequest struct {
	ConversationID string       `json:"conversationId" validate:"required,uuid"`
	SenderID       string       `json:"senderId" validate:"required"`
	Body           string       `json:"body" validate:"required"`
	Kind           message.Kind `json:"kind" validate:"oneof=text image"`
	Filename       string       `json:"filename,omitempty" validate:"required_if=Kind image,max=255"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// normalize applies defaults: a missing kind means text, and text carries no filename.
func (r *SendRequest) normalize() {
	if r.Kind == "" {
		r.Kind = message.KindText
	}
	if r.Kind == message.KindText {
		r.Filename = ""
	}
}

// EncodeDelivery renders the outbound delivery event for a hydrated message.
func EncodeDelivery(m message.Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: FrameReceiveMessage, Payload: payload})
}

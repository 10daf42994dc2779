package socket

import (
	"encoding/json"

	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/model"
)

type Event string

// Outbound events.
const (
	EventSetup      Event = "setup"
	EventJoinChat   Event = "join_chat"
	EventTyping     Event = "typing"
	EventStopTyping Event = "stop_typing"
	EventNewMessage Event = "new_message"
)

// Inbound events. EventMessageReceived keeps the backend's spelling; it is
// the wire contract.
const (
	EventConnected       Event = "connected"
	EventMessageReceived Event = "message_recieved"
)

// Frame is the envelope for every channel event in both directions.
type Frame struct {
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newFrame(event Event, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Payload: data}, nil
}

// SetupPayload registers the channel for a user id.
type SetupPayload struct {
	UserID string `json:"userId"`
}

// ChatRef scopes join_chat, typing and stop_typing frames to one chat.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// MessagePayload carries a full message on new_message / message_recieved.
type MessagePayload = model.Message

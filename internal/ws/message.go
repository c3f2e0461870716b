package ws

import (
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/syncer"
)

type EventType string

const (
	// от моста к view
	EventHello  EventType = "hello"
	EventUpdate EventType = "update"
	EventError  EventType = "error"

	// от view к мосту
	EventTyping        EventType = "typing"
	EventRefreshOnline EventType = "refresh_online"
)

// IncomingMessage is what a view sends over /events.
type IncomingMessage struct {
	Type           EventType `json:"type"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	IsTyping       bool      `json:"is_typing,omitempty"`
}

// OutgoingMessage is what the bridge sends to a view.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// HelloPayload is the first frame on every view connection.
type HelloPayload struct {
	ClientID string      `json:"client_id"`
	State    string      `json:"state"`
	User     *model.User `json:"user"`
}

func updateMessage(u syncer.Update) OutgoingMessage {
	return OutgoingMessage{Type: EventUpdate, Payload: u}
}

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/messenger-client/internal/model"
)

// Inbound event names.
const (
	EventNewMessage            = "newMessage"
	EventMessageUpdated        = "messageUpdated"
	EventMessageDeleted        = "messageDeleted"
	EventMessageReactionUpdate = "messageReactionUpdate"
	EventMessageRead           = "messageRead"
	EventNewConversation       = "newConversation"
	EventConversationUpdated   = "conversationUpdated"
	EventParticipantAdded      = "participantAdded"
	EventParticipantRemoved    = "participantRemoved"
	EventPresenceUpdate        = "presenceUpdate"
	EventTypingUpdate          = "typingUpdate"
	EventOnlineUsers           = "onlineUsers"
)

// Outbound intent names.
const (
	IntentJoinConversations = "joinConversations"
	IntentTyping            = "typing"
	IntentStartPrivateChat  = "startPrivateChat"
	IntentGetOnlineUsers    = "getOnlineUsers"
)

var ErrUnknownEvent = errors.New("realtime: unknown event")

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded inbound event. The set of implementations is closed:
// Dispatch calls exactly one Handler method, so adding an event kind is a
// compile error in every Handler until it is handled.
type Event interface {
	Name() string
	Dispatch(h Handler)
}

// Handler receives every inbound event kind.
type Handler interface {
	OnNewMessage(NewMessage)
	OnMessageUpdated(MessageUpdated)
	OnMessageDeleted(MessageDeleted)
	OnMessageReactionUpdate(MessageReactionUpdate)
	OnMessageRead(MessageRead)
	OnNewConversation(NewConversation)
	OnConversationUpdated(ConversationUpdated)
	OnParticipantAdded(ParticipantAdded)
	OnParticipantRemoved(ParticipantRemoved)
	OnPresenceUpdate(PresenceUpdate)
	OnTypingUpdate(TypingUpdate)
	OnOnlineUsers(OnlineUsers)
}

type NewMessage struct{ Message *model.Message }

type MessageUpdated struct{ Message *model.Message }

type MessageDeleted struct {
	MessageID      int64 `json:"messageId"`
	ConversationID int64 `json:"conversationId"`
}

// MessageReactionUpdate carries the full message with its new reactions.
type MessageReactionUpdate struct{ Message *model.Message }

// MessageRead: ConversationID may be zero when the server omits it.
type MessageRead struct {
	MessageID      int64  `json:"messageId"`
	ConversationID int64  `json:"conversationId,omitempty"`
	UserID         int64  `json:"userId"`
	Username       string `json:"username"`
}

// Receipt builds the read receipt this event describes.
func (e MessageRead) Receipt() model.ReadReceipt {
	return model.ReadReceipt{
		MessageID: e.MessageID,
		UserID:    e.UserID,
		User:      &model.User{ID: e.UserID, Username: e.Username},
	}
}

type NewConversation struct{ Conversation *model.Conversation }

type ConversationUpdated struct{ Conversation *model.Conversation }

type ParticipantAdded struct {
	ConversationID int64              `json:"conversationId"`
	Participant    *model.Participant `json:"participant"`
}

type ParticipantRemoved struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
}

type PresenceUpdate struct {
	UserID int64                `json:"userId"`
	Status model.PresenceStatus `json:"status"`
}

// TypingUpdate replaces the whole typing list of a conversation.
type TypingUpdate struct {
	ConversationID int64         `json:"conversationId"`
	TypingUsers    []*model.User `json:"typingUsers"`
}

// OnlineUsers is the reply to getOnlineUsers.
type OnlineUsers struct{ Users []*model.User }

func (NewMessage) Name() string            { return EventNewMessage }
func (MessageUpdated) Name() string        { return EventMessageUpdated }
func (MessageDeleted) Name() string        { return EventMessageDeleted }
func (MessageReactionUpdate) Name() string { return EventMessageReactionUpdate }
func (MessageRead) Name() string           { return EventMessageRead }
func (NewConversation) Name() string       { return EventNewConversation }
func (ConversationUpdated) Name() string   { return EventConversationUpdated }
func (ParticipantAdded) Name() string      { return EventParticipantAdded }
func (ParticipantRemoved) Name() string    { return EventParticipantRemoved }
func (PresenceUpdate) Name() string        { return EventPresenceUpdate }
func (TypingUpdate) Name() string          { return EventTypingUpdate }
func (OnlineUsers) Name() string           { return EventOnlineUsers }

func (e NewMessage) Dispatch(h Handler)            { h.OnNewMessage(e) }
func (e MessageUpdated) Dispatch(h Handler)        { h.OnMessageUpdated(e) }
func (e MessageDeleted) Dispatch(h Handler)        { h.OnMessageDeleted(e) }
func (e MessageReactionUpdate) Dispatch(h Handler) { h.OnMessageReactionUpdate(e) }
func (e MessageRead) Dispatch(h Handler)           { h.OnMessageRead(e) }
func (e NewConversation) Dispatch(h Handler)       { h.OnNewConversation(e) }
func (e ConversationUpdated) Dispatch(h Handler)   { h.OnConversationUpdated(e) }
func (e ParticipantAdded) Dispatch(h Handler)      { h.OnParticipantAdded(e) }
func (e ParticipantRemoved) Dispatch(h Handler)    { h.OnParticipantRemoved(e) }
func (e PresenceUpdate) Dispatch(h Handler)        { h.OnPresenceUpdate(e) }
func (e TypingUpdate) Dispatch(h Handler)          { h.OnTypingUpdate(e) }
func (e OnlineUsers) Dispatch(h Handler)           { h.OnOnlineUsers(e) }

// Decode turns a wire frame into a typed event.
func Decode(env Envelope) (Event, error) {
	switch env.Event {
	case EventNewMessage:
		m, err := decodeMessage(env)
		return NewMessage{Message: m}, err
	case EventMessageUpdated:
		m, err := decodeMessage(env)
		return MessageUpdated{Message: m}, err
	case EventMessageReactionUpdate:
		m, err := decodeMessage(env)
		return MessageReactionUpdate{Message: m}, err
	case EventMessageDeleted:
		var e MessageDeleted
		return e, decodeInto(env, &e)
	case EventMessageRead:
		var e MessageRead
		return e, decodeInto(env, &e)
	case EventNewConversation:
		c, err := decodeConversation(env)
		return NewConversation{Conversation: c}, err
	case EventConversationUpdated:
		c, err := decodeConversation(env)
		return ConversationUpdated{Conversation: c}, err
	case EventParticipantAdded:
		var e ParticipantAdded
		return e, decodeInto(env, &e)
	case EventParticipantRemoved:
		var e ParticipantRemoved
		return e, decodeInto(env, &e)
	case EventPresenceUpdate:
		var e PresenceUpdate
		if err := decodeInto(env, &e); err != nil {
			return e, err
		}
		if !e.Status.Valid() {
			return e, fmt.Errorf("realtime: %s: invalid status %q", env.Event, e.Status)
		}
		return e, nil
	case EventTypingUpdate:
		var e TypingUpdate
		return e, decodeInto(env, &e)
	case EventOnlineUsers:
		var users []*model.User
		if err := decodeInto(env, &users); err != nil {
			return OnlineUsers{}, err
		}
		if users == nil {
			users = []*model.User{}
		}
		return OnlineUsers{Users: users}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decodeInto(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("realtime: %s: empty payload", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("realtime: %s: %w", env.Event, err)
	}
	return nil
}

func decodeMessage(env Envelope) (*model.Message, error) {
	var m model.Message
	if err := decodeInto(env, &m); err != nil {
		return nil, err
	}
	if m.ID == 0 || m.ConversationID == 0 {
		return nil, fmt.Errorf("realtime: %s: message without id or conversationId", env.Event)
	}
	return &m, nil
}

func decodeConversation(env Envelope) (*model.Conversation, error) {
	var c model.Conversation
	if err := decodeInto(env, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Encode builds an outbound frame.
func Encode(name string, payload any) (Envelope, error) {
	env := Envelope{Event: name}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return env, fmt.Errorf("realtime: encode %s: %w", name, err)
	}
	env.Data = data
	return env, nil
}

// TypingPayload is the body of the typing intent.
type TypingPayload struct {
	ConversationID int64 `json:"conversationId"`
	IsTyping       bool  `json:"isTyping"`
}

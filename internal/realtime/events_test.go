package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
	last  Event
}

func (r *recorder) hit(name string, ev Event) {
	r.calls = append(r.calls, name)
	r.last = ev
}

func (r *recorder) OnNewMessage(e NewMessage)         { r.hit("newMessage", e) }
func (r *recorder) OnMessageUpdated(e MessageUpdated) { r.hit("messageUpdated", e) }
func (r *recorder) OnMessageDeleted(e MessageDeleted) { r.hit("messageDeleted", e) }
func (r *recorder) OnMessageReactionUpdate(e MessageReactionUpdate) {
	r.hit("messageReactionUpdate", e)
}
func (r *recorder) OnMessageRead(e MessageRead)                 { r.hit("messageRead", e) }
func (r *recorder) OnNewConversation(e NewConversation)         { r.hit("newConversation", e) }
func (r *recorder) OnConversationUpdated(e ConversationUpdated) { r.hit("conversationUpdated", e) }
func (r *recorder) OnParticipantAdded(e ParticipantAdded)       { r.hit("participantAdded", e) }
func (r *recorder) OnParticipantRemoved(e ParticipantRemoved)   { r.hit("participantRemoved", e) }
func (r *recorder) OnPresenceUpdate(e PresenceUpdate)           { r.hit("presenceUpdate", e) }
func (r *recorder) OnTypingUpdate(e TypingUpdate)               { r.hit("typingUpdate", e) }
func (r *recorder) OnOnlineUsers(e OnlineUsers)                 { r.hit("onlineUsers", e) }

func envelope(t *testing.T, name, data string) Envelope {
	t.Helper()
	return Envelope{Event: name, Data: json.RawMessage(data)}
}

func TestDecodeDispatchesEveryKind(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{EventNewMessage, `{"id":1,"conversationId":2,"senderId":3,"content":"hi","contentType":"TEXT"}`},
		{EventMessageUpdated, `{"id":1,"conversationId":2,"content":"edited"}`},
		{EventMessageDeleted, `{"messageId":1,"conversationId":2}`},
		{EventMessageReactionUpdate, `{"id":1,"conversationId":2,"reactions":[{"id":9,"messageId":1,"userId":3,"reaction":"👍"}]}`},
		{EventMessageRead, `{"messageId":1,"userId":3,"username":"bob"}`},
		{EventNewConversation, `{"id":2,"isGroup":false,"participants":[]}`},
		{EventConversationUpdated, `{"id":2,"isGroup":true,"name":"team"}`},
		{EventParticipantAdded, `{"conversationId":2,"participant":{"id":5,"userId":3,"conversationId":2}}`},
		{EventParticipantRemoved, `{"conversationId":2,"userId":3}`},
		{EventPresenceUpdate, `{"userId":3,"status":"AWAY"}`},
		{EventTypingUpdate, `{"conversationId":2,"typingUsers":[{"id":3,"username":"bob"}]}`},
		{EventOnlineUsers, `[{"id":3,"username":"bob"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode(envelope(t, tc.name, tc.data))
			require.NoError(t, err)
			assert.Equal(t, tc.name, ev.Name())

			var r recorder
			ev.Dispatch(&r)
			assert.Equal(t, []string{tc.name}, r.calls)
		})
	}
}

func TestDecodePayloads(t *testing.T) {
	ev, err := Decode(envelope(t, EventMessageRead, `{"messageId":7,"userId":3,"username":"bob"}`))
	require.NoError(t, err)
	read := ev.(MessageRead)
	rc := read.Receipt()
	assert.Equal(t, int64(7), rc.MessageID)
	assert.Equal(t, int64(3), rc.UserID)
	require.NotNil(t, rc.User)
	assert.Equal(t, "bob", rc.User.Username)

	ev, err = Decode(envelope(t, EventTypingUpdate, `{"conversationId":4,"typingUsers":[{"id":3},{"id":8}]}`))
	require.NoError(t, err)
	typing := ev.(TypingUpdate)
	assert.Equal(t, int64(4), typing.ConversationID)
	assert.Len(t, typing.TypingUsers, 2)

	ev, err = Decode(envelope(t, EventOnlineUsers, `null`))
	require.NoError(t, err)
	assert.NotNil(t, ev.(OnlineUsers).Users)
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode(envelope(t, "pinnedMessage", `{}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = Decode(Envelope{Event: EventNewMessage})
	assert.Error(t, err)

	_, err = Decode(envelope(t, EventNewMessage, `{"content":"no ids"}`))
	assert.Error(t, err)

	_, err = Decode(envelope(t, EventPresenceUpdate, `{"userId":1,"status":"DANCING"}`))
	assert.Error(t, err)

	_, err = Decode(envelope(t, EventMessageDeleted, `{"messageId":"x"}`))
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	env, err := Encode(IntentTyping, TypingPayload{ConversationID: 3, IsTyping: true})
	require.NoError(t, err)
	assert.Equal(t, IntentTyping, env.Event)
	assert.JSONEq(t, `{"conversationId":3,"isTyping":true}`, string(env.Data))

	env, err = Encode(IntentGetOnlineUsers, nil)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"getOnlineUsers"}`, string(raw))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CONNECTED_SUBSCRIBED", StateSubscribed.String())
	assert.True(t, StateConnected.Live())
	assert.False(t, StateConnecting.Live())
}

func TestBackoffBounds(t *testing.T) {
	b := backoff{min: 100, max: 1000}
	for i := 0; i < 10; i++ {
		d := int64(b.next())
		assert.LessOrEqual(t, d, int64(1000))
		assert.GreaterOrEqual(t, d, int64(50))
	}
	b.reset()
	assert.LessOrEqual(t, int64(b.next()), int64(100))
}

var _ Handler = (*recorder)(nil)

package syncer

import (
	"github.com/messenger-client/internal/cache"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/realtime"
)

// reducer applies inbound events to the cache. It only runs on the engine
// loop goroutine.
type reducer struct {
	e *Engine
}

var _ realtime.Handler = reducer{}

func messagesKey(conversationID int64) cache.Key {
	return cache.Key{Kind: cache.KindMessages, ID: conversationID}
}

var (
	conversationsKey = cache.Key{Kind: cache.KindConversations}
	onlineUsersKey   = cache.Key{Kind: cache.KindOnlineUsers}
	profileKey       = cache.Key{Kind: cache.KindProfile}
	settingsKey      = cache.Key{Kind: cache.KindSettings}
)

func messageID(m *model.Message) int64 { return m.ID }

func userID(u *model.User) int64 { return u.ID }

func (r reducer) OnNewMessage(ev realtime.NewMessage) {
	r.e.cache.Invalidate(messagesKey(ev.Message.ConversationID))
	r.e.cache.Invalidate(conversationsKey)
}

func (r reducer) OnMessageUpdated(ev realtime.MessageUpdated) {
	r.e.cache.Invalidate(messagesKey(ev.Message.ConversationID))
}

func (r reducer) OnMessageDeleted(ev realtime.MessageDeleted) {
	r.e.cache.Invalidate(messagesKey(ev.ConversationID))
}

// OnMessageReactionUpdate merges the pushed message over the cached one.
// Fields the push leaves out keep their cached value.
func (r reducer) OnMessageReactionUpdate(ev realtime.MessageReactionUpdate) {
	in := ev.Message
	key := messagesKey(in.ConversationID)
	patched := r.e.cache.Patch(key, cache.PatchSlice(in.ID, messageID, func(old *model.Message) *model.Message {
		next := *in
		if next.Reactions == nil {
			next.Reactions = []model.MessageReaction{}
		}
		if next.Sender == nil {
			next.Sender = old.Sender
		}
		if next.Parent == nil {
			next.Parent = old.Parent
		}
		if next.ReadBy == nil {
			next.ReadBy = old.ReadBy
		}
		return &next
	}))
	r.missed(key, patched)
}

func (r reducer) OnMessageRead(ev realtime.MessageRead) {
	receipt := ev.Receipt()
	apply := cache.PatchSlice(ev.MessageID, messageID, func(old *model.Message) *model.Message {
		return old.WithReadReceipt(receipt)
	})
	if ev.ConversationID != 0 {
		key := messagesKey(ev.ConversationID)
		r.missed(key, r.e.cache.Patch(key, apply))
		return
	}
	for _, key := range r.e.cache.Keys(cache.KindMessages) {
		if r.e.cache.Patch(key, apply) {
			return
		}
	}
}

func (r reducer) OnNewConversation(ev realtime.NewConversation) {
	r.e.cache.Invalidate(conversationsKey)
	if ev.Conversation != nil && ev.Conversation.ID != 0 {
		r.e.join(ev.Conversation.ID)
	}
}

func (r reducer) OnConversationUpdated(realtime.ConversationUpdated) {
	r.e.cache.Invalidate(conversationsKey)
}

func (r reducer) OnParticipantAdded(realtime.ParticipantAdded) {
	r.e.cache.Invalidate(conversationsKey)
}

func (r reducer) OnParticipantRemoved(ev realtime.ParticipantRemoved) {
	r.e.cache.Invalidate(conversationsKey)
	if ev.UserID == r.e.session.UserID() {
		r.e.cache.Remove(messagesKey(ev.ConversationID))
		if r.e.typing.drop(ev.ConversationID) {
			r.e.updates.publish(Update{Type: UpdateTyping, ConversationID: ev.ConversationID})
		}
	}
}

// OnPresenceUpdate rewrites one user's status in the online list and in
// that user's cached profile.
func (r reducer) OnPresenceUpdate(ev realtime.PresenceUpdate) {
	setStatus := func(old *model.User) *model.User {
		if old.PresenceStatus == ev.Status {
			return nil
		}
		next := *old
		next.PresenceStatus = ev.Status
		return &next
	}
	patched := r.e.cache.Patch(onlineUsersKey, cache.PatchSlice(ev.UserID, userID, setStatus))
	if !patched && ev.Status != model.PresenceOffline {
		if entry, ok := r.e.cache.Peek(onlineUsersKey); ok && entry.HasData() && !containsUser(entry.Data, ev.UserID) {
			r.e.cache.Invalidate(onlineUsersKey)
		}
	}
	r.e.cache.Patch(cache.Key{Kind: cache.KindUserProfile, ID: ev.UserID}, func(old any) (any, bool) {
		u, ok := old.(*model.User)
		if !ok {
			return old, false
		}
		next := setStatus(u)
		if next == nil {
			return old, false
		}
		return next, true
	})
}

func (r reducer) OnTypingUpdate(ev realtime.TypingUpdate) {
	r.e.typing.replace(ev.ConversationID, ev.TypingUsers)
	r.e.updates.publish(Update{Type: UpdateTyping, ConversationID: ev.ConversationID})
}

func (r reducer) OnOnlineUsers(ev realtime.OnlineUsers) {
	r.e.cache.Set(onlineUsersKey, ev.Users)
}

// missed invalidates key when it holds data but the patch target was absent,
// so the next refetch picks the record up.
func (r reducer) missed(key cache.Key, patched bool) {
	if patched {
		return
	}
	if entry, ok := r.e.cache.Peek(key); ok && entry.HasData() {
		logger.Debugf("syncer: patch target missing in %s, refetching", key)
		r.e.cache.Invalidate(key)
	}
}

func containsUser(data any, id int64) bool {
	users, _ := data.([]*model.User)
	for _, u := range users {
		if u != nil && u.ID == id {
			return true
		}
	}
	return false
}

package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/messenger-client/internal/cache"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/session"
)

// Result is a cached read with the flags a view needs: Err is set when the
// last refetch failed even though Data (from an earlier fetch) is present.
type Result[T any] struct {
	Data      T            `json:"data"`
	Status    cache.Status `json:"status"`
	Loading   bool         `json:"loading"`
	Stale     bool         `json:"stale"`
	Err       error        `json:"-"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func query[T any](ctx context.Context, e *Engine, key cache.Key) (Result[T], error) {
	var res Result[T]
	if !e.session.IsAuthenticated() {
		return res, session.ErrNoSession
	}
	entry, err := e.cache.Get(ctx, key)
	if v, ok := entry.Data.(T); ok {
		res.Data = v
	}
	res.Status = entry.Status
	res.Loading = entry.Fetching
	res.Stale = entry.Stale
	res.Err = entry.Err
	res.UpdatedAt = entry.UpdatedAt
	return res, err
}

// Conversations lists the conversations the current user takes part in.
func (e *Engine) Conversations(ctx context.Context) (Result[[]*model.Conversation], error) {
	return query[[]*model.Conversation](ctx, e, conversationsKey)
}

func (e *Engine) Conversation(ctx context.Context, id int64) (*model.Conversation, error) {
	res, err := e.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range res.Data {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("syncer.Conversation %d: %w", id, ErrNotFound)
}

func (e *Engine) Messages(ctx context.Context, conversationID int64) (Result[[]*model.Message], error) {
	return query[[]*model.Message](ctx, e, messagesKey(conversationID))
}

func (e *Engine) OnlineUsers(ctx context.Context) (Result[[]*model.User], error) {
	return query[[]*model.User](ctx, e, onlineUsersKey)
}

func (e *Engine) Profile(ctx context.Context) (Result[*model.User], error) {
	return query[*model.User](ctx, e, profileKey)
}

func (e *Engine) UserProfile(ctx context.Context, userID int64) (Result[*model.User], error) {
	return query[*model.User](ctx, e, cache.Key{Kind: cache.KindUserProfile, ID: userID})
}

func (e *Engine) Settings(ctx context.Context) (Result[*model.Settings], error) {
	return query[*model.Settings](ctx, e, settingsKey)
}

// TypingUsers lists who else is typing in a conversation.
func (e *Engine) TypingUsers(conversationID int64) []*model.User {
	return e.typing.get(conversationID, e.session.UserID())
}

func (e *Engine) registerFetchers() {
	e.cache.Register(cache.KindConversations, func(ctx context.Context, _ cache.Key) (any, error) {
		convs, err := e.api.ListConversations(ctx)
		if err != nil {
			return nil, err
		}
		me := e.session.UserID()
		out := make([]*model.Conversation, 0, len(convs))
		for _, c := range convs {
			if c != nil && c.HasActiveParticipant(me) {
				out = append(out, c)
			}
		}
		return out, nil
	})
	e.cache.Register(cache.KindMessages, func(ctx context.Context, k cache.Key) (any, error) {
		msgs, err := e.api.ListMessages(ctx, k.ID)
		if err != nil {
			return nil, err
		}
		if msgs == nil {
			msgs = []*model.Message{}
		}
		return msgs, nil
	})
	e.cache.Register(cache.KindOnlineUsers, func(ctx context.Context, _ cache.Key) (any, error) {
		users, err := e.api.OnlineUsers(ctx)
		if err != nil {
			return nil, err
		}
		if users == nil {
			users = []*model.User{}
		}
		return users, nil
	})
	e.cache.Register(cache.KindProfile, func(ctx context.Context, _ cache.Key) (any, error) {
		return e.api.GetProfile(ctx)
	})
	e.cache.Register(cache.KindUserProfile, func(ctx context.Context, k cache.Key) (any, error) {
		return e.api.GetUserProfile(ctx, k.ID)
	})
	e.cache.Register(cache.KindSettings, func(ctx context.Context, _ cache.Key) (any, error) {
		return e.api.GetSettings(ctx)
	})
}

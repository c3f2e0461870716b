package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/realtime"
)

// typingTimer шлёт typing=false по истечении idle; gen отличает текущий
// таймер от уже сработавшего, но ещё не взявшего e.mu.
type typingTimer struct {
	t   *time.Timer
	gen uint64
}

// SetTyping reports local typing in a conversation. While typing continues
// only the first call reaches the server; typing=false is sent on its own
// after TypingIdle without a further call.
func (e *Engine) SetTyping(conversationID int64, isTyping bool) error {
	idle := e.cfg.Realtime.TypingIdle

	e.mu.Lock()
	ch := e.channel
	cur, typing := e.typingTimers[conversationID]
	if !isTyping {
		if typing {
			cur.t.Stop()
			delete(e.typingTimers, conversationID)
		}
		e.mu.Unlock()
		if ch == nil {
			return realtime.ErrNotConnected
		}
		return ch.Typing(conversationID, false)
	}
	if ch == nil {
		e.mu.Unlock()
		return realtime.ErrNotConnected
	}
	if typing {
		// Reset мог бы перевзвести таймер, чей колбэк уже запущен: заменяем.
		cur.t.Stop()
	}
	e.typingGen++
	gen := e.typingGen
	e.typingTimers[conversationID] = &typingTimer{
		gen: gen,
		t:   time.AfterFunc(idle, func() { e.typingIdle(conversationID, gen) }),
	}
	e.mu.Unlock()
	if typing {
		return nil
	}
	return ch.Typing(conversationID, true)
}

// typingIdle is the idle timer callback; a superseded generation is a no-op.
func (e *Engine) typingIdle(conversationID int64, gen uint64) {
	e.mu.Lock()
	cur, ok := e.typingTimers[conversationID]
	if !ok || cur.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.typingTimers, conversationID)
	ch := e.channel
	e.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Typing(conversationID, false); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
		logger.Errorf("syncer: typing reset %d: %v", conversationID, err)
	}
}

func (e *Engine) stopTypingTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cur := range e.typingTimers {
		cur.t.Stop()
		delete(e.typingTimers, id)
	}
}

// StartPrivateChat asks for a private conversation over the socket; the
// conversation arrives as a newConversation event. Without a live socket it
// falls back to the REST call.
func (e *Engine) StartPrivateChat(ctx context.Context, username string) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	if ch := e.currentChannel(); ch != nil {
		err := ch.StartPrivateChat(username)
		if err == nil {
			return nil
		}
		if !errors.Is(err, realtime.ErrNotConnected) {
			return err
		}
	}
	_, err := e.StartPrivate(ctx, username)
	return err
}

// RefreshOnlineUsers asks the server for the online list. The reply replaces
// the cached list; without a socket the list is refetched over REST.
func (e *Engine) RefreshOnlineUsers() error {
	if err := e.requireSession(); err != nil {
		return err
	}
	if ch := e.currentChannel(); ch != nil {
		if err := ch.GetOnlineUsers(); err == nil {
			return nil
		}
	}
	e.cache.Invalidate(onlineUsersKey)
	return nil
}

// join subscribes to one more room mid-session. Without a socket the room is
// picked up by the join on the next connect.
func (e *Engine) join(conversationID int64) {
	ch := e.currentChannel()
	if ch == nil {
		return
	}
	if err := ch.JoinConversations([]int64{conversationID}); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
		logger.Errorf("syncer: join %d: %v", conversationID, err)
	}
}

// CurrentUser is the session user, or nil when logged out.
func (e *Engine) CurrentUser() *model.User { return e.session.User() }

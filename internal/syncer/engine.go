// Package syncer ties the session, the REST client, the realtime channel and
// the query cache together.
//
// One goroutine (Run) owns every write that comes from outside a caller's
// own request: session transitions and inbound realtime events are both
// messages it consumes in order, so a logout can never interleave with a
// half-applied event of the old session.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/cache"
	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/metrics"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/realtime"
	"github.com/messenger-client/internal/session"
)

var (
	ErrEmptyMessage       = errors.New("syncer: message has neither content nor file")
	ErrParentConversation = errors.New("syncer: reply parent belongs to another conversation")
	ErrRunning            = errors.New("syncer: engine already running")
	ErrNotFound           = errors.New("syncer: not found")
)

// tokenCheckInterval is how often a running engine looks at the token's exp.
const tokenCheckInterval = time.Minute

type Deps struct {
	Config  *config.Config
	Session *session.Store
	// API is built from Config when nil; its 401 hook clears Session.
	API     *api.Client
	Metrics *metrics.Metrics
}

type Engine struct {
	cfg     *config.Config
	session *session.Store
	api     *api.Client
	cache   *cache.Cache
	metrics *metrics.Metrics

	events  chan realtime.Event
	typing  *typingBoard
	notices *feed[Notice]
	updates *feed[Update]

	mu           sync.Mutex
	running      bool
	channel      *realtime.Channel
	stopChannel  context.CancelFunc
	channelDone  chan struct{}
	activeUser   int64
	activeToken  string
	subscribes   int
	typingTimers map[int64]*typingTimer
	typingGen    uint64
}

func New(d Deps) *Engine {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	e := &Engine{
		cfg:          cfg,
		session:      d.Session,
		api:          d.API,
		metrics:      d.Metrics,
		events:       make(chan realtime.Event, max(cfg.Realtime.EventQueueSize, 1)),
		typing:       newTypingBoard(),
		notices:      newFeed[Notice]("notices", 32),
		updates:      newFeed[Update]("updates", 256),
		typingTimers: make(map[int64]*typingTimer),
	}
	if e.api == nil {
		e.api = api.New(cfg.APIURL, d.Session,
			api.WithTimeout(cfg.HTTPTimeout),
			api.WithOnUnauthorized(e.onUnauthorized),
		)
	}
	opts := []cache.Option{cache.WithFetchTimeout(cfg.HTTPTimeout)}
	if e.metrics != nil {
		opts = append(opts, cache.WithFetchHook(func(kind cache.Kind, err error) {
			e.metrics.Fetch(string(kind), err)
		}))
	}
	e.cache = cache.New(opts...)
	e.registerFetchers()
	return e
}

// API exposes the REST client for calls the engine does not wrap.
func (e *Engine) API() *api.Client { return e.api }

func (e *Engine) Session() *session.Store { return e.session }

// Notices returns the feed of transient user-visible errors.
func (e *Engine) Notices() (<-chan Notice, func()) { return e.notices.subscribe() }

// Updates returns the feed of cache, typing, state and notice changes.
func (e *Engine) Updates() (<-chan Update, func()) { return e.updates.subscribe() }

// State of the realtime channel of the current session.
func (e *Engine) State() realtime.State {
	e.mu.Lock()
	ch := e.channel
	e.mu.Unlock()
	if ch == nil {
		return realtime.StateDisconnected
	}
	return ch.State()
}

// Run drives the engine until ctx is done: it follows session changes,
// starting and stopping the realtime channel, and applies inbound events.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrRunning
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	changes, unsubscribe := e.session.Subscribe()
	defer unsubscribe()
	keys, unwatch := e.cache.Subscribe()
	defer unwatch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case k := <-keys:
				u := Update{Type: UpdateCache, Key: k.String()}
				if k.Kind == cache.KindMessages {
					u.ConversationID = k.ID
				}
				e.updates.publish(u)
			}
		}
	})
	g.Go(func() error {
		defer e.stopRealtime()
		r := reducer{e: e}
		e.applySession(gctx)
		expiry := time.NewTicker(tokenCheckInterval)
		defer expiry.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-changes:
				e.applySession(gctx)
			case <-expiry.C:
				if e.session.TokenExpired(time.Now()) {
					e.applySession(gctx)
				}
			case ev := <-e.events:
				ev.Dispatch(r)
			}
		}
	})
	return g.Wait()
}

// Close stops background refetches. Call after Run has returned.
func (e *Engine) Close() {
	e.stopTypingTimers()
	e.cache.Close()
}

// applySession reconciles the realtime channel with the current session.
func (e *Engine) applySession(ctx context.Context) {
	if token := e.session.Token(); e.session.IsAuthenticated() && e.session.TokenExpired(time.Now()) {
		cleared, err := e.session.ClearToken(context.Background(), token)
		if err != nil {
			logger.Errorf("syncer: clear expired session: %v", err)
		}
		if cleared {
			logger.Info("syncer: token expired, session cleared")
			e.publishNotice(NoticeSession, "session", "session expired, please log in again")
		}
	}

	snap := e.session.Snapshot()
	authed := e.session.IsAuthenticated()

	e.mu.Lock()
	sameUser := authed && snap.User.ID == e.activeUser
	sameToken := authed && snap.Token == e.activeToken
	hasChannel := e.channel != nil
	e.mu.Unlock()

	if authed && sameUser && sameToken && hasChannel {
		return
	}

	e.stopRealtime()
	if !authed || !sameUser {
		e.resetState()
	}
	e.updates.publish(Update{Type: UpdateSession})
	if !authed {
		e.mu.Lock()
		e.activeUser, e.activeToken = 0, ""
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.activeUser, e.activeToken = snap.User.ID, snap.Token
	e.mu.Unlock()
	logger.Infof("syncer: realtime start user=%d token=%s", snap.User.ID, session.MaskToken(snap.Token))
	e.startRealtime(ctx)
}

func (e *Engine) startRealtime(ctx context.Context) {
	rc := e.cfg.Realtime
	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	ch := realtime.New(realtime.Options{
		URL:            e.cfg.WebSocketURL(),
		Token:          e.session.Token,
		Rooms:          e.rooms,
		Events:         e.events,
		ReconnectMin:   rc.ReconnectMin,
		ReconnectMax:   rc.ReconnectMax,
		WriteTimeout:   rc.WriteTimeout,
		PongTimeout:    rc.PongTimeout,
		MaxMessageSize: rc.MaxMessageSize,
		TypingInterval: rc.TypingIdle / 3,
		OnState:        e.onState,
		OnDialError:    e.onDialError,
		OnEvent: func(name string) {
			if e.metrics != nil {
				e.metrics.Event(name)
			}
		},
	})

	e.mu.Lock()
	e.channel, e.stopChannel, e.channelDone = ch, cancel, done
	e.subscribes = 0
	e.mu.Unlock()

	go func() {
		defer close(done)
		err := ch.Run(cctx)
		if errors.Is(err, realtime.ErrUnauthorized) {
			e.onUnauthorized(realtime.RejectedToken(err))
		}
	}()
}

// stopRealtime stops the channel and waits for it, then drops events the
// old connection queued but the loop has not applied.
func (e *Engine) stopRealtime() {
	e.mu.Lock()
	cancel, done := e.stopChannel, e.channelDone
	e.channel, e.stopChannel, e.channelDone = nil, nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	for {
		select {
		case ev := <-e.events:
			logger.Debugf("syncer: dropped %s from closed session", ev.Name())
		default:
			return
		}
	}
}

func (e *Engine) resetState() {
	e.stopTypingTimers()
	e.typing.clear()
	e.cache.Reset()
}

// onUnauthorized clears the session only while token is still its token: a
// late 401 for a replaced token leaves the new session alone.
func (e *Engine) onUnauthorized(token string) {
	cleared, err := e.session.ClearToken(context.Background(), token)
	if err != nil {
		logger.Errorf("syncer: clear session: %v", err)
	}
	if !cleared {
		logger.Debugf("syncer: 401 for stale token %s ignored", session.MaskToken(token))
		return
	}
	logger.Info("syncer: server rejected token, session cleared")
	e.publishNotice(NoticeSession, "session", "session is no longer valid, please log in again")
}

func (e *Engine) onState(s realtime.State) {
	if e.metrics != nil {
		e.metrics.State(int(s))
	}
	e.updates.publish(Update{Type: UpdateState, State: s.String()})
	if s != realtime.StateSubscribed {
		return
	}
	e.mu.Lock()
	e.subscribes++
	resubscribed := e.subscribes > 1
	e.mu.Unlock()
	if resubscribed {
		// Events sent while the socket was down are lost; refetch what is on screen.
		if e.metrics != nil {
			e.metrics.Reconnect()
		}
		e.cache.InvalidateKind(cache.KindConversations)
		e.cache.InvalidateKind(cache.KindMessages)
		e.cache.InvalidateKind(cache.KindOnlineUsers)
	}
}

func (e *Engine) onDialError(attempt int, err error) {
	if attempt == e.cfg.Realtime.ReconnectNoticeAfter {
		e.publishNotice(NoticeRealtime, "connect", fmt.Sprintf("connection lost, still retrying: %v", err))
	}
}

// rooms lists the conversations to join on connect. A failed fetch falls
// back to whatever list is cached.
func (e *Engine) rooms(ctx context.Context) ([]int64, error) {
	key := cache.Key{Kind: cache.KindConversations}
	entry, err := e.cache.Get(ctx, key)
	convs, _ := entry.Data.([]*model.Conversation)
	if err != nil && convs == nil {
		return nil, err
	}
	return model.ConversationIDs(convs), nil
}

func (e *Engine) currentChannel() *realtime.Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channel
}

func (e *Engine) publishNotice(kind NoticeKind, op, msg string) {
	n := Notice{Kind: kind, Op: op, Message: msg, At: time.Now()}
	e.notices.publish(n)
	e.updates.publish(Update{Type: UpdateNotice, Notice: &n})
}

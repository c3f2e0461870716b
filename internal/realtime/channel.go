// Package realtime keeps one authenticated WebSocket to the chat server
// alive, decodes inbound events into typed values and carries outbound
// intents (room join, typing, private chat start).
//
// Lifecycle: New -> Run(ctx) -> [dial -> pumps -> join rooms -> ... -> lost -> backoff -> dial].
// Run returns when ctx is cancelled or the server rejects the token.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/messenger-client/internal/logger"
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrUnauthorized = errors.New("realtime: handshake rejected")
	ErrRunning      = errors.New("realtime: already running")
)

// RejectedError is a handshake refused with 401. Token is the token that
// was offered.
type RejectedError struct {
	Status int
	Token  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("realtime: handshake rejected: status %d", e.Status)
}

func (e *RejectedError) Unwrap() error { return ErrUnauthorized }

// RejectedToken returns the token refused by the server, or "" when err is
// not a handshake rejection.
func RejectedToken(err error) string {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Token
	}
	return ""
}

// RoomSource returns the conversation ids to join on connect. On error the
// returned ids (possibly empty) are still joined.
type RoomSource func(ctx context.Context) ([]int64, error)

type Options struct {
	// URL of the socket endpoint, ws:// or wss://.
	URL   string
	Token func() string
	Rooms RoomSource
	// Events receives decoded inbound events in arrival order.
	Events chan<- Event

	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	// TypingInterval: минимальный интервал между typing=true для одного чата.
	TypingInterval time.Duration
	Dialer         *websocket.Dialer

	OnState     func(State)
	OnDialError func(attempt int, err error)
	OnEvent     func(name string)
}

type Channel struct {
	opts Options

	mu      sync.Mutex
	state   State
	link    *link
	typing  map[int64]*rate.Limiter
	running bool
}

func New(opts Options) *Channel {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
		if opts.ReconnectMax < opts.ReconnectMin {
			opts.ReconnectMax = opts.ReconnectMin
		}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1 << 20
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &Channel{opts: opts, typing: make(map[int64]*rate.Limiter)}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run dials, serves and redials until ctx is done. It returns nil on
// cancellation and ErrUnauthorized when the handshake is refused with 401.
func (c *Channel) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrRunning
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.setState(StateDisconnected)
	}()

	bo := backoff{min: c.opts.ReconnectMin, max: c.opts.ReconnectMax}
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				logger.Errorf("realtime: %v", err)
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			failures++
			logger.Errorf("realtime: connect attempt %d: %v", failures, err)
			if c.opts.OnDialError != nil {
				c.opts.OnDialError(failures, err)
			}
			if !sleep(ctx, bo.next()) {
				return nil
			}
			continue
		}

		failures = 0
		bo.reset()
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		logger.Infof("realtime: connection lost: %v", err)
		if !sleep(ctx, bo.next()) {
			return nil
		}
	}
}

// JoinConversations subscribes to additional rooms mid-session.
func (c *Channel) JoinConversations(ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	return c.send(IntentJoinConversations, ids)
}

// Typing sends a typing flag. typing=true is throttled per conversation to
// one frame per TypingInterval; extra calls are dropped without error.
func (c *Channel) Typing(conversationID int64, isTyping bool) error {
	c.mu.Lock()
	if c.link == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if isTyping && c.opts.TypingInterval > 0 {
		lim, ok := c.typing[conversationID]
		if !ok {
			lim = rate.NewLimiter(rate.Every(c.opts.TypingInterval), 1)
			c.typing[conversationID] = lim
		}
		if !lim.Allow() {
			c.mu.Unlock()
			return nil
		}
	} else if !isTyping {
		delete(c.typing, conversationID)
	}
	c.mu.Unlock()
	return c.send(IntentTyping, TypingPayload{ConversationID: conversationID, IsTyping: isTyping})
}

// StartPrivateChat asks the server to open (or find) a private conversation.
// The result arrives as a newConversation event.
func (c *Channel) StartPrivateChat(username string) error {
	return c.send(IntentStartPrivateChat, username)
}

// GetOnlineUsers requests an onlineUsers reply.
func (c *Channel) GetOnlineUsers() error {
	return c.send(IntentGetOnlineUsers, nil)
}

func (c *Channel) send(name string, payload any) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	env, err := Encode(name, payload)
	if err != nil {
		return err
	}
	return l.enqueue(env)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	logger.Debugf("realtime: state %s", s)
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	token := c.opts.Token()
	header := http.Header{}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			if resp.Body != nil {
				resp.Body.Close()
			}
			if resp.StatusCode == http.StatusUnauthorized {
				return nil, &RejectedError{Status: resp.StatusCode, Token: token}
			}
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", u.Host, err)
	}
	return conn, nil
}

// serve runs one connection until it drops. The join frame is queued before
// the link is published, so it is always the first frame written.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l := newLink(conn, c.opts)
	l.start(lctx, cancel, c.deliver)
	c.setState(StateConnected)

	ids := c.rooms(lctx)
	env, err := Encode(IntentJoinConversations, ids)
	if err == nil {
		err = l.enqueue(env)
	}
	if err != nil {
		l.close(err)
	} else {
		c.mu.Lock()
		c.link = l
		c.typing = make(map[int64]*rate.Limiter)
		c.mu.Unlock()
		logger.Infof("realtime: joined %d conversations", len(ids))
		c.setState(StateSubscribed)
	}

	<-l.done
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
	l.wait()
	return l.cause()
}

func (c *Channel) rooms(ctx context.Context) []int64 {
	if c.opts.Rooms == nil {
		return []int64{}
	}
	ids, err := c.opts.Rooms(ctx)
	if err != nil {
		logger.Errorf("realtime: room list: %v", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids
}

func (c *Channel) deliver(ctx context.Context, ev Event) bool {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(ev.Name())
	}
	if c.opts.Events == nil {
		return true
	}
	select {
	case c.opts.Events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/realtime"
	"github.com/messenger-client/internal/syncer"
)

type typingCall struct {
	conv     int64
	isTyping bool
}

type fakeSource struct {
	updates chan syncer.Update

	mu      sync.Mutex
	typing  []typingCall
	refresh int
	err     error
}

func (f *fakeSource) Updates() (<-chan syncer.Update, func()) { return f.updates, func() {} }
func (f *fakeSource) State() realtime.State                   { return realtime.StateSubscribed }
func (f *fakeSource) CurrentUser() *model.User                { return &model.User{ID: 10, Username: "alice"} }

func (f *fakeSource) SetTyping(conv int64, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typingCall{conv, isTyping})
	return f.err
}

func (f *fakeSource) RefreshOnlineUsers() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh++
	return f.err
}

func startHub(t *testing.T, maxConns int) (*Hub, *fakeSource, string) {
	t.Helper()
	src := &fakeSource{updates: make(chan syncer.Update, 8)}
	hub := NewHub(src, maxConns)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { hub.Run(ctx); close(stopped) }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn, r.URL.Query().Get("id"))
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-stopped
	})
	return hub, src, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubHelloAndBroadcast(t *testing.T) {
	hub, src, url := startHub(t, 4)
	a := dial(t, url+"?id=a")
	b := dial(t, url+"?id=b")

	for _, conn := range []*websocket.Conn{a, b} {
		hello := read(t, conn)
		assert.Equal(t, "hello", hello["type"])
		payload := hello["payload"].(map[string]any)
		assert.Equal(t, "CONNECTED_SUBSCRIBED", payload["state"])
	}
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 5*time.Millisecond)

	src.updates <- syncer.Update{Type: syncer.UpdateCache, Key: "messages/7", ConversationID: 7}
	for _, conn := range []*websocket.Conn{a, b} {
		msg := read(t, conn)
		assert.Equal(t, "update", msg["type"])
		payload := msg["payload"].(map[string]any)
		assert.Equal(t, "messages/7", payload["key"])
		assert.EqualValues(t, 7, payload["conversationId"])
	}
}

func TestHubForwardsIntents(t *testing.T) {
	_, src, url := startHub(t, 4)
	conn := dial(t, url)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventTyping, ConversationID: 3, IsTyping: true}))
	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventRefreshOnline}))
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.typing) == 1 && src.refresh == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, typingCall{3, true}, src.typing[0])

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: "bogus"}))
	msg := read(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "unknown event type", msg["payload"])
}

func TestHubReportsIntentErrors(t *testing.T) {
	_, src, url := startHub(t, 4)
	src.mu.Lock()
	src.err = realtime.ErrNotConnected
	src.mu.Unlock()
	conn := dial(t, url)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventTyping, ConversationID: 3, IsTyping: true}))
	msg := read(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, realtime.ErrNotConnected.Error(), msg["payload"])
}

func TestHubConnectionLimit(t *testing.T) {
	hub, _, url := startHub(t, 1)
	first := dial(t, url)
	read(t, first)

	second := dial(t, url)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	assert.Error(t, err, "over-limit view is closed")
	assert.Equal(t, 1, hub.Count())
}

func TestCoalesceCacheUpdates(t *testing.T) {
	queue := make(chan OutgoingMessage, 8)
	queue <- updateMessage(syncer.Update{Type: syncer.UpdateCache, Key: "messages:1"})
	queue <- updateMessage(syncer.Update{Type: syncer.UpdateTyping, ConversationID: 1})
	queue <- updateMessage(syncer.Update{Type: syncer.UpdateCache, Key: "conversations"})
	queue <- updateMessage(syncer.Update{Type: syncer.UpdateCache, Key: "messages:1"})
	queue <- OutgoingMessage{Type: EventError, Payload: "x"}

	out := coalesce(updateMessage(syncer.Update{Type: syncer.UpdateCache, Key: "conversations"}), queue)
	require.Len(t, out, 4)
	assert.Equal(t, "conversations", out[0].Payload.(syncer.Update).Key)
	assert.Equal(t, "messages:1", out[1].Payload.(syncer.Update).Key)
	assert.Equal(t, syncer.UpdateTyping, out[2].Payload.(syncer.Update).Type)
	assert.Equal(t, EventError, out[3].Type)
	assert.Empty(t, queue)
}

func TestHubSkipsClientClosedBeforeRegister(t *testing.T) {
	src := &fakeSource{updates: make(chan syncer.Update, 8)}
	hub := NewHub(src, 1)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { hub.Run(ctx); close(stopped) }()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(hub, conn, r.URL.Query().Get("id"))
		if r.URL.Query().Get("early") != "" {
			// Unregister приходит раньше Register.
			c.Close()
			hub.Unregister(c)
			hub.Register(c)
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	early := dial(t, url+"?id=early&early=1")
	require.NoError(t, early.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := early.ReadMessage()
	assert.Error(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, hub.Count())

	// слот свободен: лимит 1 пропускает следующий view
	next := dial(t, url+"?id=next")
	hello := read(t, next)
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, 1, hub.Count())
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/metrics"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/realtime"
	"github.com/messenger-client/internal/session"
	"github.com/messenger-client/internal/storage/memory"
	"github.com/messenger-client/internal/syncer"
	"github.com/messenger-client/internal/ws"
)

const testToken = "tok-alice"

// chatBackend is a minimal chat server for the bridge: login, conversations,
// messages and a socket that accepts the join.
type chatBackend struct {
	srv *httptest.Server

	mu    sync.Mutex
	sent  []string
	reads []string
}

func newChatBackend(t *testing.T) *chatBackend {
	t.Helper()
	me := &model.User{ID: 10, Username: "alice"}
	bob := &model.User{ID: 11, Username: "bob"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := &chatBackend{}

	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req model.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			reply(w, 401, map[string]string{"message": "Invalid credentials"})
			return
		}
		reply(w, 200, model.AuthResponse{User: me, AccessToken: testToken})
	})
	r.Get("/conversations", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, 200, []*model.Conversation{{ID: 1, Participants: []model.Participant{
			{UserID: 10, ConversationID: 1, User: me},
			{UserID: 11, ConversationID: 1, User: bob},
		}}})
	})
	r.Get("/messages/1", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, 200, []*model.Message{
			{ID: 1, ConversationID: 1, SenderID: 11, Content: "hi", Timestamp: now, UpdatedAt: now},
			{ID: 2, ConversationID: 1, SenderID: 10, Content: "hey", Timestamp: now, UpdatedAt: now},
		})
	})
	r.Post("/messages/1", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		b.mu.Lock()
		b.sent = append(b.sent, r.FormValue("content"))
		b.mu.Unlock()
		reply(w, 201, model.Message{ID: 3, ConversationID: 1, SenderID: 10, Content: r.FormValue("content")})
	})
	r.Post("/messages/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.reads = append(b.reads, chi.URLParam(r, "id"))
		b.mu.Unlock()
		reply(w, 200, map[string]bool{"ok": true})
	})
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != testToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	b.srv = httptest.NewServer(r)
	t.Cleanup(b.srv.Close)
	return b
}

type bridge struct {
	srv    *httptest.Server
	engine *syncer.Engine
	hub    *ws.Hub
	chat   *chatBackend
}

func newBridge(t *testing.T, tune func(*config.Config)) *bridge {
	t.Helper()
	chat := newChatBackend(t)
	cfg := config.Defaults()
	cfg.APIURL = chat.srv.URL
	cfg.Realtime.ReconnectMin = 10 * time.Millisecond
	cfg.Realtime.ReconnectMax = 50 * time.Millisecond
	cfg.Bridge.RateLimitRPS = 0
	if tune != nil {
		tune(cfg)
	}

	sess := session.New(memory.New())
	require.NoError(t, sess.Load(context.Background()))
	m := metrics.New()
	engine := syncer.New(syncer.Deps{Config: cfg, Session: sess, Metrics: m})
	hub := ws.NewHub(engine, cfg.Bridge.MaxClients)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = engine.Run(ctx) }()
	go func() { defer wg.Done(); hub.Run(ctx) }()

	srv := httptest.NewServer(NewRouter(Deps{Engine: engine, Hub: hub, Metrics: m, Bridge: cfg.Bridge}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		wg.Wait()
		engine.Close()
	})
	return &bridge{srv: srv, engine: engine, hub: hub, chat: chat}
}

func (b *bridge) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, b.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (b *bridge) login(t *testing.T) {
	t.Helper()
	resp, _ := b.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return b.engine.State() == realtime.StateSubscribed }, 3*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	b := newBridge(t, nil)
	resp, body := b.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "DISCONNECTED", got["state"])
}

func TestMetricsEndpoint(t *testing.T) {
	b := newBridge(t, nil)
	resp, body := b.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chatclient_realtime_state")
}

func TestReadsRequireSession(t *testing.T) {
	b := newBridge(t, nil)
	for _, path := range []string{"/api/conversations", "/api/conversations/1/messages", "/api/profile", "/api/online-users"} {
		resp, _ := b.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp, body := b.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"authenticated":false,"user":null,"state":"DISCONNECTED"}`, string(body))
}

func TestLoginRejectedPassesStatus(t *testing.T) {
	b := newBridge(t, nil)
	resp, body := b.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "Invalid credentials")

	resp, _ = b.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConversationsAfterLogin(t *testing.T) {
	b := newBridge(t, nil)
	b.login(t)

	resp, body := b.do(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Data []struct {
			ID          int64  `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"data"`
		Status  string `json:"status"`
		Loading bool   `json:"loading"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Data, 1)
	assert.Equal(t, "bob", got.Data[0].DisplayName)
	assert.Equal(t, "success", got.Status)

	resp, _ = b.do(t, http.MethodGet, "/api/conversations/1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = b.do(t, http.MethodGet, "/api/conversations/99", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = b.do(t, http.MethodGet, "/api/conversations/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessage(t *testing.T) {
	b := newBridge(t, nil)
	b.login(t)

	resp, _ := b.do(t, http.MethodPost, "/api/conversations/1/messages", map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := b.do(t, http.MethodPost, "/api/conversations/1/messages", map[string]string{"content": "hello bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	b.chat.mu.Lock()
	defer b.chat.mu.Unlock()
	assert.Equal(t, []string{"hello bob"}, b.chat.sent)
}

func TestMarkConversationReadSkipsOwnMessages(t *testing.T) {
	b := newBridge(t, nil)
	b.login(t)

	resp, _ := b.do(t, http.MethodGet, "/api/conversations/1/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := b.do(t, http.MethodPost, "/api/conversations/1/read", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"marked":1}`, string(body))
	b.chat.mu.Lock()
	defer b.chat.mu.Unlock()
	assert.Equal(t, []string{"1"}, b.chat.reads)
}

func TestEventsStream(t *testing.T) {
	b := newBridge(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(b.srv.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello ws.OutgoingMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, ws.EventHello, hello.Type)
	require.Eventually(t, func() bool { return b.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	b.login(t)

	seen := map[string]bool{}
	deadline := time.Now().Add(3 * time.Second)
	for !(seen["session"] && seen["state"]) && time.Now().Before(deadline) {
		var msg struct {
			Type    ws.EventType  `json:"type"`
			Payload syncer.Update `json:"payload"`
		}
		require.NoError(t, conn.SetReadDeadline(deadline))
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == ws.EventUpdate {
			seen[string(msg.Payload.Type)] = true
		}
	}
	assert.True(t, seen["session"], "session update")
	assert.True(t, seen["state"], "state update")

	// намерение от view без беседы отклоняется
	require.NoError(t, conn.WriteJSON(ws.IncomingMessage{Type: ws.EventTyping}))
	for {
		var msg ws.OutgoingMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == ws.EventError {
			assert.Equal(t, "conversation_id required", msg.Payload)
			break
		}
	}
}

func TestLocalOnlyRejectsRemote(t *testing.T) {
	b := newBridge(t, func(c *config.Config) { c.Bridge.Secret = "s3cret" })
	h := b.srv.Config.Handler

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("X-Bridge-Secret", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

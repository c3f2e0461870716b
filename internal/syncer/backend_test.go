package syncer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/realtime"
)

const testToken = "tok-alice"

// fakeBackend is an in-memory chat server: REST endpoints the engine calls
// plus the realtime socket.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	me       *model.User
	convs    []*model.Conversation
	messages map[int64][]*model.Message
	online   []*model.User
	fail     map[string]int
	delay    map[string]time.Duration
	calls    map[string]int
	tokens   map[string]bool
	nextID   int64

	wsMu   sync.Mutex
	conns  []*websocket.Conn
	frames chan realtime.Envelope
}

func ptr[T any](v T) *T { return &v }

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	me := &model.User{ID: 10, Username: "alice", Email: "alice@example.com"}
	bob := &model.User{ID: 11, Username: "bob"}
	carol := &model.User{ID: 12, Username: "carol"}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	b := &fakeBackend{
		t:  t,
		me: me,
		convs: []*model.Conversation{
			{ID: 1, IsGroup: false, Participants: []model.Participant{
				{ID: 100, UserID: 10, ConversationID: 1, User: me},
				{ID: 101, UserID: 11, ConversationID: 1, User: bob},
			}},
			{ID: 2, Name: ptr("team"), IsGroup: true, Participants: []model.Participant{
				{ID: 200, UserID: 10, ConversationID: 2, User: me, IsAdmin: true},
				{ID: 201, UserID: 12, ConversationID: 2, User: carol},
			}},
			{ID: 3, Name: ptr("old"), IsGroup: true, Participants: []model.Participant{
				{ID: 300, UserID: 10, ConversationID: 3, User: me, LeftAt: ptr(now)},
				{ID: 301, UserID: 12, ConversationID: 3, User: carol},
			}},
		},
		messages: map[int64][]*model.Message{
			1: {
				{ID: 1, ConversationID: 1, SenderID: 11, Content: "hi", ContentType: model.ContentTypeText, Timestamp: now, UpdatedAt: now, Sender: bob},
				{ID: 2, ConversationID: 1, SenderID: 10, Content: "hello", ContentType: model.ContentTypeText, Timestamp: now, UpdatedAt: now, Sender: me},
				{ID: 3, ConversationID: 1, SenderID: 11, Content: "how are you", ContentType: model.ContentTypeText, Timestamp: now, UpdatedAt: now, Sender: bob},
			},
			2: {
				{ID: 20, ConversationID: 2, SenderID: 12, Content: "standup?", ContentType: model.ContentTypeText, Timestamp: now, UpdatedAt: now, Sender: carol},
			},
		},
		online: []*model.User{
			{ID: 11, Username: "bob", PresenceStatus: model.PresenceOnline},
			{ID: 12, Username: "carol", PresenceStatus: model.PresenceOnline},
		},
		fail:   make(map[string]int),
		delay:  make(map[string]time.Duration),
		calls:  make(map[string]int),
		tokens: map[string]bool{testToken: true},
		nextID: 1000,
		frames: make(chan realtime.Envelope, 64),
	}

	r := chi.NewRouter()
	r.Use(b.record)
	r.Post("/auth/login", b.login)
	r.Group(func(r chi.Router) {
		r.Use(b.auth)
		r.Get("/conversations", b.listConversations)
		r.Get("/messages/{id}", b.listMessages)
		r.Post("/messages/{id}", b.sendMessage)
		r.Post("/messages/{id}/react", func(w http.ResponseWriter, _ *http.Request) { writeTestJSON(w, 200, map[string]string{"ok": "1"}) })
		r.Post("/messages/{id}/read", b.markRead)
		r.Get("/profile/online", b.listOnline)
		r.Put("/profile", b.updateProfile)
	})
	r.Get("/ws", b.socket)
	b.srv = httptest.NewServer(r)
	t.Cleanup(b.srv.Close)
	return b
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := r.Method + " " + r.URL.Path
		b.mu.Lock()
		b.calls[op]++
		status := b.fail[op]
		wait := b.delay[op]
		b.mu.Unlock()
		if wait > 0 {
			time.Sleep(wait)
		}
		if status != 0 {
			writeTestJSON(w, status, map[string]string{"message": "forced failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *fakeBackend) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.validToken(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")) {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *fakeBackend) validToken(tok string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens[tok]
}

// slow delays op by d before it is answered.
func (b *fakeBackend) slow(op string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay[op] = d
}

func (b *fakeBackend) failOn(op string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.fail, op)
		return
	}
	b.fail[op] = status
}

func (b *fakeBackend) callCount(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeTestJSON(w, 400, map[string]string{"message": "bad body"})
		return
	}
	b.mu.Lock()
	me := *b.me
	b.mu.Unlock()
	if req.Username != me.Username || req.Password != "secret" {
		writeTestJSON(w, 401, map[string]string{"message": "Invalid credentials"})
		return
	}
	writeTestJSON(w, 200, model.AuthResponse{User: &me, AccessToken: testToken})
}

func (b *fakeBackend) listConversations(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeTestJSON(w, 200, b.convs)
}

func (b *fakeBackend) listMessages(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	writeTestJSON(w, 200, b.messages[id])
}

func (b *fakeBackend) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeTestJSON(w, 400, map[string]string{"message": err.Error()})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	m := &model.Message{
		ID:             b.nextID,
		ConversationID: id,
		SenderID:       b.me.ID,
		Content:        r.FormValue("content"),
		ContentType:    model.ContentTypeText,
		Timestamp:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if p := r.FormValue("parentId"); p != "" {
		pid, _ := strconv.ParseInt(p, 10, 64)
		m.ParentID = &pid
	}
	b.messages[id] = append(b.messages[id], m)
	writeTestJSON(w, 201, m)
}

func (b *fakeBackend) markRead(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	for convID, msgs := range b.messages {
		for i, m := range msgs {
			if m.ID == id {
				b.messages[convID][i] = m.WithReadReceipt(model.ReadReceipt{MessageID: id, UserID: b.me.ID, ReadAt: time.Now().UTC()})
				writeTestJSON(w, 200, map[string]bool{"ok": true})
				return
			}
		}
	}
	writeTestJSON(w, 404, map[string]string{"message": "Message not found"})
}

func (b *fakeBackend) listOnline(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeTestJSON(w, 200, b.online)
}

func (b *fakeBackend) updateProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeTestJSON(w, 400, map[string]string{"message": err.Error()})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.me.Bio = r.FormValue("bio")
	me := *b.me
	writeTestJSON(w, 200, me)
}

func (b *fakeBackend) socket(w http.ResponseWriter, r *http.Request) {
	if !b.validToken(r.URL.Query().Get("token")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.wsMu.Lock()
	b.conns = append(b.conns, conn)
	b.wsMu.Unlock()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env realtime.Envelope
		if json.Unmarshal(raw, &env) == nil {
			b.frames <- env
		}
	}
}

// push sends an event on the most recent socket.
func (b *fakeBackend) push(name string, payload any) {
	b.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(b.t, err)
	raw, err := json.Marshal(realtime.Envelope{Event: name, Data: data})
	require.NoError(b.t, err)

	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	require.NotEmpty(b.t, b.conns, "no socket")
	require.NoError(b.t, b.conns[len(b.conns)-1].WriteMessage(websocket.TextMessage, raw))
}

func (b *fakeBackend) next(t *testing.T) realtime.Envelope {
	t.Helper()
	select {
	case env := <-b.frames:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no frame from client")
		return realtime.Envelope{}
	}
}

func (b *fakeBackend) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case env := <-b.frames:
		t.Fatalf("unexpected frame %s %s", env.Event, env.Data)
	case <-time.After(d):
	}
}

func (b *fakeBackend) socketCount() int {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	return len(b.conns)
}

func (b *fakeBackend) dropSockets() {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
}

func (b *fakeBackend) update(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) url() string { return strings.TrimSuffix(b.srv.URL, "/") }

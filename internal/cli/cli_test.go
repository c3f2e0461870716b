package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/model"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func chatServer(t *testing.T) *httptest.Server {
	t.Helper()
	me := &model.User{ID: 10, Username: "alice"}
	bob := &model.User{ID: 11, Username: "bob"}
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	authed := func(r *http.Request) bool { return r.Header.Get("Authorization") == "Bearer tok-cli-123456" }

	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req model.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "alice" || req.Password != "secret" {
			reply(w, 401, map[string]string{"message": "Invalid credentials"})
			return
		}
		reply(w, 200, model.AuthResponse{User: me, AccessToken: "tok-cli-123456"})
	})
	r.Get("/conversations", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			reply(w, 401, map[string]string{"message": "Unauthorized"})
			return
		}
		reply(w, 200, []*model.Conversation{{ID: 4, Participants: []model.Participant{
			{UserID: 10, ConversationID: 4, User: me, UnreadCount: 2},
			{UserID: 11, ConversationID: 4, User: bob},
		}, LastMessage: &model.Message{ID: 9, SenderID: 11, Sender: bob, Content: "see you", Timestamp: time.Now()}}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	srv := chatServer(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("CHAT_API_URL", srv.URL)
	t.Setenv("SESSION_BACKEND", "file")
	t.Setenv("SESSION_PATH", t.TempDir())
}

func TestLoginWhoamiLogout(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "", "whoami")
	require.NoError(t, err)
	assert.Equal(t, "not logged in\n", out)

	out, err = run(t, "secret\n", "login", "alice")
	require.NoError(t, err)
	assert.Equal(t, "logged in as alice (id 10)\n", out)

	out, err = run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "alice (id 10)")
	assert.Contains(t, out, "tok-cl***")
	assert.NotContains(t, out, "tok-cli-123456")

	out, err = run(t, "", "conversations")
	require.NoError(t, err)
	assert.Contains(t, out, "#4     bob [2 unread]")
	assert.Contains(t, out, "bob: see you")

	_, err = run(t, "", "logout")
	require.NoError(t, err)
	out, err = run(t, "", "whoami")
	require.NoError(t, err)
	assert.Equal(t, "not logged in\n", out)
}

func TestLoginWrongPassword(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "", "login", "alice", "-p", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid credentials")
}

func TestCommandsRequireSession(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "", "conversations")
	assert.Error(t, err)
	_, err = run(t, "", "messages", "abc")
	assert.ErrorContains(t, err, "invalid conversation id")
}

func TestFormatMessage(t *testing.T) {
	parent := int64(3)
	m := &model.Message{
		ID:        12,
		SenderID:  10,
		Sender:    &model.User{ID: 10, Username: "alice"},
		Content:   "hello\n  there",
		Timestamp: now.Add(-48 * time.Hour),
		UpdatedAt: now.Add(-47 * time.Hour),
		ParentID:  &parent,
		Reactions: []model.MessageReaction{{Reaction: "👍"}, {Reaction: "👍"}, {Reaction: "🎉"}},
		ReadBy:    []model.ReadReceipt{{UserID: 11}},
	}
	got := formatMessage(m, 10, now)
	assert.Contains(t, got, "alice: hello there")
	assert.Contains(t, got, "↩3")
	assert.Contains(t, got, "(edited)")
	assert.Contains(t, got, "👍2  🎉1")
	assert.Contains(t, got, "✓✓")
	assert.Contains(t, got, "2 days ago")

	file := &model.Message{ID: 1, SenderID: 11, ContentType: model.ContentTypeImage, Timestamp: now, UpdatedAt: now}
	assert.Contains(t, formatMessage(file, 10, now), "user#11: [image]")
}

func TestFormatConversationGroup(t *testing.T) {
	name := "team"
	left := now
	c := &model.Conversation{ID: 2, Name: &name, IsGroup: true, Participants: []model.Participant{
		{UserID: 10}, {UserID: 11}, {UserID: 12, LeftAt: &left},
	}}
	assert.Equal(t, "#2     team (2 members)", formatConversation(c, 10, now))
}

func TestPreviewTruncates(t *testing.T) {
	m := &model.Message{Content: strings.Repeat("я", 100)}
	got := preview(m)
	assert.Equal(t, 60, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}

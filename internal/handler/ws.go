package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/middleware"
	"github.com/messenger-client/internal/ws"
)

// WSHandler подключает view к потоку /events.
type WSHandler struct {
	hub      *ws.Hub
	anyOrig  bool
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewWSHandler: allowedOrigins через запятую, "*" или пусто: любой Origin.
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, origins: make(map[string]struct{})}
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			h.anyOrig = true
		default:
			h.origins[o] = struct{}{}
		}
	}
	if len(h.origins) == 0 {
		h.anyOrig = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin пропускает запросы без Origin: это CLI и нативные view, не браузер.
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.anyOrig {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	if h.hub.Full() {
		writeError(w, http.StatusServiceUnavailable, "too many views")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	// соединение переживает запрос, поэтому контекст не от r
	ctx, cancel := context.WithCancel(context.Background())
	id := middleware.GetRequestID(r.Context())
	if id == "" {
		id = uuid.NewString()
	}
	client := ws.NewClient(h.hub, conn, id)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}

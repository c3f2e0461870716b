package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/realtime"
	"github.com/messenger-client/internal/session"
	"github.com/messenger-client/internal/syncer"
)

// Source is the engine side of the hub: updates to fan out and the intents a
// view may send back.
type Source interface {
	Updates() (<-chan syncer.Update, func())
	State() realtime.State
	CurrentUser() *model.User
	SetTyping(conversationID int64, isTyping bool) error
	RefreshOnlineUsers() error
}

// Hub fans engine updates out to every connected view.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxConns   int
	src        Source
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(src Source, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 32
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		src:        src,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	updates, unsubscribe := h.src.Updates()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case u := <-updates:
			h.broadcast(updateMessage(u))
		}
	}
}

// Count is the number of connected views.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Full reports whether a new view would be rejected.
func (h *Hub) Full() bool {
	return h.Count() >= h.maxConns
}

func (h *Hub) shutdown() {
	// I/O не под мьютексом.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	// view мог закрыться до регистрации: его Unregister уже обработан.
	select {
	case <-c.done:
		return
	default:
	}
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws view limit reached (%d), rejecting client=%s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.sendToClient(c, OutgoingMessage{Type: EventHello, Payload: HelloPayload{
		ClientID: c.id,
		State:    h.src.State().String(),
		User:     h.src.CurrentUser(),
	}})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

// HandleMessage dispatches intents sent by a view.
func (h *Hub) HandleMessage(_ context.Context, c *Client, msg IncomingMessage) {
	var err error
	switch msg.Type {
	case EventTyping:
		if msg.ConversationID == 0 {
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "conversation_id required"})
			return
		}
		err = h.src.SetTyping(msg.ConversationID, msg.IsTyping)
	case EventRefreshOnline:
		err = h.src.RefreshOnlineUsers()
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
		return
	}
	switch {
	case err == nil:
	case errors.Is(err, realtime.ErrNotConnected), errors.Is(err, session.ErrNoSession):
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: err.Error()})
	default:
		logger.Errorf("ws %s client=%s: %v", msg.Type, c.id, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: err.Error()})
	}
}

func (h *Hub) broadcast(msg OutgoingMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: буфер полон, медленный view закрываем.
		logger.Errorf("ws send buffer full, closing slow client=%s", c.id)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

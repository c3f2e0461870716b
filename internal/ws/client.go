package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/syncer"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	maxIntent   = 4096
	sendBufSize = 256
	// maxBatch: сколько кадров из очереди пишется за один проход writePump.
	maxBatch = 64
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one view connected to /events.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan OutgoingMessage
	id   string

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan OutgoingMessage, sendBufSize),
		id:   id,
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

func (c *Client) Wait() {
	c.wg.Wait()
}

// Close is idempotent.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

// readPump принимает намерения view (typing, refresh_online) до закрытия соединения.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.Close()
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxIntent)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws view=%s read: %v", c.id, err)
			}
			return
		}
		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "invalid json"})
			continue
		}
		c.hub.HandleMessage(ctx, c, msg)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case msg := <-c.send:
			for _, m := range coalesce(msg, c.send) {
				if err := c.write(m); err != nil {
					return
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(msg OutgoingMessage) error {
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		logger.Errorf("ws view=%s encode %s: %v", c.id, msg.Type, err)
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
}

// coalesce забирает из очереди то, что уже накопилось (не больше maxBatch),
// и оставляет по одному кадру на ключ кэша: view всё равно перечитает ключ
// целиком. Остальные кадры идут в исходном порядке.
func coalesce(first OutgoingMessage, queue <-chan OutgoingMessage) []OutgoingMessage {
	batch := []OutgoingMessage{first}
drain:
	for len(batch) < maxBatch {
		select {
		case m := <-queue:
			batch = append(batch, m)
		default:
			break drain
		}
	}
	if len(batch) == 1 {
		return batch
	}
	seen := make(map[string]struct{}, len(batch))
	out := batch[:0]
	for _, m := range batch {
		if key, ok := cacheKey(m); ok {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, m)
	}
	return out
}

func cacheKey(m OutgoingMessage) (string, bool) {
	if m.Type != EventUpdate {
		return "", false
	}
	u, ok := m.Payload.(syncer.Update)
	if !ok || u.Type != syncer.UpdateCache || u.Key == "" {
		return "", false
	}
	return u.Key, true
}

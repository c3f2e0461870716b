package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/messenger-client/internal/logger"
)

const sendBufSize = 64

var errSendBufferFull = errors.New("realtime: send buffer full")

// bufPool pools bytes.Buffer for JSON encoding in writePump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// link is one live socket with its read and write pumps.
// Lifecycle: newLink -> start -> [readPump, writePump] -> close -> wait.
type link struct {
	conn      *websocket.Conn
	send      chan Envelope
	writeWait time.Duration
	pongWait  time.Duration
	maxSize   int64

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
	err    error
}

func newLink(conn *websocket.Conn, opts Options) *link {
	return &link{
		conn:      conn,
		send:      make(chan Envelope, sendBufSize),
		writeWait: opts.WriteTimeout,
		pongWait:  opts.PongTimeout,
		maxSize:   opts.MaxMessageSize,
		done:      make(chan struct{}),
	}
}

func (l *link) start(ctx context.Context, cancel context.CancelFunc, deliver func(context.Context, Event) bool) {
	l.cancel = cancel
	l.wg.Add(2)
	go l.writePump(ctx)
	go l.readPump(ctx, deliver)
}

func (l *link) wait() { l.wg.Wait() }

// close records the first cause and unblocks both pumps. Safe to call many times.
func (l *link) close(cause error) {
	l.once.Do(func() {
		l.err = cause
		if l.cancel != nil {
			l.cancel()
		}
		close(l.done)
		l.conn.Close()
	})
}

// cause is valid after done is closed.
func (l *link) cause() error {
	<-l.done
	return l.err
}

func (l *link) enqueue(env Envelope) error {
	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}
	select {
	case l.send <- env:
		return nil
	case <-l.done:
		return ErrNotConnected
	default:
		return errSendBufferFull
	}
}

func (l *link) readPump(ctx context.Context, deliver func(context.Context, Event) bool) {
	defer l.wg.Done()

	l.conn.SetReadLimit(l.maxSize)
	if err := l.conn.SetReadDeadline(time.Now().Add(l.pongWait)); err != nil {
		l.close(err)
		return
	}
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(l.pongWait))
	})
	l.conn.SetPingHandler(func(data string) error {
		_ = l.conn.SetReadDeadline(time.Now().Add(l.pongWait))
		err := l.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(l.writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("realtime: read: %v", err)
			}
			l.close(err)
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(l.pongWait))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("realtime: unmarshal frame: %v", err)
			continue
		}
		ev, err := Decode(env)
		if err != nil {
			if errors.Is(err, ErrUnknownEvent) {
				logger.Debugf("realtime: skip %v", err)
			} else {
				logger.Errorf("realtime: decode: %v", err)
			}
			continue
		}
		if !deliver(ctx, ev) {
			l.close(ctx.Err())
			return
		}
	}
}

func (l *link) writePump(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(l.writeWait))
			l.close(ctx.Err())
			return
		case env := <-l.send:
			if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeWait)); err != nil {
				l.close(err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(env); err != nil {
				bufPool.Put(buf)
				logger.Errorf("realtime: marshal %s: %v", env.Event, err)
				continue
			}
			data := bytes.TrimRight(buf.Bytes(), "\n")
			writeErr := l.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				l.close(writeErr)
				return
			}
			logger.Debugf("realtime: sent %s", env.Event)
		case <-ticker.C:
			if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeWait)); err != nil {
				l.close(err)
				return
			}
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.close(err)
				return
			}
		}
	}
}

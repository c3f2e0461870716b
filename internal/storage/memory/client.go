package memory

import (
	"context"
	"sync"

	"github.com/messenger-client/internal/storage"
)

// Client держит состояние только в памяти процесса: для тестов и запусков
// без сохранения сессии между перезапусками.
type Client struct {
	mu     sync.RWMutex
	vals   map[string][]byte
	closed bool
}

func New() *Client {
	return &Client{vals: make(map[string][]byte)}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, storage.ErrClosed
	}
	v, ok := c.vals[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	c.vals[key] = v
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.ErrClosed
	}
	delete(c.vals, key)
	return nil
}

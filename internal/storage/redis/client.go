package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Префикс ключей состояния клиента; несколько клиентов могут делить один Redis,
// если задают разные namespace.
const keyPrefix = "client_state:"

type Client struct {
	cli       *redis.Client
	namespace string
}

// New подключается по URL (redis://host:6379/0) и проверяет соединение PING.
func New(ctx context.Context, url, namespace string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, namespace: namespace}, nil
}

func (c *Client) key(k string) string {
	if c.namespace == "" {
		return keyPrefix + k
	}
	return keyPrefix + c.namespace + ":" + k
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Get возвращает значение ключа; redis.Nil превращается в (nil, nil).
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.cli.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set сохраняет без TTL: сессия живёт до явного выхода.
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	if err := c.cli.Set(ctx, c.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.cli.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

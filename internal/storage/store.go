package storage

import (
	"context"
	"errors"
)

// ErrClosed: хранилище уже закрыто.
var ErrClosed = errors.New("storage: closed")

// Store: долговременное key-value хранилище состояния клиента (сессия и т.п.).
// Значения: непрозрачные байты (обычно JSON). Get отсутствующего ключа
// возвращает (nil, nil).
// Реализации: file.Store (по умолчанию), memory.Client, redis.Client, postgres.Store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

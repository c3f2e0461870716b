package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/storage"
	"github.com/messenger-client/internal/storage/file"
	"github.com/messenger-client/internal/storage/memory"
	"github.com/messenger-client/internal/storage/postgres"
	redisstorage "github.com/messenger-client/internal/storage/redis"
)

const (
	retryInitial = 2 * time.Second
	retryCap     = 30 * time.Second
)

// OpenStore открывает хранилище сессии по cfg.Backend.
// Сетевые бэкенды (redis, postgres) подключаются с повторами в пределах maxWait.
func OpenStore(ctx context.Context, cfg config.SessionConfig, maxWait time.Duration) (storage.Store, error) {
	switch cfg.Backend {
	case config.SessionBackendMemory:
		return memory.New(), nil
	case config.SessionBackendRedis:
		return connectRedisWithRetry(ctx, cfg.RedisURL, cfg.Namespace, maxWait)
	case config.SessionBackendPostgres:
		return connectPostgresWithRetry(ctx, cfg.DatabaseURL, maxWait)
	default:
		dir := cfg.Path
		if dir == "" {
			dir = file.DefaultDir()
		}
		return file.New(dir)
	}
}

// retry повторяет connect с экспоненциальной паузой 2s→30s, пока не истечёт maxWait.
func retry[T any](ctx context.Context, what string, maxWait time.Duration, connect func(context.Context) (T, error)) (T, error) {
	deadline := time.Now().Add(maxWait)
	backoff := retryInitial
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		v, err := connect(attemptCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		if time.Now().After(deadline) {
			var zero T
			return zero, fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s connect failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < retryCap {
			backoff *= 2
		}
	}
}

func connectRedisWithRetry(ctx context.Context, url, namespace string, maxWait time.Duration) (*redisstorage.Client, error) {
	return retry(ctx, "redis", maxWait, func(ctx context.Context) (*redisstorage.Client, error) {
		return redisstorage.New(ctx, url, namespace)
	})
}

func connectPostgresWithRetry(ctx context.Context, url string, maxWait time.Duration) (*postgres.Store, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres: database_url is empty")
	}
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = 4
	pool, err := retry(ctx, "db", maxWait, func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	store := postgres.New(pool)
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

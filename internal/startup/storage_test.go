package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/storage/file"
	"github.com/messenger-client/internal/storage/memory"
)

func TestOpenStoreLocalBackends(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, config.SessionConfig{Backend: config.SessionBackendMemory}, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &memory.Client{}, s)

	s, err = OpenStore(ctx, config.SessionConfig{Backend: config.SessionBackendFile, Path: t.TempDir()}, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, s)
}

func TestOpenStorePostgresNeedsURL(t *testing.T) {
	_, err := OpenStore(context.Background(), config.SessionConfig{Backend: config.SessionBackendPostgres}, time.Second)
	assert.ErrorContains(t, err, "database_url is empty")
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	_, err := retry(context.Background(), "thing", -time.Second, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("refused")
	})
	assert.ErrorContains(t, err, "thing (gave up")
	assert.ErrorContains(t, err, "refused")
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := retry(ctx, "thing", time.Minute, func(context.Context) (int, error) {
		return 0, errors.New("refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrySucceeds(t *testing.T) {
	v, err := retry(context.Background(), "thing", time.Minute, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/storage/storetest"
)

// Нужен живой Redis: TEST_REDIS_URL=redis://localhost:6379/15.
func TestContract(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, url, "test-"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	storetest.Run(t, c)
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/messenger-client/internal/storage"
	"github.com/messenger-client/internal/storage/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, New())
}

func TestClosed(t *testing.T) {
	c := New()
	assert.NoError(t, c.Close())
	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, c.Set(context.Background(), "k", nil), storage.ErrClosed)
}

// Package storetest проверяет общий контракт storage.Store для всех бэкендов.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/storage"
)

// Run прогоняет контракт на s. s не должен содержать ключей с префиксом "storetest-".
func Run(t *testing.T, s storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		v, err := s.Get(ctx, "storetest-missing")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("set get overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "storetest-a", []byte(`{"v":1}`)))
		v, err := s.Get(ctx, "storetest-a")
		require.NoError(t, err)
		assert.Equal(t, `{"v":1}`, string(v))

		require.NoError(t, s.Set(ctx, "storetest-a", []byte(`{"v":2}`)))
		v, err = s.Get(ctx, "storetest-a")
		require.NoError(t, err)
		assert.Equal(t, `{"v":2}`, string(v))
	})

	t.Run("keys are independent", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "storetest-x", []byte("x")))
		require.NoError(t, s.Set(ctx, "storetest-y", []byte("y")))
		require.NoError(t, s.Delete(ctx, "storetest-x"))

		v, err := s.Get(ctx, "storetest-x")
		require.NoError(t, err)
		assert.Nil(t, v)
		v, err = s.Get(ctx, "storetest-y")
		require.NoError(t, err)
		assert.Equal(t, "y", string(v))
	})

	t.Run("delete missing", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "storetest-never"))
	})

	t.Run("returned bytes are a copy", func(t *testing.T) {
		in := []byte("abc")
		require.NoError(t, s.Set(ctx, "storetest-copy", in))
		in[0] = 'z'
		v, err := s.Get(ctx, "storetest-copy")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(v))
		v[1] = 'z'
		v, err = s.Get(ctx, "storetest-copy")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(v))
	})
}

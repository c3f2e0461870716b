package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/storage/storetest"
)

func TestContract(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	storetest.Run(t, s)
}

func TestSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "auth-storage", []byte(`{"state":{}}`)))

	s2, err := New(dir)
	require.NoError(t, err)
	v, err := s2.Get(context.Background(), "auth-storage")
	require.NoError(t, err)
	assert.Equal(t, `{"state":{}}`, string(v))

	info, err := os.Stat(filepath.Join(dir, "auth-storage.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestKeyIsSanitized(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "../escape/me", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "___escape_me.json", entries[0].Name())
}

func TestEmptyDir(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

package session_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/systmms/vaultsync/internal/session"
)

func TestFileStore_SaveLoadDelete(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "state", "vaultsync")
	store := session.NewFileStore(dir)

	_, err := store.Load("bitwarden")
	assert.ErrorIs(t, err, session.ErrNotCached)

	require.NoError(t, store.Save("bitwarden", "tok-123=="))

	info, err := os.Stat(store.Path("bitwarden"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, filepath.Join(dir, "session-bitwarden"), store.Path("bitwarden"))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	tok, err := store.Load("bitwarden")
	require.NoError(t, err)
	assert.Equal(t, "tok-123==", tok)

	require.NoError(t, store.Delete("bitwarden"))
	require.NoError(t, store.Delete("bitwarden"), "deleting twice is fine")
	_, err = store.Load("bitwarden")
	assert.ErrorIs(t, err, session.ErrNotCached)
}

func TestFileStore_Corrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"whitespace inside", "abc def\n"},
		{"binary", "abc\x00\x01"},
		{"multi line", "abc\ndef\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewFileStore(t.TempDir())
			require.NoError(t, os.WriteFile(store.Path("pass"), []byte(tt.content), 0o600))

			_, err := store.Load("pass")
			assert.ErrorIs(t, err, session.ErrCorrupt)
		})
	}

	store := session.NewFileStore(t.TempDir())
	assert.Error(t, store.Save("pass", "has space"))
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store := session.NewKeyringStore()

	_, err := store.Load("1password")
	assert.ErrorIs(t, err, session.ErrNotCached)

	require.NoError(t, store.Save("1password", "op-token"))
	tok, err := store.Load("1password")
	require.NoError(t, err)
	assert.Equal(t, "op-token", tok)

	require.NoError(t, store.Delete("1password"))
	require.NoError(t, store.Delete("1password"))
	_, err = store.Load("1password")
	assert.ErrorIs(t, err, session.ErrNotCached)
}

func TestNewStore(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/xdg-state")

	s, err := session.NewStore("", "")
	require.NoError(t, err)
	fs, ok := s.(*session.FileStore)
	require.True(t, ok)
	assert.Equal(t, "/tmp/xdg-state/vaultsync", fs.Dir)

	s, err = session.NewStore("file", "/custom")
	require.NoError(t, err)
	assert.Equal(t, "/custom", s.(*session.FileStore).Dir)

	s, err = session.NewStore("keyring", "")
	require.NoError(t, err)
	assert.IsType(t, &session.KeyringStore{}, s)

	_, err = session.NewStore("vault", "")
	assert.Error(t, err)
}

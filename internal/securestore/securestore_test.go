package securestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "access_token")
	assert.True(t, IsNotFound(err))

	require.NoError(t, m.Set(ctx, "access_token", "abc"))
	v, err := m.Get(ctx, "access_token")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	require.NoError(t, m.Delete(ctx, "access_token"))
	require.NoError(t, m.Delete(ctx, "access_token"), "delete must be idempotent")
	assert.Equal(t, 0, m.Len())
}

func TestMemory_FailOn(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("keychain locked")
	m.FailOn = func(op, key string) error {
		if op == "set" && key == "refresh_token" {
			return boom
		}
		return nil
	}

	require.NoError(t, m.Set(ctx, "access_token", "abc"))

	err := m.Set(ctx, "refresh_token", "def")
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "set", serr.Op)
	assert.Equal(t, "refresh_token", serr.Key)
	assert.ErrorIs(t, err, boom)
}

func TestFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")

	f, err := OpenFile(path, []byte("correct horse"))
	require.NoError(t, err)

	require.NoError(t, f.Set(ctx, "access_token", "secret-access"))
	require.NoError(t, f.Set(ctx, "expires_at", "1700000000"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "secret-access"), "values must be encrypted at rest")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := OpenFile(path, []byte("correct horse"))
	require.NoError(t, err)

	v, err := reopened.Get(ctx, "access_token")
	require.NoError(t, err)
	assert.Equal(t, "secret-access", v)

	require.NoError(t, reopened.Delete(ctx, "access_token"))
	_, err = reopened.Get(ctx, "access_token")
	assert.True(t, IsNotFound(err))

	require.NoError(t, reopened.Delete(ctx, "never_written"))
}

func TestFile_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")

	f, err := OpenFile(path, []byte("one"))
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, "access_token", "abc"))

	_, err = OpenFile(path, []byte("two"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestFile_EmptyPassphrase(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "tokens.json"), nil)
	assert.Error(t, err)
}

func TestFile_CorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")

	f, err := OpenFile(path, []byte("pw"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err = f.Get(ctx, "access_token")
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "get", serr.Op)
}

func TestSealer_BindsKeyName(t *testing.T) {
	s, err := newSealer(deriveKey([]byte("pw"), []byte("0123456789abcdef")))
	require.NoError(t, err)

	sealed, err := s.seal("access_token", "value")
	require.NoError(t, err)

	_, err = s.open("refresh_token", sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	v, err := s.open("access_token", sealed)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

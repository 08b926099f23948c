package sqlitestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRUD(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "token.db"), "")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, ok, err := db.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Put("cred/a", []byte("one")))
	require.NoError(t, db.Put("cred/b", []byte("two")))
	require.NoError(t, db.Put("pin/state", []byte("three")))

	value, ok, err := db.Get("cred/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), value)

	keys, err := db.List("cred/")
	require.NoError(t, err)
	assert.Equal(t, []string{"cred/a", "cred/b"}, keys)

	require.NoError(t, db.Delete("cred/a"))
	_, ok, err = db.Get("cred/a")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is not an error.
	require.NoError(t, db.Delete("cred/a"))
}

func TestOverwriteKeepsInsertionOrder(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "token.db"), "")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, db.Put("cred/a", []byte("one")))
	require.NoError(t, db.Put("cred/b", []byte("two")))
	require.NoError(t, db.Put("cred/a", []byte("updated")))

	keys, err := db.List("cred/")
	require.NoError(t, err)
	assert.Equal(t, []string{"cred/a", "cred/b"}, keys)

	value, ok, err := db.Get("cred/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("updated"), value)
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.db")

	db, err := Open(path, "")
	require.NoError(t, err)
	require.NoError(t, db.Put("counter", []byte{0x00, 0x00, 0x00, 0x07}))
	require.NoError(t, db.Close())

	db, err = Open(path, "")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	value, ok, err := db.Get("counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x07}, value)
}

func TestEncrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.db")

	db, err := Open(path, "hunter2")
	require.NoError(t, err)
	require.NoError(t, db.Put("secret", []byte("payload")))
	require.NoError(t, db.Close())

	// The right key opens the file again.
	db, err = Open(path, "hunter2")
	require.NoError(t, err)
	value, ok, err := db.Get("secret")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), value)
	require.NoError(t, db.Close())

	// The wrong key does not.
	wrong, err := Open(path, "wrong")
	if err == nil {
		_, _, err = wrong.Get("secret")
		_ = wrong.Close()
	}
	assert.Error(t, err)
}

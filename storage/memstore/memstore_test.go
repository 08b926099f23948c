package memstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	store := New()

	_, ok, err := store.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put("a", []byte("one")))
	v, ok, err := store.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), v)

	require.NoError(t, store.Delete("a"))
	_, ok, err = store.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is fine.
	require.NoError(t, store.Delete("a"))
}

func TestListInsertionOrder(t *testing.T) {
	store := New()
	require.NoError(t, store.Put("x:1", []byte("1")))
	require.NoError(t, store.Put("y:1", []byte("2")))
	require.NoError(t, store.Put("x:2", []byte("3")))

	keys, err := store.List("x:")
	require.NoError(t, err)
	assert.Equal(t, []string{"x:1", "x:2"}, keys)

	// Overwriting keeps the original position.
	require.NoError(t, store.Put("x:1", []byte("4")))
	keys, err = store.List("x:")
	require.NoError(t, err)
	assert.Equal(t, []string{"x:1", "x:2"}, keys)
}

func TestFailPuts(t *testing.T) {
	store := New()
	require.NoError(t, store.Put("a", []byte("one")))

	boom := errors.New("power loss")
	store.FailPuts(boom)
	assert.ErrorIs(t, store.Put("a", []byte("two")), boom)

	// The failed write left the old value intact.
	v, ok, err := store.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), v)

	store.FailPuts(nil)
	require.NoError(t, store.Put("a", []byte("three")))
}

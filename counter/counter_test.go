package counter

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammadv184/go-fido2-token/credential"
	"github.com/mohammadv184/go-fido2-token/devicekey"
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2"
	"github.com/mohammadv184/go-fido2-token/storage"
	"github.com/mohammadv184/go-fido2-token/storage/memstore"
)

func newTestGuard(t *testing.T) (*Guard, *credential.Manager, *memstore.Memstore) {
	t.Helper()
	encMode, err := cbor.CTAP2EncOptions().EncMode()
	require.NoError(t, err)
	store := memstore.New()
	creds := credential.NewManager(store, devicekey.NewFromSeed("test device"), encMode, 8, 64)
	return NewGuard(store, creds), creds, store
}

func TestNextGlobalMonotonic(t *testing.T) {
	g, _, _ := newTestGuard(t)

	var last uint32
	for range 5 {
		v, err := g.NextGlobal()
		require.NoError(t, err)
		assert.Greater(t, v, last)
		last = v
	}
	assert.Equal(t, uint32(5), last)
}

func TestNextGlobalPersistsBeforeIssuing(t *testing.T) {
	g, _, store := newTestGuard(t)

	v, err := g.NextGlobal()
	require.NoError(t, err)

	raw, ok, err := store.Get(storage.KeyGlobalCounter)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v, binary.BigEndian.Uint32(raw))
}

func TestNextGlobalNeverRepeatsAcrossFailedWrites(t *testing.T) {
	g, _, store := newTestGuard(t)

	v1, err := g.NextGlobal()
	require.NoError(t, err)

	// The persistence failure must suppress issuance entirely.
	store.FailPuts(errors.New("power loss"))
	_, err = g.NextGlobal()
	require.Error(t, err)

	store.FailPuts(nil)
	v2, err := g.NextGlobal()
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
}

func TestNextForCredentialDiscoverable(t *testing.T) {
	g, creds, _ := newTestGuard(t)

	rpIDHash := ctap2.HashRPID("example.com")
	cred, _, err := creds.Create(credential.CreateParams{
		RPID: "example.com", RPIDHash: rpIDHash[:],
		UserHandle: []byte("user"), Discoverable: true,
	})
	require.NoError(t, err)

	v1, err := g.NextForCredential(cred)
	require.NoError(t, err)
	v2, err := g.NextForCredential(cred)
	require.NoError(t, err)
	assert.Equal(t, v1+1, v2)

	// The per-credential counter is persisted in the record.
	stored, _, err := creds.Find(rpIDHash[:], cred.ID)
	require.NoError(t, err)
	assert.Equal(t, v2, stored.SignCount)

	// The global counter is untouched.
	global, err := g.NextGlobal()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), global)
}

func TestNextForCredentialNonDiscoverableSharesGlobal(t *testing.T) {
	g, creds, _ := newTestGuard(t)

	rpIDHash := ctap2.HashRPID("example.com")
	cred, _, err := creds.Create(credential.CreateParams{RPID: "example.com", RPIDHash: rpIDHash[:]})
	require.NoError(t, err)

	v1, err := g.NextForCredential(cred)
	require.NoError(t, err)
	v2, err := g.NextGlobal()
	require.NoError(t, err)
	assert.Equal(t, v1+1, v2)
}

func TestCounterExhaustionLatches(t *testing.T) {
	g, _, store := newTestGuard(t)

	require.NoError(t, store.Put(storage.KeyGlobalCounter, binary.BigEndian.AppendUint32(nil, math.MaxUint32)))

	_, err := g.NextGlobal()
	assert.ErrorIs(t, err, ErrExhausted)
	_, err = g.NextGlobal()
	assert.ErrorIs(t, err, ErrExhausted)

	// Factory reset clears the latch.
	require.NoError(t, g.Reset())
	v, err := g.NextGlobal()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v)
}

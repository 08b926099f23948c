// Package counter implements the monotonic signature counters. A counter
// value is persisted before it is released to a caller, so a power cut
// can skip values but never repeat one.
package counter

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/mohammadv184/go-fido2-token/credential"
	"github.com/mohammadv184/go-fido2-token/storage"
)

// ErrExhausted is returned once a counter reaches its maximum. The
// condition latches until factory reset.
var ErrExhausted = errors.New("counter: exhausted")

// Guard issues signature counter values. Non-discoverable credentials
// share the global counter; discoverable credentials carry their own in
// their stored record.
type Guard struct {
	store storage.Store
	creds *credential.Manager
}

// NewGuard creates a Guard over the given store.
func NewGuard(store storage.Store, creds *credential.Manager) *Guard {
	return &Guard{store: store, creds: creds}
}

// NextGlobal returns the next global counter value. The successor is
// persisted before the value is returned.
func (g *Guard) NextGlobal() (uint32, error) {
	cur, err := g.load()
	if err != nil {
		return 0, err
	}
	if cur == math.MaxUint32 {
		return 0, ErrExhausted
	}

	next := cur + 1
	if err := g.persist(next); err != nil {
		return 0, err
	}
	return next, nil
}

// NextForCredential returns the next counter value for a credential,
// persisting the advanced state before returning it.
func (g *Guard) NextForCredential(cred *credential.Credential) (uint32, error) {
	if !cred.Discoverable {
		return g.NextGlobal()
	}

	if cred.SignCount == math.MaxUint32 {
		return 0, ErrExhausted
	}
	next := cred.SignCount + 1
	if err := g.creds.SetSignCount(cred, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Reset zeroes the global counter. Used by factory reset.
func (g *Guard) Reset() error {
	return g.persist(0)
}

func (g *Guard) load() (uint32, error) {
	raw, ok, err := g.store.Get(storage.KeyGlobalCounter)
	if err != nil {
		return 0, err
	}
	if !ok || len(raw) != 4 {
		return 0, nil
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (g *Guard) persist(v uint32) error {
	return g.store.Put(storage.KeyGlobalCounter, binary.BigEndian.AppendUint32(nil, v))
}

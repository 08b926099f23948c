package credential

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/mohammadv184/go-fido2-token/devicekey"
	"github.com/mohammadv184/go-fido2-token/storage"
)

var (
	// ErrNotFound is returned when no credential matches. A wrapped id
	// that fails authentication, an id bound to a different relying party
	// and a genuinely unknown id are indistinguishable through this error.
	ErrNotFound = errors.New("credential: not found")
	// ErrStoreFull is returned when a per-RP or device-wide credential
	// limit would be exceeded. Nothing is written in that case.
	ErrStoreFull = errors.New("credential: store full")
)

const seedSize = 32

// Manager is the sole writer of credential records. It creates, looks up,
// enumerates and deletes credentials and enforces the storage limits.
type Manager struct {
	store   storage.Store
	keys    *devicekey.Keyring
	encMode cbor.EncMode

	maxPerRP int
	maxTotal int
}

// NewManager creates a Manager over the given store and crypto facade.
func NewManager(store storage.Store, keys *devicekey.Keyring, encMode cbor.EncMode, maxPerRP, maxTotal int) *Manager {
	return &Manager{
		store:    store,
		keys:     keys,
		encMode:  encMode,
		maxPerRP: maxPerRP,
		maxTotal: maxTotal,
	}
}

// CreateParams are the inputs of Create.
type CreateParams struct {
	RPID            string
	RPIDHash        []byte
	UserHandle      []byte
	UserName        string
	UserDisplayName string
	Discoverable    bool
}

// Create makes a new credential for a relying party. Discoverable
// credentials are persisted and replace an earlier credential of the same
// user; non-discoverable credentials leave no stored state, their id is
// the wrapped (rpIDHash, seed) tuple and their key is re-derived from it.
func (m *Manager) Create(p CreateParams) (*Credential, *ecdsa.PrivateKey, error) {
	if len(p.RPIDHash) != RPIDHashSize {
		return nil, nil, fmt.Errorf("credential: bad rpIdHash length %d", len(p.RPIDHash))
	}

	if !p.Discoverable {
		return m.createDerived(p)
	}

	// A new discoverable credential for the same user replaces the old one.
	existing, err := m.Enumerate(p.RPIDHash)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range existing {
		if len(p.UserHandle) > 0 && bytes.Equal(c.UserHandle, p.UserHandle) {
			if err := m.store.Delete(storage.CredentialKey(p.RPIDHash, c.ID)); err != nil {
				return nil, nil, err
			}
			existing = slices.DeleteFunc(existing, func(e *Credential) bool { return bytes.Equal(e.ID, c.ID) })
			break
		}
	}

	if len(existing) >= m.maxPerRP {
		return nil, nil, ErrStoreFull
	}
	total, err := m.Count()
	if err != nil {
		return nil, nil, err
	}
	if total >= m.maxTotal {
		return nil, nil, ErrStoreFull
	}

	priv, err := m.keys.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, nil, err
	}

	cred := &Credential{
		ID:              id[:],
		RPID:            p.RPID,
		RPIDHash:        slices.Clone(p.RPIDHash),
		UserHandle:      slices.Clone(p.UserHandle),
		UserName:        p.UserName,
		UserDisplayName: p.UserDisplayName,
		PrivateKeyD:     priv.D.Bytes(),
		CreatedAt:       now(),
		Discoverable:    true,
	}

	if err := m.persist(cred); err != nil {
		return nil, nil, err
	}

	return cred, priv, nil
}

func (m *Manager) createDerived(p CreateParams) (*Credential, *ecdsa.PrivateKey, error) {
	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, err
	}

	id, err := m.keys.Wrap(slices.Concat(p.RPIDHash, seed))
	if err != nil {
		return nil, nil, err
	}

	priv, err := m.keys.DeriveCredentialKey(id)
	if err != nil {
		return nil, nil, err
	}

	cred := &Credential{
		ID:         id,
		RPIDHash:   slices.Clone(p.RPIDHash),
		UserHandle: slices.Clone(p.UserHandle),
		CreatedAt:  now(),
	}

	return cred, priv, nil
}

// Find resolves a presented credential id for a relying party. It first
// attempts to unwrap the id as a non-discoverable credential and falls
// back to a store lookup. Every failure mode returns ErrNotFound.
func (m *Manager) Find(rpIDHash, credentialID []byte) (*Credential, *ecdsa.PrivateKey, error) {
	if plaintext, ok := m.keys.Unwrap(credentialID); ok {
		if len(plaintext) != RPIDHashSize+seedSize || !bytes.Equal(plaintext[:RPIDHashSize], rpIDHash) {
			return nil, nil, ErrNotFound
		}

		priv, err := m.keys.DeriveCredentialKey(credentialID)
		if err != nil {
			return nil, nil, ErrNotFound
		}

		return &Credential{
			ID:       slices.Clone(credentialID),
			RPIDHash: slices.Clone(rpIDHash),
		}, priv, nil
	}

	raw, ok, err := m.store.Get(storage.CredentialKey(rpIDHash, credentialID))
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotFound
	}

	cred, err := Unmarshal(raw)
	if err != nil || !cred.BoundTo(rpIDHash) {
		return nil, nil, ErrNotFound
	}

	return cred, cred.PrivateKey(), nil
}

// FindByID resolves a stored credential by its id alone, across relying
// parties. Used by credential management, where the platform presents
// only the credential id.
func (m *Manager) FindByID(credentialID []byte) (*Credential, error) {
	all, err := m.EnumerateAll()
	if err != nil {
		return nil, err
	}
	for _, cred := range all {
		if bytes.Equal(cred.ID, credentialID) {
			return cred, nil
		}
	}
	return nil, ErrNotFound
}

// EnumerateAll returns every stored discoverable credential in creation
// order.
func (m *Manager) EnumerateAll() ([]*Credential, error) {
	keys, err := m.store.List(storage.AllCredentialsPrefix())
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := m.store.Get(k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cred, err := Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	slices.SortStableFunc(creds, Age)
	return creds, nil
}

// Enumerate returns the discoverable credentials of a relying party in
// creation order, oldest first.
func (m *Manager) Enumerate(rpIDHash []byte) ([]*Credential, error) {
	keys, err := m.store.List(storage.CredentialPrefix(rpIDHash))
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := m.store.Get(k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cred, err := Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	slices.SortStableFunc(creds, Age)
	return creds, nil
}

// RelyingParty names a relying party that has discoverable credentials.
type RelyingParty struct {
	ID   string
	Hash []byte
}

// EnumerateRPs returns the distinct relying parties with discoverable
// credentials, in first-creation order.
func (m *Manager) EnumerateRPs() ([]RelyingParty, error) {
	all, err := m.EnumerateAll()
	if err != nil {
		return nil, err
	}

	var rps []RelyingParty
	for _, cred := range all {
		if !slices.ContainsFunc(rps, func(rp RelyingParty) bool { return bytes.Equal(rp.Hash, cred.RPIDHash) }) {
			rps = append(rps, RelyingParty{ID: cred.RPID, Hash: cred.RPIDHash})
		}
	}
	return rps, nil
}

// Delete removes a discoverable credential. Unknown ids, including
// non-discoverable ones that leave no record, return ErrNotFound.
func (m *Manager) Delete(rpIDHash, credentialID []byte) error {
	key := storage.CredentialKey(rpIDHash, credentialID)
	if _, ok, err := m.store.Get(key); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return m.store.Delete(key)
}

// UpdateUser rewrites the user entity of a discoverable credential.
func (m *Manager) UpdateUser(rpIDHash, credentialID, userHandle []byte, name, displayName string) error {
	cred, _, err := m.Find(rpIDHash, credentialID)
	if err != nil {
		return err
	}
	if !cred.Discoverable {
		return ErrNotFound
	}

	cred.UserHandle = slices.Clone(userHandle)
	cred.UserName = name
	cred.UserDisplayName = displayName
	return m.persist(cred)
}

// SetSignCount persists a new per-credential signature counter. Only
// discoverable credentials carry one.
func (m *Manager) SetSignCount(cred *Credential, count uint32) error {
	if !cred.Discoverable {
		return nil
	}
	cred.SignCount = count
	return m.persist(cred)
}

// Count returns the number of stored discoverable credentials.
func (m *Manager) Count() (int, error) {
	keys, err := m.store.List(storage.AllCredentialsPrefix())
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Remaining returns how many more discoverable credentials fit on the
// device.
func (m *Manager) Remaining() (int, error) {
	total, err := m.Count()
	if err != nil {
		return 0, err
	}
	return max(m.maxTotal-total, 0), nil
}

// DeleteAll wipes every credential record. Used by factory reset.
func (m *Manager) DeleteAll() error {
	keys, err := m.store.List(storage.AllCredentialsPrefix())
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := m.store.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) persist(cred *Credential) error {
	raw, err := cred.Marshal(m.encMode)
	if err != nil {
		return err
	}
	return m.store.Put(storage.CredentialKey(cred.RPIDHash, cred.ID), raw)
}

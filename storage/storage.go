// Package storage defines the persistent store boundary of the
// authenticator: a durable key/value store with atomic operations, plus
// the record key layout shared by every component that persists state.
package storage

import "encoding/hex"

// Store is the persistent store adapter. Every call is atomic: a Put or
// Delete either fully applies or leaves the previous value intact, even
// across power loss. Confidentiality and integrity of the stored bytes are
// the store's concern, not the caller's.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(key string) ([]byte, bool, error)
	// Put durably writes value under key.
	Put(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// List returns all keys with the given prefix in insertion order.
	List(prefix string) ([]string, error)
}

// Global record keys.
const (
	KeyGlobalCounter = "global:counter"
	KeyPinState      = "global:pin_state"
	KeyRetryCounter  = "global:retry_counter"
)

const credentialKeyPrefix = "credential:"

// CredentialKey builds the record key of a credential bound to a relying
// party.
func CredentialKey(rpIDHash, credentialID []byte) string {
	return CredentialPrefix(rpIDHash) + hex.EncodeToString(credentialID)
}

// CredentialPrefix is the key prefix shared by all credentials of one
// relying party.
func CredentialPrefix(rpIDHash []byte) string {
	return credentialKeyPrefix + hex.EncodeToString(rpIDHash) + ":"
}

// AllCredentialsPrefix is the key prefix shared by every credential record.
func AllCredentialsPrefix() string {
	return credentialKeyPrefix
}

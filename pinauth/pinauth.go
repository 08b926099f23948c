// Package pinauth implements the device's PIN authority: PIN storage,
// verification with persistent and per-boot lockouts, and the session
// token handed to the platform after a successful verification.
package pinauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"errors"

	"github.com/fxamacker/cbor/v2"

	"github.com/mohammadv184/go-fido2-token/devicekey"
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2"
	"github.com/mohammadv184/go-fido2-token/storage"
)

var (
	// ErrNotSet is returned when an operation needs a PIN and none is set.
	ErrNotSet = errors.New("pinauth: no PIN set")
	// ErrInvalid is returned on a PIN mismatch.
	ErrInvalid = errors.New("pinauth: invalid PIN")
	// ErrBlocked is returned once the persistent retry counter is
	// exhausted. Only a factory reset clears it.
	ErrBlocked = errors.New("pinauth: PIN blocked")
	// ErrAuthBlocked is returned after too many consecutive failures in
	// one power cycle. A reboot clears it.
	ErrAuthBlocked = errors.New("pinauth: PIN authentication blocked until power cycle")
	// ErrPolicy is returned when a new PIN violates the length policy.
	ErrPolicy = errors.New("pinauth: PIN policy violation")
	// ErrAuthInvalid is returned when a pinUvAuthParam does not verify
	// against the current session token.
	ErrAuthInvalid = errors.New("pinauth: pinUvAuthParam invalid")
)

const (
	pinHashSize    = 16
	paddedPinSize  = 64
	minPinLength   = 4
	maxPinLength   = 63
	sessionTokSize = 32
)

type pinState struct {
	Salt []byte `cbor:"1,keyasint"`
	Hash []byte `cbor:"2,keyasint"`
}

// Authority owns the client PIN lifecycle. The cumulative retry counter
// is persisted so reboots cannot extend a brute-force budget; the
// consecutive-failure counter lives in memory and resets on power cycle.
type Authority struct {
	store   storage.Store
	keys    *devicekey.Keyring
	encMode cbor.EncMode

	maxRetries     int
	maxConsecutive int

	consecutive  int
	sessionToken []byte
}

// NewAuthority creates the PIN authority and seeds the persistent retry
// counter on first boot.
func NewAuthority(store storage.Store, keys *devicekey.Keyring, encMode cbor.EncMode, maxRetries, maxConsecutive int) (*Authority, error) {
	a := &Authority{
		store:          store,
		keys:           keys,
		encMode:        encMode,
		maxRetries:     maxRetries,
		maxConsecutive: maxConsecutive,
	}

	if _, ok, err := store.Get(storage.KeyRetryCounter); err != nil {
		return nil, err
	} else if !ok {
		if err := a.putRetries(maxRetries); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// IsSet reports whether a client PIN is configured.
func (a *Authority) IsSet() (bool, error) {
	_, ok, err := a.store.Get(storage.KeyPinState)
	return ok, err
}

// Retries returns the remaining persisted PIN attempts.
func (a *Authority) Retries() (int, error) {
	raw, ok, err := a.store.Get(storage.KeyRetryCounter)
	if err != nil {
		return 0, err
	}
	if !ok || len(raw) != 1 {
		return a.maxRetries, nil
	}
	return int(raw[0]), nil
}

// SetPIN configures the initial PIN from its zero-padded plaintext.
func (a *Authority) SetPIN(paddedPin []byte) error {
	if set, err := a.IsSet(); err != nil {
		return err
	} else if set {
		return ErrInvalid
	}
	return a.storePin(paddedPin)
}

// ChangePIN replaces the PIN after verifying the hash of the current one.
// The verification is subject to the same lockouts as GetPinToken.
func (a *Authority) ChangePIN(currentPinHash, newPaddedPin []byte) error {
	if err := a.verify(currentPinHash); err != nil {
		return err
	}
	return a.storePin(newPaddedPin)
}

// VerifyPINHash checks the left half of SHA-256 of the PIN and on success
// issues a fresh session token. Each call consumes a persisted retry
// until it succeeds.
func (a *Authority) VerifyPINHash(pinHash []byte) ([]byte, error) {
	if err := a.verify(pinHash); err != nil {
		return nil, err
	}

	token := make([]byte, sessionTokSize)
	if _, err := rand.Read(token); err != nil {
		return nil, err
	}
	a.sessionToken = token
	return bytes.Clone(token), nil
}

// SessionToken returns the current PIN session token, nil when none has
// been issued.
func (a *Authority) SessionToken() []byte {
	return a.sessionToken
}

// CheckToken verifies a pinUvAuthParam over message against the current
// session token using the given PIN/UV auth protocol.
func (a *Authority) CheckToken(proto ctap2.PinUvAuthProtocolType, param, message []byte) error {
	if a.sessionToken == nil {
		return ErrAuthInvalid
	}
	if !ctap2.Verify(proto, a.sessionToken, message, param) {
		return ErrAuthInvalid
	}
	return nil
}

// AuthBlocked reports whether PIN verification is locked out for the rest
// of this power cycle.
func (a *Authority) AuthBlocked() bool {
	return a.consecutive >= a.maxConsecutive
}

// InvalidateToken drops the current session token.
func (a *Authority) InvalidateToken() {
	a.sessionToken = nil
}

// ResetFactory wipes the PIN, restores the retry budget and clears every
// lockout, including the per-boot one.
func (a *Authority) ResetFactory() error {
	if err := a.store.Delete(storage.KeyPinState); err != nil {
		return err
	}
	if err := a.putRetries(a.maxRetries); err != nil {
		return err
	}
	a.consecutive = 0
	a.sessionToken = nil
	return nil
}

func (a *Authority) verify(pinHash []byte) error {
	raw, ok, err := a.store.Get(storage.KeyPinState)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotSet
	}

	var state pinState
	if err := cbor.Unmarshal(raw, &state); err != nil {
		return err
	}

	retries, err := a.Retries()
	if err != nil {
		return err
	}
	if retries <= 0 {
		return ErrBlocked
	}
	if a.consecutive >= a.maxConsecutive {
		return ErrAuthBlocked
	}

	// The retry is spent before the comparison so a power cut cannot
	// refund a guess.
	if err := a.putRetries(retries - 1); err != nil {
		return err
	}

	if len(pinHash) == pinHashSize && hmac.Equal(a.keys.HMAC(state.Salt, pinHash), state.Hash) {
		a.consecutive = 0
		return a.putRetries(a.maxRetries)
	}

	a.consecutive++
	a.sessionToken = nil
	switch {
	case retries-1 <= 0:
		return ErrBlocked
	case a.consecutive >= a.maxConsecutive:
		return ErrAuthBlocked
	default:
		return ErrInvalid
	}
}

func (a *Authority) storePin(paddedPin []byte) error {
	if len(paddedPin) != paddedPinSize {
		return ErrPolicy
	}
	pin := bytes.TrimRight(paddedPin, "\x00")
	if len(pin) < minPinLength || len(pin) > maxPinLength {
		return ErrPolicy
	}
	if bytes.ContainsRune(pin, 0) {
		return ErrPolicy
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	state := pinState{
		Salt: salt,
		Hash: a.keys.HMAC(salt, a.keys.Hash(pin)[:pinHashSize]),
	}
	raw, err := a.encMode.Marshal(state)
	if err != nil {
		return err
	}
	if err := a.store.Put(storage.KeyPinState, raw); err != nil {
		return err
	}

	a.consecutive = 0
	a.sessionToken = nil
	return a.putRetries(a.maxRetries)
}

func (a *Authority) putRetries(n int) error {
	return a.store.Put(storage.KeyRetryCounter, []byte{byte(n)})
}

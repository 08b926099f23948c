// Package devicekey is the crypto facade of the authenticator: key-pair
// generation, ECDSA signing, hashing, HMAC, key wrapping, and the
// deterministic re-derivation of non-discoverable credential keys from the
// device master secret.
package devicekey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"slices"
)

// MasterSecretSize is the required length of the device master secret.
const MasterSecretSize = 32

// ErrMasterSecretSize is returned when the supplied master secret has the
// wrong length.
var ErrMasterSecretSize = errors.New("devicekey: master secret must be 32 bytes")

// Domain-separation labels for keys derived from the master secret.
var (
	labelWrapKey       = []byte("wrap-key")
	labelCredentialKey = []byte("credential-key")
)

// Keyring holds the device master secret and exposes the cryptographic
// operations the command engine consumes. All operations are deterministic
// except key-pair generation and wrapping nonces.
type Keyring struct {
	master  []byte
	wrapKey []byte
}

// New creates a Keyring from the hardware-provided master secret.
func New(master []byte) (*Keyring, error) {
	if len(master) != MasterSecretSize {
		return nil, ErrMasterSecretSize
	}

	k := &Keyring{master: slices.Clone(master)}
	k.wrapKey = k.HMAC(k.master, labelWrapKey)
	return k, nil
}

// NewFromSeed derives a master secret from a seed string. Test and
// development use only.
func NewFromSeed(seed string) *Keyring {
	sum := sha256.Sum256([]byte(seed))
	k, err := New(sum[:])
	if err != nil {
		panic(err)
	}
	return k
}

// GenerateKeyPair generates a fresh P-256 key pair.
func (k *Keyring) GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cannot generate P-256 keypair: %w", err)
	}
	return priv, nil
}

// Hash returns the SHA-256 digest of b.
func (k *Keyring) Hash(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// HMAC returns the HMAC-SHA-256 tag of message under key.
func (k *Keyring) HMAC(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// Wrap encrypts and authenticates plaintext under the device wrapping key.
// The random nonce is prepended to the ciphertext.
func (k *Keyring) Wrap(plaintext []byte) ([]byte, error) {
	gcm, err := k.wrapAEAD()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Unwrap authenticates and decrypts a blob produced by Wrap. It returns
// false on any authentication failure and never panics on adversarial
// input.
func (k *Keyring) Unwrap(blob []byte) ([]byte, bool) {
	gcm, err := k.wrapAEAD()
	if err != nil {
		return nil, false
	}
	if len(blob) < gcm.NonceSize() {
		return nil, false
	}

	plaintext, err := gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], nil)
	if err != nil {
		return nil, false
	}

	return plaintext, true
}

func (k *Keyring) wrapAEAD() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.wrapKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveCredentialKey deterministically re-derives the private key of a
// non-discoverable credential from the master secret and the credential
// id. The same id always yields the same key; the key is never persisted.
func (k *Keyring) DeriveCredentialKey(credentialID []byte) (*ecdsa.PrivateKey, error) {
	secret := k.HMAC(k.master, slices.Concat(labelCredentialKey, credentialID))
	return privateKeyFromSecret(secret)
}

// privateKeyFromSecret maps a 32-byte secret onto a valid P-256 scalar.
func privateKeyFromSecret(secret []byte) (*ecdsa.PrivateKey, error) {
	curve := elliptic.P256()
	nMinusOne := new(big.Int).Sub(curve.Params().N, big.NewInt(1))

	d := new(big.Int).SetBytes(secret)
	d.Mod(d, nMinusOne)
	d.Add(d, big.NewInt(1))

	priv := &ecdsa.PrivateKey{D: d}
	priv.PublicKey.Curve = curve
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	return priv, nil
}

// Sign signs the SHA-256 digest of message with priv and returns the
// ASN.1 DER encoded signature.
func Sign(priv *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("cannot sign: %w", err)
	}
	return sig, nil
}

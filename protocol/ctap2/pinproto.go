package ctap2

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ldclabs/cose/iana"
	"github.com/ldclabs/cose/key"
	ecdh2 "github.com/ldclabs/cose/key/ecdh"

	"github.com/mohammadv184/go-fido2-token/protocol/ctap2/pin/protocolone"
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2/pin/protocoltwo"
)

// ErrInvalidPinAuthProtocol is returned when an unsupported PIN/UV auth
// protocol is requested.
var ErrInvalidPinAuthProtocol = errors.New("invalid auth protocol")

// PinUvAuthProtocolType represents the PIN/UV auth protocol version.
type PinUvAuthProtocolType uint

func (p PinUvAuthProtocolType) String() string {
	return PinUvAuthProtocolStringMap[p]
}

const (
	// PinUvAuthProtocolTypeOne is PIN/UV auth protocol version 1.
	PinUvAuthProtocolTypeOne PinUvAuthProtocolType = iota + 1
	// PinUvAuthProtocolTypeTwo is PIN/UV auth protocol version 2.
	PinUvAuthProtocolTypeTwo
)

// PinUvAuthProtocolStringMap maps PIN/UV auth protocol types to their
// string representations.
var PinUvAuthProtocolStringMap = map[PinUvAuthProtocolType]string{
	PinUvAuthProtocolTypeOne: "PinUvAuthProtocolOne",
	PinUvAuthProtocolTypeTwo: "PinUvAuthProtocolTwo",
}

// PinUvAuthProtocol holds the authenticator side of the PIN/UV key
// agreement: the long-lived device key-agreement key and the protocol's
// cryptographic operations.
type PinUvAuthProtocol struct {
	Type             PinUvAuthProtocolType
	devicePrivateKey *ecdh.PrivateKey
	deviceCoseKey    key.Key
}

// NewPinUvAuthProtocol creates a PinUvAuthProtocol with a fresh device
// key-agreement key.
func NewPinUvAuthProtocol(number PinUvAuthProtocolType) (*PinUvAuthProtocol, error) {
	if number != PinUvAuthProtocolTypeOne && number != PinUvAuthProtocolTypeTwo {
		return nil, ErrInvalidPinAuthProtocol
	}

	p := &PinUvAuthProtocol{Type: number}
	if err := p.Regenerate(); err != nil {
		return nil, err
	}

	return p, nil
}

// Regenerate replaces the device key-agreement key. Called at boot and
// after every failed PIN attempt so an attacker cannot reuse a stale
// shared secret.
func (p *PinUvAuthProtocol) Regenerate() error {
	devicePrivkey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("cannot generate device P-256 keypair: %w", err)
	}

	// nolint:errcheck,forcetypeassert
	devicePubkey, err := ecdh2.KeyFromPublic(
		devicePrivkey.Public().(*ecdh.PublicKey),
	)
	if err != nil {
		return fmt.Errorf("cannot convert device public key to COSE_Key: %w", err)
	}
	if err := devicePubkey.Set(iana.KeyParameterAlg, -25); err != nil {
		return fmt.Errorf("cannot set alg parameter for COSE_Key: %w", err)
	}

	// Specification explicitly requires COSE_Key to contain only the
	// necessary parameters.
	delete(devicePubkey, iana.KeyParameterKid)

	p.devicePrivateKey = devicePrivkey
	p.deviceCoseKey = devicePubkey
	return nil
}

// CoseKey returns the device key-agreement public key as a COSE_Key.
func (p *PinUvAuthProtocol) CoseKey() key.Key {
	return p.deviceCoseKey
}

// Decapsulate performs ECDH with the platform's ephemeral public key and
// derives the shared secret with the protocol KDF.
func (p *PinUvAuthProtocol) Decapsulate(platformCoseKey key.Key) ([]byte, error) {
	platformPubkey, err := ecdh2.KeyToPublic(platformCoseKey)
	if err != nil {
		return nil, fmt.Errorf("cannot convert platform public key to Go *ecdh.PublicKey: %w", err)
	}

	z, err := p.devicePrivateKey.ECDH(platformPubkey)
	if err != nil {
		return nil, fmt.Errorf("cannot derive shared secret: %w", err)
	}

	return p.KDF(z)
}

// KDF derives a key from the raw ECDH output using the protocol KDF.
func (p *PinUvAuthProtocol) KDF(z []byte) ([]byte, error) {
	switch p.Type {
	case PinUvAuthProtocolTypeOne:
		return protocolone.KDF(z), nil
	case PinUvAuthProtocolTypeTwo:
		return protocoltwo.KDF(z)
	default:
		return nil, ErrInvalidPinAuthProtocol
	}
}

// Encrypt encrypts the plaintext using the shared secret and the protocol
// encryption.
func (p *PinUvAuthProtocol) Encrypt(sharedSecret, plaintext []byte) ([]byte, error) {
	switch p.Type {
	case PinUvAuthProtocolTypeOne:
		return protocolone.Encrypt(sharedSecret, plaintext)
	case PinUvAuthProtocolTypeTwo:
		return protocoltwo.Encrypt(sharedSecret, plaintext)
	default:
		return nil, ErrInvalidPinAuthProtocol
	}
}

// Decrypt decrypts the ciphertext using the shared secret and the protocol
// decryption.
func (p *PinUvAuthProtocol) Decrypt(sharedSecret, ciphertext []byte) ([]byte, error) {
	switch p.Type {
	case PinUvAuthProtocolTypeOne:
		return protocolone.Decrypt(sharedSecret, ciphertext)
	case PinUvAuthProtocolTypeTwo:
		return protocoltwo.Decrypt(sharedSecret, ciphertext)
	default:
		return nil, ErrInvalidPinAuthProtocol
	}
}

// Authenticate calculates the authentication MAC for the message.
func Authenticate(number PinUvAuthProtocolType, key, message []byte) []byte {
	switch number {
	case PinUvAuthProtocolTypeOne:
		return protocolone.Authenticate(key, message)
	case PinUvAuthProtocolTypeTwo:
		return protocoltwo.Authenticate(key, message)
	default:
		panic("invalid auth protocol")
	}
}

// Verify reports whether tag authenticates the message under key for the
// given protocol. Unknown protocols never verify.
func Verify(number PinUvAuthProtocolType, key, message, tag []byte) bool {
	switch number {
	case PinUvAuthProtocolTypeOne:
		return protocolone.Verify(key, message, tag)
	case PinUvAuthProtocolTypeTwo:
		return protocoltwo.Verify(key, message, tag)
	default:
		return false
	}
}

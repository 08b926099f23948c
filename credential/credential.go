// Package credential manages the authenticator's credentials: discoverable
// records persisted in the store and stateless non-discoverable
// credentials whose key material is re-derived from the device master
// secret on every use.
package credential

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// RPIDHashSize is the fixed length of a relying-party identifier hash.
const RPIDHashSize = 32

// Credential is one credential bound to a relying party. For discoverable
// credentials the record is persisted; for non-discoverable ones it is
// reconstructed from the wrapped credential id on each use and PrivateKeyD
// is empty.
type Credential struct {
	ID              []byte `cbor:"1,keyasint"`
	RPIDHash        []byte `cbor:"2,keyasint"`
	UserHandle      []byte `cbor:"3,keyasint,omitempty"`
	UserName        string `cbor:"4,keyasint,omitempty"`
	UserDisplayName string `cbor:"5,keyasint,omitempty"`
	PrivateKeyD     []byte `cbor:"6,keyasint,omitempty"`
	SignCount       uint32 `cbor:"7,keyasint"`
	CreatedAt       int64  `cbor:"8,keyasint"`
	Discoverable    bool   `cbor:"9,keyasint"`
	RPID            string `cbor:"10,keyasint,omitempty"`
}

// PrivateKey reconstructs the stored P-256 private key of a discoverable
// credential.
func (c *Credential) PrivateKey() *ecdsa.PrivateKey {
	if len(c.PrivateKeyD) == 0 {
		return nil
	}

	curve := elliptic.P256()
	priv := &ecdsa.PrivateKey{D: new(big.Int).SetBytes(c.PrivateKeyD)}
	priv.PublicKey.Curve = curve
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(c.PrivateKeyD)
	return priv
}

// BoundTo reports whether the credential belongs to the given relying
// party.
func (c *Credential) BoundTo(rpIDHash []byte) bool {
	return bytes.Equal(c.RPIDHash, rpIDHash)
}

// Marshal serializes the credential record.
func (c *Credential) Marshal(encMode cbor.EncMode) ([]byte, error) {
	return encMode.Marshal(c)
}

// Unmarshal deserializes a credential record.
func Unmarshal(b []byte) (*Credential, error) {
	var c *Credential
	if err := cbor.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// Age orders credentials by creation time, oldest first.
func Age(a, b *Credential) int {
	switch {
	case a.CreatedAt < b.CreatedAt:
		return -1
	case a.CreatedAt > b.CreatedAt:
		return 1
	default:
		return 0
	}
}

func now() int64 {
	return time.Now().UnixNano()
}

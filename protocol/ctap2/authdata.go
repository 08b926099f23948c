package ctap2

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ldclabs/cose/iana"
	coseecdsa "github.com/ldclabs/cose/key/ecdsa"
)

// Authenticator data flag bits.
const (
	FlagUserPresent      byte = 0x01
	FlagUserVerified     byte = 0x04
	FlagAttestedCredData byte = 0x40
	FlagExtensionData    byte = 0x80
)

// AAGUIDSize is the fixed length of the authenticator AAGUID.
const AAGUIDSize = 16

// AttestedCredentialData is the attested credential block appended to the
// authenticator data of a MakeCredential response.
type AttestedCredentialData struct {
	AAGUID              [AAGUIDSize]byte
	CredentialID        []byte
	CredentialPublicKey []byte
}

// AuthenticatorData is the signed authenticator data structure included in
// every registration and assertion response.
type AuthenticatorData struct {
	RPIDHash               [32]byte
	Flags                  byte
	SignCount              uint32
	AttestedCredentialData *AttestedCredentialData
}

// Marshal serializes the authenticator data to its wire form.
func (ad *AuthenticatorData) Marshal() []byte {
	var buf bytes.Buffer
	buf.Write(ad.RPIDHash[:])
	buf.WriteByte(ad.Flags)

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], ad.SignCount)
	buf.Write(count[:])

	if ad.Flags&FlagAttestedCredData != 0 && ad.AttestedCredentialData != nil {
		acd := ad.AttestedCredentialData
		buf.Write(acd.AAGUID[:])

		var idLen [2]byte
		binary.BigEndian.PutUint16(idLen[:], uint16(len(acd.CredentialID)))
		buf.Write(idLen[:])
		buf.Write(acd.CredentialID)
		buf.Write(acd.CredentialPublicKey)
	}

	return buf.Bytes()
}

// HashRPID returns the SHA-256 hash of a relying-party identifier.
func HashRPID(rpID string) [32]byte {
	return sha256.Sum256([]byte(rpID))
}

// EncodeCredentialPublicKey encodes an ES256 public key as a CTAP2
// canonical COSE_Key.
func EncodeCredentialPublicKey(encMode cbor.EncMode, pub *ecdsa.PublicKey) ([]byte, error) {
	coseKey, err := coseecdsa.KeyFromPublic(pub)
	if err != nil {
		return nil, fmt.Errorf("cannot convert credential public key to COSE_Key: %w", err)
	}
	if err := coseKey.Set(iana.KeyParameterAlg, iana.AlgorithmES256); err != nil {
		return nil, fmt.Errorf("cannot set alg parameter for COSE_Key: %w", err)
	}

	// COSE_Key must contain only the necessary parameters.
	delete(coseKey, iana.KeyParameterKid)

	b, err := encMode.Marshal(coseKey)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal COSE_Key: %w", err)
	}

	return b, nil
}

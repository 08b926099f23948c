package ctap2

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/ldclabs/cose/iana"
	ecdh2 "github.com/ldclabs/cose/key/ecdh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPinUvAuthProtocolRejectsUnknownVersion(t *testing.T) {
	_, err := NewPinUvAuthProtocol(3)
	assert.ErrorIs(t, err, ErrInvalidPinAuthProtocol)
}

func TestKeyAgreement(t *testing.T) {
	for _, typ := range []PinUvAuthProtocolType{PinUvAuthProtocolTypeOne, PinUvAuthProtocolTypeTwo} {
		t.Run(typ.String(), func(t *testing.T) {
			proto, err := NewPinUvAuthProtocol(typ)
			require.NoError(t, err)

			platformPriv, err := ecdh.P256().GenerateKey(rand.Reader)
			require.NoError(t, err)
			platformCose, err := ecdh2.KeyFromPublic(platformPriv.Public().(*ecdh.PublicKey))
			require.NoError(t, err)

			deviceShared, err := proto.Decapsulate(platformCose)
			require.NoError(t, err)

			devicePub, err := ecdh2.KeyToPublic(proto.CoseKey())
			require.NoError(t, err)
			z, err := platformPriv.ECDH(devicePub)
			require.NoError(t, err)
			platformShared, err := proto.KDF(z)
			require.NoError(t, err)

			assert.Equal(t, deviceShared, platformShared)

			plaintext := make([]byte, 32)
			ciphertext, err := proto.Encrypt(deviceShared, plaintext)
			require.NoError(t, err)
			decrypted, err := proto.Decrypt(platformShared, ciphertext)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)
		})
	}
}

func TestRegenerateReplacesKey(t *testing.T) {
	proto, err := NewPinUvAuthProtocol(PinUvAuthProtocolTypeOne)
	require.NoError(t, err)

	before := proto.CoseKey()
	require.NoError(t, proto.Regenerate())
	after := proto.CoseKey()

	xBefore, err := before.GetBytes(iana.EC2KeyParameterX)
	require.NoError(t, err)
	xAfter, err := after.GetBytes(iana.EC2KeyParameterX)
	require.NoError(t, err)
	assert.NotEqual(t, xBefore, xAfter)
}

func TestVerifyUnknownProtocolNeverPasses(t *testing.T) {
	assert.False(t, Verify(3, []byte("key"), []byte("message"), []byte("tag")))
}

package protocolone

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret() []byte {
	s := sha256.Sum256([]byte("shared secret"))
	return s[:]
}

func TestEncryptDecrypt(t *testing.T) {
	plaintext := make([]byte, 64)
	copy(plaintext, "1234")

	ciphertext, err := Encrypt(testSecret(), plaintext)
	require.NoError(t, err)
	require.Len(t, ciphertext, 64)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(testSecret(), ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptRejectsPartialBlock(t *testing.T) {
	_, err := Decrypt(testSecret(), make([]byte, 17))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestAuthenticateTruncatesTo16Bytes(t *testing.T) {
	tag := Authenticate(testSecret(), []byte("message"))
	assert.Len(t, tag, 16)
}

func TestVerify(t *testing.T) {
	message := []byte("authenticated message")
	tag := Authenticate(testSecret(), message)

	assert.True(t, Verify(testSecret(), message, tag))
	assert.False(t, Verify(testSecret(), []byte("other message"), tag))

	tag[0] ^= 0x01
	assert.False(t, Verify(testSecret(), message, tag))
}

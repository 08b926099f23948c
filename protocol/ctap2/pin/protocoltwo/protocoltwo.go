// Package protocoltwo implements PIN/UV auth protocol two: HKDF-SHA-256
// key derivation, AES-256-CBC with a random IV, and full-length
// HMAC-SHA-256 authentication.
package protocoltwo

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"slices"

	"golang.org/x/crypto/hkdf"
)

// ErrInvalidCiphertext is returned for ciphertext too short to carry an IV
// or not a whole number of AES blocks.
var ErrInvalidCiphertext = errors.New("protocoltwo: invalid ciphertext length")

// KDF derives the 64-byte shared secret (32-byte HMAC key followed by a
// 32-byte AES key) from the raw ECDH output.
func KDF(z []byte) ([]byte, error) {
	salt := make([]byte, 32)

	hmacKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, z, salt, []byte("CTAP2 HMAC key")), hmacKey); err != nil {
		return nil, err
	}

	aesKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, z, salt, []byte("CTAP2 AES key")), aesKey); err != nil {
		return nil, err
	}

	return slices.Concat(hmacKey, aesKey), nil
}

// Encrypt encrypts the plaintext under the AES half of the shared secret
// and prepends the random IV.
func Encrypt(sharedSecret, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sharedSecret[32:])
	if err != nil {
		return nil, err
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return slices.Concat(iv, ciphertext), nil
}

// Decrypt decrypts ciphertext produced by Encrypt.
func Decrypt(sharedSecret, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sharedSecret[32:])
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aes.BlockSize || (len(ciphertext)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}

	iv, ciphertext := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return plaintext, nil
}

// Authenticate computes the 32-byte authentication tag for the message
// using the HMAC half of the shared secret.
func Authenticate(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key[:32])
	mac.Write(message)
	return mac.Sum(nil)
}

// Verify reports whether tag authenticates the message under key.
func Verify(key, message, tag []byte) bool {
	return hmac.Equal(Authenticate(key, message), tag)
}

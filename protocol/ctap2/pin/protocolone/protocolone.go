// Package protocolone implements PIN/UV auth protocol one: SHA-256 KDF,
// AES-256-CBC with a zero IV, and HMAC-SHA-256 truncated to 16 bytes.
package protocolone

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// ErrInvalidCiphertext is returned for ciphertext that is not a whole
// number of AES blocks.
var ErrInvalidCiphertext = errors.New("protocolone: ciphertext length not a multiple of the AES block size")

// KDF derives the 32-byte shared secret from the raw ECDH output.
func KDF(z []byte) []byte {
	h := sha256.Sum256(z)
	return h[:]
}

// Encrypt encrypts the plaintext under the shared secret. The plaintext
// length must be a multiple of the AES block size.
func Encrypt(sharedSecret, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}

	iv := make([]byte, aes.BlockSize)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return ciphertext, nil
}

// Decrypt decrypts ciphertext produced by Encrypt.
func Decrypt(sharedSecret, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}

	iv := make([]byte, aes.BlockSize)
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return plaintext, nil
}

// Authenticate computes the 16-byte authentication tag for the message.
func Authenticate(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)[:16]
}

// Verify reports whether tag authenticates the message under key.
func Verify(key, message, tag []byte) bool {
	return hmac.Equal(Authenticate(key, message), tag)
}

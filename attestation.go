package fido2token

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/mohammadv184/go-fido2-token/devicekey"
)

// attestationKey is the batch attestation identity used by the legacy
// U2F registration response: a P-256 key and its self-signed certificate,
// generated at boot.
type attestationKey struct {
	priv    *ecdsa.PrivateKey
	certDER []byte
}

func newAttestationKey(keys *devicekey.Keyring) (*attestationKey, error) {
	priv, err := keys.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "FIDO2 Token Attestation",
			Organization: []string{"go-fido2-token"},
		},
		NotBefore:          now.Add(-time.Hour),
		NotAfter:           now.AddDate(30, 0, 0),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		KeyUsage:           x509.KeyUsageDigitalSignature,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("cannot create attestation certificate: %w", err)
	}

	return &attestationKey{priv: priv, certDER: certDER}, nil
}

package fido2token

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammadv184/go-fido2-token/presence"
	"github.com/mohammadv184/go-fido2-token/protocol/u2f"
)

func u2fFrame(ins u2f.Command, p1 byte, payload []byte) []byte {
	msg := []byte{0x00, byte(ins), p1, 0x00}
	if len(payload) > 0 {
		msg = append(msg, 0x00)
		msg = binary.BigEndian.AppendUint16(msg, uint16(len(payload)))
		msg = append(msg, payload...)
	}
	return msg
}

func statusWord(resp []byte) u2f.StatusWord {
	return u2f.StatusWord(binary.BigEndian.Uint16(resp[len(resp)-2:]))
}

// derLen returns the total length of the DER element at the head of b.
func derLen(t *testing.T, b []byte) int {
	t.Helper()
	require.Greater(t, len(b), 2)
	if b[1] < 0x80 {
		return 2 + int(b[1])
	}
	n := int(b[1] & 0x7f)
	require.Greater(t, len(b), 2+n)
	length := 0
	for i := range n {
		length = length<<8 | int(b[2+i])
	}
	return 2 + n + length
}

type u2fRegistration struct {
	pubKey    *ecdsa.PublicKey
	keyHandle []byte
	cert      *x509.Certificate
	sig       []byte
}

func parseRegisterResponse(t *testing.T, resp []byte) u2fRegistration {
	t.Helper()
	require.Equal(t, u2f.SWNoError, statusWord(resp))
	body := resp[:len(resp)-2]

	require.Equal(t, byte(0x05), body[0])
	pubKeyRaw := body[1:66]
	require.Equal(t, byte(0x04), pubKeyRaw[0])

	khLen := int(body[66])
	keyHandle := body[67 : 67+khLen]

	rest := body[67+khLen:]
	certLen := derLen(t, rest)
	cert, err := x509.ParseCertificate(rest[:certLen])
	require.NoError(t, err)

	return u2fRegistration{
		pubKey: &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pubKeyRaw[1:33]),
			Y:     new(big.Int).SetBytes(pubKeyRaw[33:65]),
		},
		keyHandle: keyHandle,
		cert:      cert,
		sig:       rest[certLen:],
	}
}

func TestU2FVersion(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())
	resp := a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDVersion, 0x00, nil))
	assert.Equal(t, append([]byte("U2F_V2"), 0x90, 0x00), resp)
}

func TestU2FRegisterAndAuthenticate(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())

	challenge := sha256.Sum256([]byte("challenge"))
	app := sha256.Sum256([]byte("https://example.com"))
	payload := append(challenge[:], app[:]...)

	reg := parseRegisterResponse(t, a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDRegister, 0x00, payload)))

	// The attestation signature covers the canonical registration tuple
	// and verifies under the certificate key.
	signed := bytes.Join([][]byte{
		{0x00}, app[:], challenge[:], reg.keyHandle,
		append([]byte{0x04}, append(leftPad(reg.pubKey.X.Bytes(), 32), leftPad(reg.pubKey.Y.Bytes(), 32)...)...),
	}, nil)
	digest := sha256.Sum256(signed)
	certPub, ok := reg.cert.PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.True(t, ecdsa.VerifyASN1(certPub, digest[:], reg.sig))

	// Authenticate with the freshly issued key handle.
	authPayload := append(challenge[:], app[:]...)
	authPayload = append(authPayload, byte(len(reg.keyHandle)))
	authPayload = append(authPayload, reg.keyHandle...)

	resp := a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDAuthenticate, byte(u2f.CtrlEnforceUserPresenceAndSign), authPayload))
	require.Equal(t, u2f.SWNoError, statusWord(resp))
	body := resp[:len(resp)-2]

	assert.Equal(t, byte(0x01), body[0])
	counter := body[1:5]
	sig := body[5:]

	authSigned := bytes.Join([][]byte{app[:], {0x01}, counter, challenge[:]}, nil)
	authDigest := sha256.Sum256(authSigned)
	assert.True(t, ecdsa.VerifyASN1(reg.pubKey, authDigest[:], sig))
}

func leftPad(b []byte, size int) []byte {
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func TestU2FAuthenticateCheckOnly(t *testing.T) {
	a, gate, _ := newTestAuthenticator(t, testConfig())

	challenge := sha256.Sum256([]byte("challenge"))
	app := sha256.Sum256([]byte("https://example.com"))
	reg := parseRegisterResponse(t, a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDRegister, 0x00, append(challenge[:], app[:]...))))

	payload := append(challenge[:], app[:]...)
	payload = append(payload, byte(len(reg.keyHandle)))
	payload = append(payload, reg.keyHandle...)

	promptsBefore := len(gate.Prompts)
	resp := a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDAuthenticate, byte(u2f.CtrlCheckOnly), payload))

	// A valid handle answers conditions-not-satisfied without consuming
	// presence.
	assert.Equal(t, u2f.SWConditionsNotSatisfied, statusWord(resp))
	assert.Len(t, gate.Prompts, promptsBefore)
}

func TestU2FAuthenticateForeignKeyHandle(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())

	challenge := sha256.Sum256([]byte("challenge"))
	app := sha256.Sum256([]byte("https://example.com"))
	keyHandle := bytes.Repeat([]byte{0x42}, 64)

	payload := append(challenge[:], app[:]...)
	payload = append(payload, byte(len(keyHandle)))
	payload = append(payload, keyHandle...)

	resp := a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDAuthenticate, byte(u2f.CtrlCheckOnly), payload))
	assert.Equal(t, u2f.SWWrongData, statusWord(resp))
}

func TestU2FAuthenticateWrongApplication(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())

	challenge := sha256.Sum256([]byte("challenge"))
	app := sha256.Sum256([]byte("https://example.com"))
	reg := parseRegisterResponse(t, a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDRegister, 0x00, append(challenge[:], app[:]...))))

	otherApp := sha256.Sum256([]byte("https://evil.example"))
	payload := append(challenge[:], otherApp[:]...)
	payload = append(payload, byte(len(reg.keyHandle)))
	payload = append(payload, reg.keyHandle...)

	resp := a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDAuthenticate, byte(u2f.CtrlEnforceUserPresenceAndSign), payload))
	assert.Equal(t, u2f.SWWrongData, statusWord(resp))
}

func TestU2FAuthenticateWithoutPresenceCheck(t *testing.T) {
	a, gate, _ := newTestAuthenticator(t, testConfig())

	challenge := sha256.Sum256([]byte("challenge"))
	app := sha256.Sum256([]byte("https://example.com"))
	reg := parseRegisterResponse(t, a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDRegister, 0x00, append(challenge[:], app[:]...))))

	payload := append(challenge[:], app[:]...)
	payload = append(payload, byte(len(reg.keyHandle)))
	payload = append(payload, reg.keyHandle...)

	promptsBefore := len(gate.Prompts)
	resp := a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDAuthenticate, byte(u2f.CtrlDontEnforceUserPresenceAndSign), payload))
	require.Equal(t, u2f.SWNoError, statusWord(resp))

	// The user-presence byte is clear and no prompt was raised.
	assert.Equal(t, byte(0x00), resp[0])
	assert.Len(t, gate.Prompts, promptsBefore)
}

func TestU2FRegisterDenied(t *testing.T) {
	a, gate, _ := newTestAuthenticator(t, testConfig())
	gate.Decision = presence.Denied

	challenge := sha256.Sum256([]byte("challenge"))
	app := sha256.Sum256([]byte("https://example.com"))
	resp := a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDRegister, 0x00, append(challenge[:], app[:]...)))
	assert.Equal(t, u2f.SWConditionsNotSatisfied, statusWord(resp))
}

func TestU2FBadClass(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())
	resp := a.HandleAPDU(context.Background(), []byte{0x80, byte(u2f.CMDVersion), 0x00, 0x00})
	assert.Equal(t, u2f.SWClaNotSupported, statusWord(resp))
}

func TestU2FUnknownInstruction(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())
	resp := a.HandleAPDU(context.Background(), []byte{0x00, 0x42, 0x00, 0x00})
	assert.Equal(t, u2f.SWInsNotSupported, statusWord(resp))
}

func TestU2FCounterSharedWithCTAP2(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())

	challenge := sha256.Sum256([]byte("challenge"))
	app := sha256.Sum256([]byte("https://example.com"))
	reg := parseRegisterResponse(t, a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDRegister, 0x00, append(challenge[:], app[:]...))))

	payload := append(challenge[:], app[:]...)
	payload = append(payload, byte(len(reg.keyHandle)))
	payload = append(payload, reg.keyHandle...)

	var last uint32
	for range 3 {
		resp := a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDAuthenticate, byte(u2f.CtrlEnforceUserPresenceAndSign), payload))
		require.Equal(t, u2f.SWNoError, statusWord(resp))
		counter := binary.BigEndian.Uint32(resp[1:5])
		assert.Greater(t, counter, last)
		last = counter
	}
}

func TestU2FRegisterCountsForResetGate(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())

	a.HandleAPDU(context.Background(), u2fFrame(u2f.CMDVersion, 0x00, nil))

	// Any prior command closes the reset window.
	resp := a.HandleCTAP2(context.Background(), []byte{0x07})
	assert.Equal(t, []byte{0x30}, resp)
}

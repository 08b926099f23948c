package fido2token

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/ldclabs/cose/key"
	ecdh2 "github.com/ldclabs/cose/key/ecdh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammadv184/go-fido2-token/protocol/ctap2"
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2/pin/protocolone"
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2/pin/protocoltwo"
)

// platformSession emulates the platform side of the PIN/UV key agreement.
type platformSession struct {
	proto   ctap2.PinUvAuthProtocolType
	shared  []byte
	coseKey key.Key
}

func newPlatformSession(t *testing.T, a *Authenticator, proto ctap2.PinUvAuthProtocolType) *platformSession {
	t.Helper()

	var resp ctap2.AuthenticatorClientPINResponse
	msg := encodeRequest(t, ctap2.CMDAuthenticatorClientPIN, &ctap2.AuthenticatorClientPINRequest{
		PinUvAuthProtocol: proto,
		SubCommand:        ctap2.ClientPINSubCommandGetKeyAgreement,
	})
	require.Equal(t, ctap2.StatusSuccess, decodeResponse(t, a.HandleCTAP2(context.Background(), msg), &resp))

	devicePub, err := ecdh2.KeyToPublic(resp.KeyAgreement)
	require.NoError(t, err)

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	z, err := priv.ECDH(devicePub)
	require.NoError(t, err)

	var shared []byte
	switch proto {
	case ctap2.PinUvAuthProtocolTypeOne:
		shared = protocolone.KDF(z)
	case ctap2.PinUvAuthProtocolTypeTwo:
		shared, err = protocoltwo.KDF(z)
		require.NoError(t, err)
	}

	coseKey, err := ecdh2.KeyFromPublic(priv.Public().(*ecdh.PublicKey))
	require.NoError(t, err)

	return &platformSession{proto: proto, shared: shared, coseKey: coseKey}
}

func (s *platformSession) encrypt(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	var (
		out []byte
		err error
	)
	switch s.proto {
	case ctap2.PinUvAuthProtocolTypeOne:
		out, err = protocolone.Encrypt(s.shared, plaintext)
	case ctap2.PinUvAuthProtocolTypeTwo:
		out, err = protocoltwo.Encrypt(s.shared, plaintext)
	}
	require.NoError(t, err)
	return out
}

func (s *platformSession) decrypt(t *testing.T, ciphertext []byte) []byte {
	t.Helper()
	var (
		out []byte
		err error
	)
	switch s.proto {
	case ctap2.PinUvAuthProtocolTypeOne:
		out, err = protocolone.Decrypt(s.shared, ciphertext)
	case ctap2.PinUvAuthProtocolTypeTwo:
		out, err = protocoltwo.Decrypt(s.shared, ciphertext)
	}
	require.NoError(t, err)
	return out
}

func (s *platformSession) authenticate(key, message []byte) []byte {
	return ctap2.Authenticate(s.proto, key, message)
}

func paddedPin(pin string) []byte {
	padded := make([]byte, 64)
	copy(padded, pin)
	return padded
}

func pinHash(pin string) []byte {
	sum := sha256.Sum256([]byte(pin))
	return sum[:16]
}

func (s *platformSession) setPIN(t *testing.T, a *Authenticator, pin string) ctap2.Status {
	t.Helper()
	newPinEnc := s.encrypt(t, paddedPin(pin))
	msg := encodeRequest(t, ctap2.CMDAuthenticatorClientPIN, &ctap2.AuthenticatorClientPINRequest{
		PinUvAuthProtocol: s.proto,
		SubCommand:        ctap2.ClientPINSubCommandSetPIN,
		KeyAgreement:      s.coseKey,
		NewPinEnc:         newPinEnc,
		PinUvAuthParam:    s.authenticate(s.shared, newPinEnc),
	})
	return decodeResponse(t, a.HandleCTAP2(context.Background(), msg), nil)
}

func (s *platformSession) getPinToken(t *testing.T, a *Authenticator, pin string) ([]byte, ctap2.Status) {
	t.Helper()
	var resp ctap2.AuthenticatorClientPINResponse
	msg := encodeRequest(t, ctap2.CMDAuthenticatorClientPIN, &ctap2.AuthenticatorClientPINRequest{
		PinUvAuthProtocol: s.proto,
		SubCommand:        ctap2.ClientPINSubCommandGetPinToken,
		KeyAgreement:      s.coseKey,
		PinHashEnc:        s.encrypt(t, pinHash(pin)),
	})
	status := decodeResponse(t, a.HandleCTAP2(context.Background(), msg), &resp)
	if status != ctap2.StatusSuccess {
		return nil, status
	}
	return s.decrypt(t, resp.PinUvAuthToken), status
}

func getPinRetries(t *testing.T, a *Authenticator) uint {
	t.Helper()
	var resp ctap2.AuthenticatorClientPINResponse
	msg := encodeRequest(t, ctap2.CMDAuthenticatorClientPIN, &ctap2.AuthenticatorClientPINRequest{
		SubCommand: ctap2.ClientPINSubCommandGetPINRetries,
	})
	require.Equal(t, ctap2.StatusSuccess, decodeResponse(t, a.HandleCTAP2(context.Background(), msg), &resp))
	return resp.PinRetries
}

func TestClientPINLifecycle(t *testing.T) {
	for _, proto := range []ctap2.PinUvAuthProtocolType{ctap2.PinUvAuthProtocolTypeOne, ctap2.PinUvAuthProtocolTypeTwo} {
		t.Run(proto.String(), func(t *testing.T) {
			a, _, _ := newTestAuthenticator(t, testConfig())
			assert.Equal(t, uint(8), getPinRetries(t, a))

			sess := newPlatformSession(t, a, proto)
			require.Equal(t, ctap2.StatusSuccess, sess.setPIN(t, a, "1234"))

			token, status := sess.getPinToken(t, a, "1234")
			require.Equal(t, ctap2.StatusSuccess, status)
			require.Len(t, token, 32)

			// A PIN-protected MakeCredential without proof is refused.
			cdh := clientDataHash("client data")
			req := makeCredentialRequest("example.com", []byte("user-1"))
			msg := encodeRequest(t, ctap2.CMDAuthenticatorMakeCredential, req)
			assert.Equal(t, ctap2.StatusErrPinRequired, decodeResponse(t, a.HandleCTAP2(context.Background(), msg), nil))

			// With the token proof it succeeds and reports user
			// verification.
			req.PinUvAuthProtocol = proto
			req.PinUvAuthParam = sess.authenticate(token, cdh)
			var mcResp ctap2.AuthenticatorMakeCredentialResponse
			msg = encodeRequest(t, ctap2.CMDAuthenticatorMakeCredential, req)
			require.Equal(t, ctap2.StatusSuccess, decodeResponse(t, a.HandleCTAP2(context.Background(), msg), &mcResp))
			att := parseMakeCredentialResponse(t, &mcResp)
			assert.NotZero(t, att.flags&ctap2.FlagUserVerified)

			// A forged proof is rejected.
			req.PinUvAuthParam = sess.authenticate(token, []byte("some other message"))
			msg = encodeRequest(t, ctap2.CMDAuthenticatorMakeCredential, req)
			assert.Equal(t, ctap2.StatusErrPinAuthInvalid, decodeResponse(t, a.HandleCTAP2(context.Background(), msg), nil))
		})
	}
}

func TestSetPINSuccessIsBareStatusByte(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())
	sess := newPlatformSession(t, a, ctap2.PinUvAuthProtocolTypeTwo)

	newPinEnc := sess.encrypt(t, paddedPin("1234"))
	msg := encodeRequest(t, ctap2.CMDAuthenticatorClientPIN, &ctap2.AuthenticatorClientPINRequest{
		PinUvAuthProtocol: sess.proto,
		SubCommand:        ctap2.ClientPINSubCommandSetPIN,
		KeyAgreement:      sess.coseKey,
		NewPinEnc:         newPinEnc,
		PinUvAuthParam:    sess.authenticate(sess.shared, newPinEnc),
	})

	// No CBOR payload follows the status byte, not even a null.
	assert.Equal(t, []byte{byte(ctap2.StatusSuccess)}, a.HandleCTAP2(context.Background(), msg))
}

func TestSetPINPolicyViolation(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())
	sess := newPlatformSession(t, a, ctap2.PinUvAuthProtocolTypeTwo)
	assert.Equal(t, ctap2.StatusErrPinPolicyViolation, sess.setPIN(t, a, "12"))
}

func TestSetPINWhenAlreadySet(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())
	sess := newPlatformSession(t, a, ctap2.PinUvAuthProtocolTypeTwo)
	require.Equal(t, ctap2.StatusSuccess, sess.setPIN(t, a, "1234"))
	assert.Equal(t, ctap2.StatusErrPinAuthInvalid, sess.setPIN(t, a, "5678"))
}

func TestChangePIN(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())
	sess := newPlatformSession(t, a, ctap2.PinUvAuthProtocolTypeTwo)
	require.Equal(t, ctap2.StatusSuccess, sess.setPIN(t, a, "1234"))

	newPinEnc := sess.encrypt(t, paddedPin("567890"))
	pinHashEnc := sess.encrypt(t, pinHash("1234"))
	msg := encodeRequest(t, ctap2.CMDAuthenticatorClientPIN, &ctap2.AuthenticatorClientPINRequest{
		PinUvAuthProtocol: sess.proto,
		SubCommand:        ctap2.ClientPINSubCommandChangePIN,
		KeyAgreement:      sess.coseKey,
		NewPinEnc:         newPinEnc,
		PinHashEnc:        pinHashEnc,
		PinUvAuthParam:    sess.authenticate(sess.shared, append(append([]byte{}, newPinEnc...), pinHashEnc...)),
	})
	require.Equal(t, ctap2.StatusSuccess, decodeResponse(t, a.HandleCTAP2(context.Background(), msg), nil))

	_, status := sess.getPinToken(t, a, "567890")
	assert.Equal(t, ctap2.StatusSuccess, status)
}

func TestGetPinTokenWrongPIN(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, testConfig())
	sess := newPlatformSession(t, a, ctap2.PinUvAuthProtocolTypeTwo)
	require.Equal(t, ctap2.StatusSuccess, sess.setPIN(t, a, "1234"))

	_, status := sess.getPinToken(t, a, "9999")
	assert.Equal(t, ctap2.StatusErrPinInvalid, status)
	assert.Equal(t, uint(7), getPinRetries(t, a))

	// The failure rotated the key-agreement key, so a fresh session with
	// the right PIN still works.
	fresh := newPlatformSession(t, a, ctap2.PinUvAuthProtocolTypeTwo)
	token, status := fresh.getPinToken(t, a, "1234")
	require.Equal(t, ctap2.StatusSuccess, status)
	assert.Len(t, token, 32)
	assert.Equal(t, uint(8), getPinRetries(t, a))
}

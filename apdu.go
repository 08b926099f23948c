package fido2token

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"slices"

	"github.com/mohammadv184/go-fido2-token/credential"
	"github.com/mohammadv184/go-fido2-token/devicekey"
	"github.com/mohammadv184/go-fido2-token/protocol/u2f"
)

// u2fVersionString is the payload of a U2F_VERSION response.
const u2fVersionString = "U2F_V2"

// u2fRegisterReserved is the fixed first byte of a U2F_REGISTER response.
const u2fRegisterReserved byte = 0x05

// HandleAPDU processes one legacy U2F message framed as an extended ISO
// 7816 APDU and returns the response payload with its trailing status
// word.
func (a *Authenticator) HandleAPDU(ctx context.Context, raw []byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, done := a.armCancel(ctx)
	defer done()
	defer a.setPhase(PhaseIdle)

	a.setPhase(PhaseDecoding)
	a.sawCommand = true

	req, err := u2f.DecodeRequest(raw)
	if err != nil {
		return u2f.EncodeResponse(nil, statusWordFor(err))
	}

	log := a.log.WithField("command", req.Command.String())
	a.setPhase(PhaseValidating)

	var (
		payload []byte
		sw      u2f.StatusWord
	)
	switch req.Command {
	case u2f.CMDRegister:
		payload, sw = a.u2fRegister(ctx, req.Register)
	case u2f.CMDAuthenticate:
		payload, sw = a.u2fAuthenticate(ctx, req.Control, req.Authenticate)
	case u2f.CMDVersion:
		payload, sw = []byte(u2fVersionString), u2f.SWNoError
	default:
		sw = u2f.SWInsNotSupported
	}

	log.WithField("status", sw).Info("command handled")
	return u2f.EncodeResponse(payload, sw)
}

func (a *Authenticator) u2fRegister(ctx context.Context, req *u2f.RegisterRequest) ([]byte, u2f.StatusWord) {
	if req == nil {
		return nil, u2f.SWWrongData
	}

	if err := a.requestPresence(ctx, "Confirm registration"); err != nil {
		return nil, u2f.SWConditionsNotSatisfied
	}

	cred, priv, err := a.creds.Create(credential.CreateParams{
		RPIDHash: req.ApplicationParam[:],
	})
	if err != nil {
		return nil, u2f.SWCommandNotAllowed
	}

	pubKey := uncompressedPoint(&priv.PublicKey)

	// The attestation signature covers a reserved zero byte, the
	// application and challenge parameters, the key handle and the public
	// key.
	signed := slices.Concat(
		[]byte{0x00},
		req.ApplicationParam[:],
		req.ChallengeParam[:],
		cred.ID,
		pubKey,
	)
	sig, err := devicekey.Sign(a.attest.priv, signed)
	if err != nil {
		return nil, u2f.SWCommandNotAllowed
	}

	resp := slices.Concat(
		[]byte{u2fRegisterReserved},
		pubKey,
		[]byte{byte(len(cred.ID))},
		cred.ID,
		a.attest.certDER,
		sig,
	)
	return resp, u2f.SWNoError
}

func (a *Authenticator) u2fAuthenticate(ctx context.Context, ctrl u2f.Control, req *u2f.AuthenticateRequest) ([]byte, u2f.StatusWord) {
	if req == nil {
		return nil, u2f.SWWrongData
	}

	cred, priv, err := a.creds.Find(req.ApplicationParam[:], req.KeyHandle)
	if err != nil {
		return nil, u2f.SWWrongData
	}

	switch ctrl {
	case u2f.CtrlCheckOnly:
		// The handle is ours; the check-only probe never signs.
		return nil, u2f.SWConditionsNotSatisfied

	case u2f.CtrlEnforceUserPresenceAndSign:
		if err := a.requestPresence(ctx, "Confirm sign-in"); err != nil {
			return nil, u2f.SWConditionsNotSatisfied
		}
		return a.u2fSign(cred, priv, req, 0x01)

	case u2f.CtrlDontEnforceUserPresenceAndSign:
		a.setPhase(PhaseExecuting)
		return a.u2fSign(cred, priv, req, 0x00)

	default:
		return nil, u2f.SWWrongData
	}
}

func (a *Authenticator) u2fSign(cred *credential.Credential, priv *ecdsa.PrivateKey, req *u2f.AuthenticateRequest, upByte byte) ([]byte, u2f.StatusWord) {
	signCount, err := a.counters.NextForCredential(cred)
	if err != nil {
		return nil, u2f.SWCommandNotAllowed
	}

	counterBytes := binary.BigEndian.AppendUint32(nil, signCount)
	signed := slices.Concat(
		req.ApplicationParam[:],
		[]byte{upByte},
		counterBytes,
		req.ChallengeParam[:],
	)
	sig, err := devicekey.Sign(priv, signed)
	if err != nil {
		return nil, u2f.SWCommandNotAllowed
	}

	return slices.Concat([]byte{upByte}, counterBytes, sig), u2f.SWNoError
}

func statusWordFor(err error) u2f.StatusWord {
	switch {
	case errors.Is(err, u2f.ErrBadClass):
		return u2f.SWClaNotSupported
	case errors.Is(err, u2f.ErrShortMessage), errors.Is(err, u2f.ErrBadLength):
		return u2f.SWWrongLength
	case errors.Is(err, u2f.ErrBadParameters):
		return u2f.SWWrongData
	default:
		return u2f.SWWrongData
	}
}

// uncompressedPoint encodes a P-256 public key in the 65-byte X9.62
// uncompressed form.
func uncompressedPoint(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 65)
	out[0] = 0x04
	pub.X.FillBytes(out[1:33])
	pub.Y.FillBytes(out[33:65])
	return out
}

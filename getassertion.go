package fido2token

import (
	"context"
	"crypto/ecdsa"
	"slices"

	"github.com/mohammadv184/go-fido2-token/credential"
	"github.com/mohammadv184/go-fido2-token/devicekey"
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2"
	"github.com/mohammadv184/go-fido2-token/protocol/webauthn"
)

// assertionState is the iterator left behind by a GetAssertion with more
// than one matching credential. Any new GetAssertion or MakeCredential
// discards it.
type assertionState struct {
	rpIDHash       [32]byte
	clientDataHash []byte
	up             bool
	verified       bool
	remaining      []*credential.Credential
}

type assertionCandidate struct {
	cred *credential.Credential
	priv *ecdsa.PrivateKey
}

func (a *Authenticator) getAssertion(ctx context.Context, body []byte) (*ctap2.AuthenticatorGetAssertionResponse, error) {
	a.assertState = nil

	var req ctap2.AuthenticatorGetAssertionRequest
	if err := a.decodeRequest(body, &req); err != nil {
		return nil, err
	}

	if req.RPID == "" || len(req.ClientDataHash) == 0 {
		return nil, ctap2.NewError(ctap2.StatusErrMissingParameter)
	}
	if uv := req.Options[ctap2.OptionUserVerification]; uv {
		return nil, ctap2.NewError(ctap2.StatusErrUnsupportedOption)
	}
	up := true
	if v, ok := req.Options[ctap2.OptionUserPresence]; ok {
		up = v
	}

	verified, err := a.checkPinAuth(req.PinUvAuthParam, req.PinUvAuthProtocol, req.ClientDataHash, false)
	if err != nil {
		return nil, err
	}

	rpIDHash := ctap2.HashRPID(req.RPID)

	var candidates []assertionCandidate
	if len(req.AllowList) > 0 {
		for _, desc := range req.AllowList {
			if desc.Type != webauthn.PublicKeyCredentialTypePublicKey {
				continue
			}
			cred, priv, err := a.creds.Find(rpIDHash[:], desc.ID)
			if err != nil {
				continue
			}
			candidates = append(candidates, assertionCandidate{cred: cred, priv: priv})
		}
	} else {
		stored, err := a.creds.Enumerate(rpIDHash[:])
		if err != nil {
			return nil, err
		}
		for _, cred := range stored {
			candidates = append(candidates, assertionCandidate{cred: cred, priv: cred.PrivateKey()})
		}
	}

	// Presence comes first even when nothing matches, so a platform
	// cannot distinguish "no credentials" from "wrong relying party"
	// without user interaction.
	if up {
		if err := a.requestPresence(ctx, "Sign in to "+req.RPID); err != nil {
			return nil, err
		}
	}

	if len(candidates) == 0 {
		return nil, ctap2.NewError(ctap2.StatusErrNoCredentials)
	}

	first := candidates[0]
	resp, err := a.signAssertion(first, rpIDHash, req.ClientDataHash, up, verified)
	if err != nil {
		return nil, err
	}

	if len(req.AllowList) == 0 && len(candidates) > 1 {
		resp.NumberOfCredentials = uint(len(candidates))
		rest := make([]*credential.Credential, 0, len(candidates)-1)
		for _, c := range candidates[1:] {
			rest = append(rest, c.cred)
		}
		a.assertState = &assertionState{
			rpIDHash:       rpIDHash,
			clientDataHash: slices.Clone(req.ClientDataHash),
			up:             up,
			verified:       verified,
			remaining:      rest,
		}
	}

	return resp, nil
}

func (a *Authenticator) getNextAssertion(body []byte) (*ctap2.AuthenticatorGetAssertionResponse, error) {
	if len(body) != 0 {
		return nil, ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}

	state := a.assertState
	if state == nil || len(state.remaining) == 0 {
		a.assertState = nil
		return nil, ctap2.NewError(ctap2.StatusErrNotAllowed)
	}

	a.setPhase(PhaseExecuting)

	next := state.remaining[0]
	state.remaining = state.remaining[1:]
	if len(state.remaining) == 0 {
		a.assertState = nil
	}

	// Continued assertions carry the flags collected by the originating
	// GetAssertion; a silent request stays silent through the iteration.
	return a.signAssertion(
		assertionCandidate{cred: next, priv: next.PrivateKey()},
		state.rpIDHash, state.clientDataHash, state.up, state.verified,
	)
}

func (a *Authenticator) signAssertion(c assertionCandidate, rpIDHash [32]byte, clientDataHash []byte, up, verified bool) (*ctap2.AuthenticatorGetAssertionResponse, error) {
	signCount, err := a.counters.NextForCredential(c.cred)
	if err != nil {
		return nil, err
	}

	var flags byte
	if up {
		flags |= ctap2.FlagUserPresent
	}
	if verified {
		flags |= ctap2.FlagUserVerified
	}
	authData := ctap2.AuthenticatorData{
		RPIDHash:  rpIDHash,
		Flags:     flags,
		SignCount: signCount,
	}
	authDataRaw := authData.Marshal()

	sig, err := devicekey.Sign(c.priv, slices.Concat(authDataRaw, clientDataHash))
	if err != nil {
		return nil, err
	}

	resp := &ctap2.AuthenticatorGetAssertionResponse{
		Credential: &webauthn.PublicKeyCredentialDescriptor{
			Type: webauthn.PublicKeyCredentialTypePublicKey,
			ID:   c.cred.ID,
		},
		AuthData:  authDataRaw,
		Signature: sig,
	}
	if c.cred.Discoverable && len(c.cred.UserHandle) > 0 {
		resp.User = &webauthn.PublicKeyCredentialUserEntity{
			ID:          c.cred.UserHandle,
			Name:        c.cred.UserName,
			DisplayName: c.cred.UserDisplayName,
		}
	}

	return resp, nil
}

package fido2token

import (
	"context"
	"slices"

	"github.com/mohammadv184/go-fido2-token/credential"
	"github.com/mohammadv184/go-fido2-token/devicekey"
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2"
	"github.com/mohammadv184/go-fido2-token/protocol/webauthn"
)

func (a *Authenticator) makeCredential(ctx context.Context, body []byte) (*ctap2.AuthenticatorMakeCredentialResponse, error) {
	var req ctap2.AuthenticatorMakeCredentialRequest
	if err := a.decodeRequest(body, &req); err != nil {
		return nil, err
	}

	if len(req.ClientDataHash) == 0 || req.RP.ID == "" || len(req.User.ID) == 0 {
		return nil, ctap2.NewError(ctap2.StatusErrMissingParameter)
	}
	if len(req.PubKeyCredParams) == 0 {
		return nil, ctap2.NewError(ctap2.StatusErrMissingParameter)
	}

	supported := slices.ContainsFunc(req.PubKeyCredParams, func(p webauthn.PublicKeyCredentialParameters) bool {
		return p.Type == webauthn.PublicKeyCredentialTypePublicKey && p.Alg == webauthn.COSEAlgorithmES256
	})
	if !supported {
		return nil, ctap2.NewError(ctap2.StatusErrUnsupportedAlgorithm)
	}

	if up, ok := req.Options[ctap2.OptionUserPresence]; ok && !up {
		return nil, ctap2.NewError(ctap2.StatusErrInvalidOption)
	}
	if uv := req.Options[ctap2.OptionUserVerification]; uv {
		return nil, ctap2.NewError(ctap2.StatusErrUnsupportedOption)
	}
	discoverable := req.Options[ctap2.OptionResidentKeys]

	pinSet, err := a.pins.IsSet()
	if err != nil {
		return nil, err
	}
	verified, err := a.checkPinAuth(req.PinUvAuthParam, req.PinUvAuthProtocol, req.ClientDataHash, pinSet)
	if err != nil {
		return nil, err
	}

	rpIDHash := ctap2.HashRPID(req.RP.ID)

	// A listed credential that belongs to this token still consumes a
	// presence check, so a platform cannot probe for it silently.
	for _, desc := range req.ExcludeList {
		if desc.Type != webauthn.PublicKeyCredentialTypePublicKey {
			continue
		}
		if _, _, err := a.creds.Find(rpIDHash[:], desc.ID); err == nil {
			if err := a.requestPresence(ctx, "Confirm registration for "+req.RP.ID); err != nil {
				return nil, err
			}
			return nil, ctap2.NewError(ctap2.StatusErrCredentialExcluded)
		}
	}

	if err := a.requestPresence(ctx, "Register with "+req.RP.ID); err != nil {
		return nil, err
	}

	cred, priv, err := a.creds.Create(credential.CreateParams{
		RPID:            req.RP.ID,
		RPIDHash:        rpIDHash[:],
		UserHandle:      req.User.ID,
		UserName:        req.User.Name,
		UserDisplayName: req.User.DisplayName,
		Discoverable:    discoverable,
	})
	if err != nil {
		return nil, err
	}

	signCount, err := a.counters.NextForCredential(cred)
	if err != nil {
		return nil, err
	}

	pubKey, err := ctap2.EncodeCredentialPublicKey(a.encMode, &priv.PublicKey)
	if err != nil {
		return nil, err
	}

	flags := ctap2.FlagUserPresent | ctap2.FlagAttestedCredData
	if verified {
		flags |= ctap2.FlagUserVerified
	}
	authData := ctap2.AuthenticatorData{
		RPIDHash:  rpIDHash,
		Flags:     flags,
		SignCount: signCount,
		AttestedCredentialData: &ctap2.AttestedCredentialData{
			AAGUID:              aaguid,
			CredentialID:        cred.ID,
			CredentialPublicKey: pubKey,
		},
	}

	authDataRaw := authData.Marshal()

	// Packed self-attestation: the newly minted credential key signs its
	// own creation.
	sig, err := devicekey.Sign(priv, slices.Concat(authDataRaw, req.ClientDataHash))
	if err != nil {
		return nil, err
	}

	// A fresh registration invalidates any assertion iteration in
	// progress.
	a.assertState = nil

	return &ctap2.AuthenticatorMakeCredentialResponse{
		Fmt:      "packed",
		AuthData: authDataRaw,
		AttStmt: ctap2.PackedAttestation{
			Alg: webauthn.COSEAlgorithmES256,
			Sig: sig,
		},
	}, nil
}

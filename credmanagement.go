package fido2token

import (
	"crypto/ecdsa"

	"github.com/ldclabs/cose/iana"
	"github.com/ldclabs/cose/key"
	coseecdsa "github.com/ldclabs/cose/key/ecdsa"

	"github.com/mohammadv184/go-fido2-token/credential"
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2"
	"github.com/mohammadv184/go-fido2-token/protocol/webauthn"
)

// credMgmtState is the iterator behind the paired enumerate subcommands.
// It is established by a Begin and discarded by any other command that
// touches credentials.
type credMgmtState struct {
	rps   []credential.RelyingParty
	creds []*credential.Credential
}

// credentialManagement returns a nil payload, not a typed nil pointer,
// for the subcommands that answer with a bare success byte.
func (a *Authenticator) credentialManagement(body []byte) (any, error) {
	var req ctap2.AuthenticatorCredentialManagementRequest
	if err := a.decodeRequest(body, &req); err != nil {
		return nil, err
	}

	// The GetNext pair continues an iteration already authorized by its
	// Begin; everything else proves possession of the PIN token over
	// subCommand and parameters.
	switch req.SubCommand {
	case ctap2.CredentialManagementSubCommandEnumerateRPsGetNextRP,
		ctap2.CredentialManagementSubCommandEnumerateCredentialsGetNextCredential:
	default:
		if err := a.checkCredMgmtAuth(&req); err != nil {
			return nil, err
		}
	}

	a.setPhase(PhaseExecuting)

	switch req.SubCommand {
	case ctap2.CredentialManagementSubCommandGetCredsMetadata:
		return a.credsMetadata()
	case ctap2.CredentialManagementSubCommandEnumerateRPsBegin:
		return a.enumerateRPsBegin()
	case ctap2.CredentialManagementSubCommandEnumerateRPsGetNextRP:
		return a.enumerateRPsNext()
	case ctap2.CredentialManagementSubCommandEnumerateCredentialsBegin:
		return a.enumerateCredentialsBegin(req.SubCommandParams)
	case ctap2.CredentialManagementSubCommandEnumerateCredentialsGetNextCredential:
		return a.enumerateCredentialsNext()
	case ctap2.CredentialManagementSubCommandDeleteCredential:
		return nil, a.deleteCredential(req.SubCommandParams)
	case ctap2.CredentialManagementSubCommandUpdateUserInformation:
		return nil, a.updateUserInformation(req.SubCommandParams)
	default:
		return nil, ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}
}

func (a *Authenticator) checkCredMgmtAuth(req *ctap2.AuthenticatorCredentialManagementRequest) error {
	if len(req.PinUvAuthParam) == 0 {
		return ctap2.NewError(ctap2.StatusErrPinRequired)
	}
	if _, ok := a.pinProtos[req.PinUvAuthProtocol]; !ok {
		return ctap2.NewError(ctap2.StatusErrPinAuthInvalid)
	}

	message := []byte{byte(req.SubCommand)}
	if req.SubCommandParams != nil {
		raw, err := a.encMode.Marshal(req.SubCommandParams)
		if err != nil {
			return err
		}
		message = append(message, raw...)
	}
	return a.pins.CheckToken(req.PinUvAuthProtocol, req.PinUvAuthParam, message)
}

func (a *Authenticator) credsMetadata() (*ctap2.AuthenticatorCredentialManagementResponse, error) {
	count, err := a.creds.Count()
	if err != nil {
		return nil, err
	}
	remaining, err := a.creds.Remaining()
	if err != nil {
		return nil, err
	}
	return &ctap2.AuthenticatorCredentialManagementResponse{
		ExistingResidentCredentialsCount:             uint(count),
		MaxPossibleRemainingResidentCredentialsCount: uint(remaining),
	}, nil
}

func (a *Authenticator) enumerateRPsBegin() (*ctap2.AuthenticatorCredentialManagementResponse, error) {
	rps, err := a.creds.EnumerateRPs()
	if err != nil {
		return nil, err
	}
	if len(rps) == 0 {
		return nil, ctap2.NewError(ctap2.StatusErrNoCredentials)
	}

	a.credMgmtState = &credMgmtState{rps: rps[1:]}
	return &ctap2.AuthenticatorCredentialManagementResponse{
		RP:       &webauthn.PublicKeyCredentialRpEntity{ID: rps[0].ID},
		RPIDHash: rps[0].Hash,
		TotalRPs: uint(len(rps)),
	}, nil
}

func (a *Authenticator) enumerateRPsNext() (*ctap2.AuthenticatorCredentialManagementResponse, error) {
	state := a.credMgmtState
	if state == nil || len(state.rps) == 0 {
		return nil, ctap2.NewError(ctap2.StatusErrNotAllowed)
	}

	rp := state.rps[0]
	state.rps = state.rps[1:]
	return &ctap2.AuthenticatorCredentialManagementResponse{
		RP:       &webauthn.PublicKeyCredentialRpEntity{ID: rp.ID},
		RPIDHash: rp.Hash,
	}, nil
}

func (a *Authenticator) enumerateCredentialsBegin(params *ctap2.CredentialManagementSubCommandParams) (*ctap2.AuthenticatorCredentialManagementResponse, error) {
	if params == nil || len(params.RPIDHash) == 0 {
		return nil, ctap2.NewError(ctap2.StatusErrMissingParameter)
	}

	creds, err := a.creds.Enumerate(params.RPIDHash)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, ctap2.NewError(ctap2.StatusErrNoCredentials)
	}

	a.credMgmtState = &credMgmtState{creds: creds[1:]}
	resp, err := credentialResponse(creds[0])
	if err != nil {
		return nil, err
	}
	resp.TotalCredentials = uint(len(creds))
	return resp, nil
}

func (a *Authenticator) enumerateCredentialsNext() (*ctap2.AuthenticatorCredentialManagementResponse, error) {
	state := a.credMgmtState
	if state == nil || len(state.creds) == 0 {
		return nil, ctap2.NewError(ctap2.StatusErrNotAllowed)
	}

	cred := state.creds[0]
	state.creds = state.creds[1:]
	return credentialResponse(cred)
}

func (a *Authenticator) deleteCredential(params *ctap2.CredentialManagementSubCommandParams) error {
	if params == nil || params.CredentialID == nil {
		return ctap2.NewError(ctap2.StatusErrMissingParameter)
	}

	cred, err := a.creds.FindByID(params.CredentialID.ID)
	if err != nil {
		return err
	}

	a.credMgmtState = nil
	a.assertState = nil
	return a.creds.Delete(cred.RPIDHash, cred.ID)
}

func (a *Authenticator) updateUserInformation(params *ctap2.CredentialManagementSubCommandParams) error {
	if params == nil || params.CredentialID == nil || params.User == nil {
		return ctap2.NewError(ctap2.StatusErrMissingParameter)
	}

	cred, err := a.creds.FindByID(params.CredentialID.ID)
	if err != nil {
		return err
	}

	a.credMgmtState = nil
	return a.creds.UpdateUser(cred.RPIDHash, cred.ID, params.User.ID, params.User.Name, params.User.DisplayName)
}

func credentialResponse(cred *credential.Credential) (*ctap2.AuthenticatorCredentialManagementResponse, error) {
	pubKey, err := credentialPublicKey(&cred.PrivateKey().PublicKey)
	if err != nil {
		return nil, err
	}

	return &ctap2.AuthenticatorCredentialManagementResponse{
		User: &webauthn.PublicKeyCredentialUserEntity{
			ID:          cred.UserHandle,
			Name:        cred.UserName,
			DisplayName: cred.UserDisplayName,
		},
		CredentialID: &webauthn.PublicKeyCredentialDescriptor{
			Type: webauthn.PublicKeyCredentialTypePublicKey,
			ID:   cred.ID,
		},
		PublicKey: pubKey,
	}, nil
}

func credentialPublicKey(pub *ecdsa.PublicKey) (key.Key, error) {
	coseKey, err := coseecdsa.KeyFromPublic(pub)
	if err != nil {
		return nil, err
	}
	if err := coseKey.Set(iana.KeyParameterAlg, iana.AlgorithmES256); err != nil {
		return nil, err
	}
	delete(coseKey, iana.KeyParameterKid)
	return coseKey, nil
}

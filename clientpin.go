package fido2token

import (
	"errors"
	"slices"

	"github.com/mohammadv184/go-fido2-token/pinauth"
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2"
)

// clientPIN returns a nil payload, not a typed nil pointer, for the
// subcommands that answer with a bare success byte.
func (a *Authenticator) clientPIN(body []byte) (any, error) {
	var req ctap2.AuthenticatorClientPINRequest
	if err := a.decodeRequest(body, &req); err != nil {
		return nil, err
	}

	a.setPhase(PhaseExecuting)

	switch req.SubCommand {
	case ctap2.ClientPINSubCommandGetPINRetries:
		return a.getPINRetries()
	case ctap2.ClientPINSubCommandGetKeyAgreement:
		return a.getKeyAgreement(&req)
	case ctap2.ClientPINSubCommandSetPIN:
		return nil, a.setPIN(&req)
	case ctap2.ClientPINSubCommandChangePIN:
		return nil, a.changePIN(&req)
	case ctap2.ClientPINSubCommandGetPinToken:
		return a.getPinToken(&req)
	default:
		return nil, ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}
}

func (a *Authenticator) getPINRetries() (*ctap2.AuthenticatorClientPINResponse, error) {
	retries, err := a.pins.Retries()
	if err != nil {
		return nil, err
	}
	return &ctap2.AuthenticatorClientPINResponse{
		PinRetries:      uint(retries),
		PowerCycleState: a.pins.AuthBlocked(),
	}, nil
}

func (a *Authenticator) getKeyAgreement(req *ctap2.AuthenticatorClientPINRequest) (*ctap2.AuthenticatorClientPINResponse, error) {
	proto, ok := a.pinProtos[req.PinUvAuthProtocol]
	if !ok {
		return nil, ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}
	return &ctap2.AuthenticatorClientPINResponse{KeyAgreement: proto.CoseKey()}, nil
}

func (a *Authenticator) setPIN(req *ctap2.AuthenticatorClientPINRequest) error {
	proto, ok := a.pinProtos[req.PinUvAuthProtocol]
	if !ok {
		return ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}
	if req.KeyAgreement == nil || len(req.NewPinEnc) == 0 || len(req.PinUvAuthParam) == 0 {
		return ctap2.NewError(ctap2.StatusErrMissingParameter)
	}
	if set, err := a.pins.IsSet(); err != nil {
		return err
	} else if set {
		return ctap2.NewError(ctap2.StatusErrPinAuthInvalid)
	}

	sharedSecret, err := proto.Decapsulate(req.KeyAgreement)
	if err != nil {
		return ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}
	if !ctap2.Verify(proto.Type, sharedSecret, req.NewPinEnc, req.PinUvAuthParam) {
		return ctap2.NewError(ctap2.StatusErrPinAuthInvalid)
	}

	paddedPin, err := proto.Decrypt(sharedSecret, req.NewPinEnc)
	if err != nil {
		return ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}
	return a.pins.SetPIN(paddedPin)
}

func (a *Authenticator) changePIN(req *ctap2.AuthenticatorClientPINRequest) error {
	proto, ok := a.pinProtos[req.PinUvAuthProtocol]
	if !ok {
		return ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}
	if req.KeyAgreement == nil || len(req.NewPinEnc) == 0 ||
		len(req.PinHashEnc) == 0 || len(req.PinUvAuthParam) == 0 {
		return ctap2.NewError(ctap2.StatusErrMissingParameter)
	}

	sharedSecret, err := proto.Decapsulate(req.KeyAgreement)
	if err != nil {
		return ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}
	message := slices.Concat(req.NewPinEnc, req.PinHashEnc)
	if !ctap2.Verify(proto.Type, sharedSecret, message, req.PinUvAuthParam) {
		return ctap2.NewError(ctap2.StatusErrPinAuthInvalid)
	}

	pinHash, err := proto.Decrypt(sharedSecret, req.PinHashEnc)
	if err != nil {
		return ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}
	paddedPin, err := proto.Decrypt(sharedSecret, req.NewPinEnc)
	if err != nil {
		return ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}

	if err := a.pins.ChangePIN(pinHash, paddedPin); err != nil {
		a.regenerateOnPinFailure(proto, err)
		return err
	}
	return nil
}

func (a *Authenticator) getPinToken(req *ctap2.AuthenticatorClientPINRequest) (*ctap2.AuthenticatorClientPINResponse, error) {
	proto, ok := a.pinProtos[req.PinUvAuthProtocol]
	if !ok {
		return nil, ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}
	if req.KeyAgreement == nil || len(req.PinHashEnc) == 0 {
		return nil, ctap2.NewError(ctap2.StatusErrMissingParameter)
	}

	sharedSecret, err := proto.Decapsulate(req.KeyAgreement)
	if err != nil {
		return nil, ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}

	pinHash, err := proto.Decrypt(sharedSecret, req.PinHashEnc)
	if err != nil {
		return nil, ctap2.NewError(ctap2.StatusErrInvalidParameter)
	}

	token, err := a.pins.VerifyPINHash(pinHash)
	if err != nil {
		a.regenerateOnPinFailure(proto, err)
		return nil, err
	}

	tokenEnc, err := proto.Encrypt(sharedSecret, token)
	if err != nil {
		return nil, err
	}
	return &ctap2.AuthenticatorClientPINResponse{PinUvAuthToken: tokenEnc}, nil
}

// regenerateOnPinFailure rotates the key-agreement key after a failed PIN
// proof so the platform must re-run key agreement before the next guess.
func (a *Authenticator) regenerateOnPinFailure(proto *ctap2.PinUvAuthProtocol, err error) {
	if errors.Is(err, pinauth.ErrInvalid) ||
		errors.Is(err, pinauth.ErrBlocked) ||
		errors.Is(err, pinauth.ErrAuthBlocked) {
		if regenErr := proto.Regenerate(); regenErr != nil {
			a.log.WithError(regenErr).Error("cannot regenerate key-agreement key")
		}
	}
}

package fido2token

import (
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2"
	"github.com/mohammadv184/go-fido2-token/protocol/webauthn"
)

const (
	maxCredentialCountInList = 8
	maxCredentialIDLength    = 128
)

func (a *Authenticator) getInfo() (*ctap2.AuthenticatorGetInfoResponse, error) {
	pinSet, err := a.pins.IsSet()
	if err != nil {
		return nil, err
	}

	return &ctap2.AuthenticatorGetInfoResponse{
		Versions: []string{"U2F_V2", "FIDO_2_0"},
		AAGUID:   aaguid[:],
		Options: map[ctap2.Option]bool{
			ctap2.OptionPlatformDevice:              false,
			ctap2.OptionResidentKeys:                true,
			ctap2.OptionUserPresence:                true,
			ctap2.OptionCredentialManagement:        true,
			ctap2.OptionClientPIN:                   pinSet,
			ctap2.OptionMakeCredentialUvNotRequired: true,
		},
		MaxMsgSize: ctap2.MaxMsgSize,
		PinUvAuthProtocols: []ctap2.PinUvAuthProtocolType{
			ctap2.PinUvAuthProtocolTypeOne,
			ctap2.PinUvAuthProtocolTypeTwo,
		},
		MaxCredentialCountInList: maxCredentialCountInList,
		MaxCredentialIDLength:    maxCredentialIDLength,
		Transports:               []string{"usb"},
		Algorithms: []webauthn.PublicKeyCredentialParameters{{
			Type: webauthn.PublicKeyCredentialTypePublicKey,
			Alg:  webauthn.COSEAlgorithmES256,
		}},
	}, nil
}

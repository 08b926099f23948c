package ctap2

import (
	"github.com/ldclabs/cose/key"

	"github.com/mohammadv184/go-fido2-token/protocol/webauthn"
)

// AuthenticatorMakeCredentialRequest is the parameter map of
// authenticatorMakeCredential (0x01).
type AuthenticatorMakeCredentialRequest struct {
	ClientDataHash    []byte                                   `cbor:"1,keyasint"`
	RP                webauthn.PublicKeyCredentialRpEntity     `cbor:"2,keyasint"`
	User              webauthn.PublicKeyCredentialUserEntity   `cbor:"3,keyasint"`
	PubKeyCredParams  []webauthn.PublicKeyCredentialParameters `cbor:"4,keyasint"`
	ExcludeList       []webauthn.PublicKeyCredentialDescriptor `cbor:"5,keyasint,omitempty"`
	Options           map[Option]bool                          `cbor:"7,keyasint,omitempty"`
	PinUvAuthParam    []byte                                   `cbor:"8,keyasint,omitempty"`
	PinUvAuthProtocol PinUvAuthProtocolType                    `cbor:"9,keyasint,omitempty"`
}

// AuthenticatorMakeCredentialResponse is the success payload of
// authenticatorMakeCredential.
type AuthenticatorMakeCredentialResponse struct {
	Fmt      string            `cbor:"1,keyasint"`
	AuthData []byte            `cbor:"2,keyasint"`
	AttStmt  PackedAttestation `cbor:"3,keyasint"`
}

// PackedAttestation is the "packed" self-attestation statement.
type PackedAttestation struct {
	Alg webauthn.COSEAlgorithmIdentifier `cbor:"alg"`
	Sig []byte                           `cbor:"sig"`
}

// AuthenticatorGetAssertionRequest is the parameter map of
// authenticatorGetAssertion (0x02).
type AuthenticatorGetAssertionRequest struct {
	RPID              string                                   `cbor:"1,keyasint"`
	ClientDataHash    []byte                                   `cbor:"2,keyasint"`
	AllowList         []webauthn.PublicKeyCredentialDescriptor `cbor:"3,keyasint,omitempty"`
	Options           map[Option]bool                          `cbor:"5,keyasint,omitempty"`
	PinUvAuthParam    []byte                                   `cbor:"6,keyasint,omitempty"`
	PinUvAuthProtocol PinUvAuthProtocolType                    `cbor:"7,keyasint,omitempty"`
}

// AuthenticatorGetAssertionResponse is the success payload of
// authenticatorGetAssertion and authenticatorGetNextAssertion.
type AuthenticatorGetAssertionResponse struct {
	Credential          *webauthn.PublicKeyCredentialDescriptor `cbor:"1,keyasint,omitempty"`
	AuthData            []byte                                  `cbor:"2,keyasint"`
	Signature           []byte                                  `cbor:"3,keyasint"`
	User                *webauthn.PublicKeyCredentialUserEntity `cbor:"4,keyasint,omitempty"`
	NumberOfCredentials uint                                    `cbor:"5,keyasint,omitempty"`
}

// AuthenticatorGetInfoResponse is the success payload of
// authenticatorGetInfo (0x04).
type AuthenticatorGetInfoResponse struct {
	Versions                 []string                                 `cbor:"1,keyasint"`
	Extensions               []string                                 `cbor:"2,keyasint,omitempty"`
	AAGUID                   []byte                                   `cbor:"3,keyasint"`
	Options                  map[Option]bool                          `cbor:"4,keyasint,omitempty"`
	MaxMsgSize               uint                                     `cbor:"5,keyasint,omitempty"`
	PinUvAuthProtocols       []PinUvAuthProtocolType                  `cbor:"6,keyasint,omitempty"`
	MaxCredentialCountInList uint                                     `cbor:"7,keyasint,omitempty"`
	MaxCredentialIDLength    uint                                     `cbor:"8,keyasint,omitempty"`
	Transports               []string                                 `cbor:"9,keyasint,omitempty"`
	Algorithms               []webauthn.PublicKeyCredentialParameters `cbor:"10,keyasint,omitempty"`
}

// AuthenticatorClientPINRequest is the parameter map of
// authenticatorClientPIN (0x06).
type AuthenticatorClientPINRequest struct {
	PinUvAuthProtocol PinUvAuthProtocolType `cbor:"1,keyasint,omitempty"`
	SubCommand        ClientPINSubCommand   `cbor:"2,keyasint"`
	KeyAgreement      key.Key               `cbor:"3,keyasint,omitempty"`
	PinUvAuthParam    []byte                `cbor:"4,keyasint,omitempty"`
	NewPinEnc         []byte                `cbor:"5,keyasint,omitempty"`
	PinHashEnc        []byte                `cbor:"6,keyasint,omitempty"`
}

// AuthenticatorClientPINResponse is the success payload of
// authenticatorClientPIN.
type AuthenticatorClientPINResponse struct {
	KeyAgreement    key.Key `cbor:"1,keyasint,omitempty"`
	PinUvAuthToken  []byte  `cbor:"2,keyasint,omitempty"`
	PinRetries      uint    `cbor:"3,keyasint,omitempty"`
	PowerCycleState bool    `cbor:"4,keyasint,omitempty"`
}

// CredentialManagementSubCommandParams are the parameters of a
// CredentialManagement subcommand.
type CredentialManagementSubCommandParams struct {
	RPIDHash     []byte                                  `cbor:"1,keyasint,omitempty"`
	CredentialID *webauthn.PublicKeyCredentialDescriptor `cbor:"2,keyasint,omitempty"`
	User         *webauthn.PublicKeyCredentialUserEntity `cbor:"3,keyasint,omitempty"`
}

// AuthenticatorCredentialManagementRequest is the parameter map of
// authenticatorCredentialManagement (0x0A).
type AuthenticatorCredentialManagementRequest struct {
	SubCommand        CredentialManagementSubCommand        `cbor:"1,keyasint"`
	SubCommandParams  *CredentialManagementSubCommandParams `cbor:"2,keyasint,omitempty"`
	PinUvAuthProtocol PinUvAuthProtocolType                 `cbor:"3,keyasint,omitempty"`
	PinUvAuthParam    []byte                                `cbor:"4,keyasint,omitempty"`
}

// AuthenticatorCredentialManagementResponse is the success payload of
// authenticatorCredentialManagement.
type AuthenticatorCredentialManagementResponse struct {
	ExistingResidentCredentialsCount             uint                                    `cbor:"1,keyasint,omitempty"`
	MaxPossibleRemainingResidentCredentialsCount uint                                    `cbor:"2,keyasint,omitempty"`
	RP                                           *webauthn.PublicKeyCredentialRpEntity   `cbor:"3,keyasint,omitempty"`
	RPIDHash                                     []byte                                  `cbor:"4,keyasint,omitempty"`
	TotalRPs                                     uint                                    `cbor:"5,keyasint,omitempty"`
	User                                         *webauthn.PublicKeyCredentialUserEntity `cbor:"6,keyasint,omitempty"`
	CredentialID                                 *webauthn.PublicKeyCredentialDescriptor `cbor:"7,keyasint,omitempty"`
	PublicKey                                    key.Key                                 `cbor:"8,keyasint,omitempty"`
	TotalCredentials                             uint                                    `cbor:"9,keyasint,omitempty"`
}

// Package webauthn defines the WebAuthn entity structures that cross the
// CTAP2 wire inside command parameter maps.
package webauthn

// PublicKeyCredentialType is the credential type identifier. Only
// "public-key" is defined.
type PublicKeyCredentialType string

// PublicKeyCredentialTypePublicKey is the only registered credential type.
const PublicKeyCredentialTypePublicKey PublicKeyCredentialType = "public-key"

// COSEAlgorithmIdentifier is a registered COSE algorithm number.
type COSEAlgorithmIdentifier int

// COSEAlgorithmES256 is ECDSA with SHA-256 over P-256.
const COSEAlgorithmES256 COSEAlgorithmIdentifier = -7

// PublicKeyCredentialRpEntity describes the relying party a credential is
// bound to.
type PublicKeyCredentialRpEntity struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name,omitempty"`
}

// PublicKeyCredentialUserEntity describes the user account a credential is
// created for. ID is the opaque user handle chosen by the relying party.
type PublicKeyCredentialUserEntity struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
}

// PublicKeyCredentialParameters names an acceptable credential type and
// signature algorithm pair.
type PublicKeyCredentialParameters struct {
	Type PublicKeyCredentialType `cbor:"type"`
	Alg  COSEAlgorithmIdentifier `cbor:"alg"`
}

// PublicKeyCredentialDescriptor identifies a single credential by its
// opaque ID.
type PublicKeyCredentialDescriptor struct {
	Type       PublicKeyCredentialType `cbor:"type"`
	ID         []byte                  `cbor:"id"`
	Transports []string                `cbor:"transports,omitempty"`
}

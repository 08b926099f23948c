// Package ctap2 defines the CTAP2 wire protocol: command bytes, status
// codes, the CBOR request/response structures exchanged with a platform,
// and the PIN/UV auth protocol cryptography.
package ctap2

// Command is a CTAP2 command code, the first byte of every CTAP2 message.
type Command byte

const (
	CMDAuthenticatorMakeCredential                Command = 0x01
	CMDAuthenticatorGetAssertion                  Command = 0x02
	CMDAuthenticatorGetInfo                       Command = 0x04
	CMDAuthenticatorClientPIN                     Command = 0x06
	CMDAuthenticatorReset                         Command = 0x07
	CMDAuthenticatorGetNextAssertion              Command = 0x08
	CMDAuthenticatorCredentialManagement          Command = 0x0a
	CMDAuthenticatorSelection                     Command = 0x0b
	CMDPrototypeAuthenticatorCredentialManagement Command = 0x41
)

var commandStringMap = map[Command]string{
	CMDAuthenticatorMakeCredential:                "authenticatorMakeCredential",
	CMDAuthenticatorGetAssertion:                  "authenticatorGetAssertion",
	CMDAuthenticatorGetInfo:                       "authenticatorGetInfo",
	CMDAuthenticatorClientPIN:                     "authenticatorClientPIN",
	CMDAuthenticatorReset:                         "authenticatorReset",
	CMDAuthenticatorGetNextAssertion:              "authenticatorGetNextAssertion",
	CMDAuthenticatorCredentialManagement:          "authenticatorCredentialManagement",
	CMDAuthenticatorSelection:                     "authenticatorSelection",
	CMDPrototypeAuthenticatorCredentialManagement: "authenticatorCredentialManagementPreview",
}

func (c Command) String() string {
	if s, ok := commandStringMap[c]; ok {
		return s
	}
	return "unknownCommand"
}

// ClientPINSubCommand selects the ClientPIN operation.
type ClientPINSubCommand byte

const (
	ClientPINSubCommandGetPINRetries ClientPINSubCommand = iota + 1
	ClientPINSubCommandGetKeyAgreement
	ClientPINSubCommandSetPIN
	ClientPINSubCommandChangePIN
	ClientPINSubCommandGetPinToken
)

// CredentialManagementSubCommand selects the CredentialManagement operation.
type CredentialManagementSubCommand byte

const (
	CredentialManagementSubCommandGetCredsMetadata CredentialManagementSubCommand = iota + 1
	CredentialManagementSubCommandEnumerateRPsBegin
	CredentialManagementSubCommandEnumerateRPsGetNextRP
	CredentialManagementSubCommandEnumerateCredentialsBegin
	CredentialManagementSubCommandEnumerateCredentialsGetNextCredential
	CredentialManagementSubCommandDeleteCredential
	CredentialManagementSubCommandUpdateUserInformation
)

// Option is a key of the options map carried by MakeCredential,
// GetAssertion and GetInfo.
type Option string

const (
	OptionPlatformDevice              Option = "plat"
	OptionResidentKeys                Option = "rk"
	OptionClientPIN                   Option = "clientPin"
	OptionUserPresence                Option = "up"
	OptionUserVerification            Option = "uv"
	OptionCredentialManagement        Option = "credMgmt"
	OptionMakeCredentialUvNotRequired Option = "makeCredUvNotRqd"
)

// MaxMsgSize is the largest CTAP2 message the authenticator accepts,
// bounded by the structured-command transport.
const MaxMsgSize = 7609

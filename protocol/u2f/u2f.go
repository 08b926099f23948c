// Package u2f defines the legacy CTAP1/U2F raw message framing: ISO 7816-4
// APDU headers, status words, and the Register/Authenticate/Version
// request shapes.
package u2f

import (
	"encoding/binary"
	"errors"
)

// Command is the INS byte of a U2F APDU.
type Command byte

const (
	CMDRegister     Command = 0x01
	CMDAuthenticate Command = 0x02
	CMDVersion      Command = 0x03
)

var commandStringMap = map[Command]string{
	CMDRegister:     "U2F_REGISTER",
	CMDAuthenticate: "U2F_AUTHENTICATE",
	CMDVersion:      "U2F_VERSION",
}

func (c Command) String() string {
	if s, ok := commandStringMap[c]; ok {
		return s
	}
	return "U2F_UNKNOWN"
}

// Control is the P1 byte of a U2F_AUTHENTICATE APDU.
type Control byte

const (
	// CtrlCheckOnly asks whether the key handle belongs to this token
	// without creating a signature or consuming user presence.
	CtrlCheckOnly Control = 0x07
	// CtrlEnforceUserPresenceAndSign requires a user-presence test before
	// signing.
	CtrlEnforceUserPresenceAndSign Control = 0x03
	// CtrlDontEnforceUserPresenceAndSign signs without a user-presence
	// test; the user-presence byte of the response is zero.
	CtrlDontEnforceUserPresenceAndSign Control = 0x08
)

// StatusWord is the two-byte ISO 7816 trailer of every U2F response.
type StatusWord uint16

const (
	SWNoError                StatusWord = 0x9000
	SWConditionsNotSatisfied StatusWord = 0x6985
	SWCommandNotAllowed      StatusWord = 0x6986
	SWWrongData              StatusWord = 0x6a80
	SWWrongLength            StatusWord = 0x6700
	SWClaNotSupported        StatusWord = 0x6e00
	SWInsNotSupported        StatusWord = 0x6d00
)

// Bytes returns the big-endian encoding of the status word.
func (sw StatusWord) Bytes() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(sw))
	return b
}

// Errors returned while decoding an APDU.
var (
	ErrShortMessage  = errors.New("u2f: message shorter than the APDU header")
	ErrBadLength     = errors.New("u2f: request length does not match the payload")
	ErrBadClass      = errors.New("u2f: unsupported APDU class")
	ErrBadParameters = errors.New("u2f: malformed command parameters")
)

// Request is a decoded U2F APDU. Exactly one of Register and Authenticate
// is set, matching Command.
type Request struct {
	Command Command
	Control Control

	Register     *RegisterRequest
	Authenticate *AuthenticateRequest
}

// RegisterRequest carries the U2F_REGISTER parameters.
type RegisterRequest struct {
	ChallengeParam   [32]byte
	ApplicationParam [32]byte
}

// AuthenticateRequest carries the U2F_AUTHENTICATE parameters.
type AuthenticateRequest struct {
	ChallengeParam   [32]byte
	ApplicationParam [32]byte
	KeyHandle        []byte
}

// DecodeRequest parses a raw framed APDU into a Request. The frame is
// cla ins p1 p2 [0x00 lc1 lc2 payload] [le1 le2].
func DecodeRequest(raw []byte) (*Request, error) {
	if len(raw) < 4 {
		return nil, ErrShortMessage
	}

	cla := raw[0]
	if cla != 0x00 {
		return nil, ErrBadClass
	}

	req := &Request{
		Command: Command(raw[1]),
		Control: Control(raw[2]),
	}

	payload, err := decodePayload(raw[4:])
	if err != nil {
		return nil, err
	}

	switch req.Command {
	case CMDRegister:
		if len(payload) < 64 {
			return nil, ErrBadParameters
		}
		reg := &RegisterRequest{}
		copy(reg.ChallengeParam[:], payload[:32])
		copy(reg.ApplicationParam[:], payload[32:64])
		req.Register = reg

	case CMDAuthenticate:
		if len(payload) < 65 {
			return nil, ErrBadParameters
		}
		auth := &AuthenticateRequest{}
		copy(auth.ChallengeParam[:], payload[:32])
		copy(auth.ApplicationParam[:], payload[32:64])
		keyHandleLen := int(payload[64])
		if len(payload) < 65+keyHandleLen {
			return nil, ErrBadParameters
		}
		auth.KeyHandle = payload[65 : 65+keyHandleLen]
		req.Authenticate = auth

	case CMDVersion:
		// No payload.

	default:
		// Decoded as far as the header; the dispatcher answers with
		// SWInsNotSupported.
	}

	return req, nil
}

func decodePayload(rest []byte) ([]byte, error) {
	if len(rest) == 0 {
		// Header-only APDU.
		return nil, nil
	}
	if rest[0] != 0x00 {
		return nil, ErrBadLength
	}
	if len(rest) < 3 {
		// A lone Le field.
		if len(rest) == 2 {
			return nil, nil
		}
		return nil, ErrBadLength
	}

	length := int(binary.BigEndian.Uint16(rest[1:3]))
	body := rest[3:]
	if len(body) < length {
		return nil, ErrBadLength
	}

	// Anything beyond the request payload is the expected response length.
	trailer := len(body) - length
	if trailer != 0 && trailer != 2 {
		return nil, ErrBadLength
	}

	return body[:length], nil
}

// EncodeResponse appends the status word to the response payload.
func EncodeResponse(data []byte, sw StatusWord) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)
	return append(out, sw.Bytes()...)
}

// Package fido2token implements the command-processing engine of a
// FIDO2/U2F authenticator: it parses CTAP2 and legacy U2F messages,
// enforces user presence, PIN policy and counter monotonicity, and
// produces the signed responses. Transports, user interface and the
// hardware root of trust are collaborators passed in at construction.
package fido2token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/mohammadv184/go-fido2-token/config"
	"github.com/mohammadv184/go-fido2-token/counter"
	"github.com/mohammadv184/go-fido2-token/credential"
	"github.com/mohammadv184/go-fido2-token/devicekey"
	"github.com/mohammadv184/go-fido2-token/pinauth"
	"github.com/mohammadv184/go-fido2-token/presence"
	"github.com/mohammadv184/go-fido2-token/protocol/ctap2"
	"github.com/mohammadv184/go-fido2-token/storage"
)

// Phase is the processing state of the command engine, observable through
// Authenticator.Phase.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseDecoding
	PhaseValidating
	PhaseAwaitingPresence
	PhaseExecuting
	PhaseEncoding
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDecoding:
		return "decoding"
	case PhaseValidating:
		return "validating"
	case PhaseAwaitingPresence:
		return "awaitingPresence"
	case PhaseExecuting:
		return "executing"
	case PhaseEncoding:
		return "encoding"
	}
	return "unknown"
}

// aaguid identifies this authenticator model in attested credential data.
var aaguid = [ctap2.AAGUIDSize]byte{
	0xf1, 0xd0, 0x70, 0x4e, 0x5a, 0x1b, 0x4c, 0x8f,
	0x9d, 0x23, 0x6b, 0x0e, 0xc7, 0x51, 0x8a, 0x42,
}

// Authenticator is the command engine of the token. One command is
// processed at a time; Cancel aborts the in-flight one.
type Authenticator struct {
	cfg   config.Config
	log   *logrus.Entry
	store storage.Store
	gate  presence.Gate

	keys     *devicekey.Keyring
	creds    *credential.Manager
	pins     *pinauth.Authority
	counters *counter.Guard
	attest   *attestationKey

	pinProtos map[ctap2.PinUvAuthProtocolType]*ctap2.PinUvAuthProtocol
	encMode   cbor.EncMode

	mu         sync.Mutex
	phase      atomic.Uint32
	cancelMu   sync.Mutex
	cancelOp   context.CancelFunc
	sawCommand bool

	assertState   *assertionState
	credMgmtState *credMgmtState
}

// Option customizes the Authenticator.
type Option func(*Authenticator)

// WithLogger sets the structured logger. The default logger discards
// nothing and writes to stderr.
func WithLogger(l *logrus.Logger) Option {
	return func(a *Authenticator) {
		a.log = l.WithField("component", "authenticator")
	}
}

// New creates an Authenticator. masterSecret is the 32-byte hardware root
// of trust, store the durable record store, gate the user-presence
// collaborator.
func New(cfg config.Config, masterSecret []byte, store storage.Store, gate presence.Gate, opts ...Option) (*Authenticator, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if gate == nil {
		return nil, ErrNilGate
	}

	keys, err := devicekey.New(masterSecret)
	if err != nil {
		return nil, err
	}

	encMode, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		return nil, newErrorMessage(err, "creating CBOR encoder")
	}

	a := &Authenticator{
		cfg:     cfg,
		log:     logrus.StandardLogger().WithField("component", "authenticator"),
		store:   store,
		gate:    gate,
		keys:    keys,
		encMode: encMode,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.creds = credential.NewManager(store, keys, encMode, cfg.MaxCredentialsPerRP, cfg.MaxCredentials)
	a.counters = counter.NewGuard(store, a.creds)

	a.pins, err = pinauth.NewAuthority(store, keys, encMode, cfg.MaxPINRetries, cfg.MaxConsecutivePINFailures)
	if err != nil {
		return nil, newErrorMessage(err, "initializing PIN authority")
	}

	a.pinProtos = make(map[ctap2.PinUvAuthProtocolType]*ctap2.PinUvAuthProtocol, 2)
	for _, t := range []ctap2.PinUvAuthProtocolType{ctap2.PinUvAuthProtocolTypeOne, ctap2.PinUvAuthProtocolTypeTwo} {
		proto, err := ctap2.NewPinUvAuthProtocol(t)
		if err != nil {
			return nil, newErrorMessage(err, "initializing PIN/UV auth protocol")
		}
		a.pinProtos[t] = proto
	}

	a.attest, err = newAttestationKey(keys)
	if err != nil {
		return nil, newErrorMessage(err, "generating attestation key")
	}

	return a, nil
}

// Phase returns the current processing phase.
func (a *Authenticator) Phase() Phase {
	return Phase(a.phase.Load())
}

func (a *Authenticator) setPhase(p Phase) {
	a.phase.Store(uint32(p))
}

// Cancel aborts the in-flight command, if any. A command interrupted
// before its effects are committed fails with
// CTAP2_ERR_KEEPALIVE_CANCEL and leaves no partial state.
func (a *Authenticator) Cancel() {
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	if a.cancelOp != nil {
		a.cancelOp()
	}
}

func (a *Authenticator) armCancel(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancelMu.Lock()
	a.cancelOp = cancel
	a.cancelMu.Unlock()

	return ctx, func() {
		a.cancelMu.Lock()
		a.cancelOp = nil
		a.cancelMu.Unlock()
		cancel()
	}
}

// HandleCTAP2 processes one whole CTAP2 message and returns one whole
// response: the status byte, followed by the CBOR payload on success.
// Transport framing is the caller's concern.
func (a *Authenticator) HandleCTAP2(ctx context.Context, msg []byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, done := a.armCancel(ctx)
	defer done()
	defer a.setPhase(PhaseIdle)

	a.setPhase(PhaseDecoding)
	if len(msg) == 0 {
		return []byte{byte(ctap2.StatusErrInvalidLength)}
	}
	if len(msg) > ctap2.MaxMsgSize {
		return []byte{byte(ctap2.StatusErrRequestTooLarge)}
	}

	cmd := ctap2.Command(msg[0])
	firstCommand := !a.sawCommand
	a.sawCommand = true

	log := a.log.WithField("command", cmd.String())

	resp, err := a.dispatch(ctx, log, cmd, msg[1:], firstCommand)
	if err != nil {
		status := statusFor(err)
		log.WithField("status", status.String()).Info("command failed")
		return []byte{byte(status)}
	}

	a.setPhase(PhaseEncoding)
	out := []byte{byte(ctap2.StatusSuccess)}
	if resp != nil {
		payload, err := a.encMode.Marshal(resp)
		if err != nil {
			log.WithError(err).Error("cannot encode response")
			return []byte{byte(ctap2.StatusErrOther)}
		}
		out = append(out, payload...)
	}

	log.WithField("status", ctap2.StatusSuccess.String()).Info("command handled")
	return out
}

func (a *Authenticator) dispatch(ctx context.Context, log *logrus.Entry, cmd ctap2.Command, body []byte, firstCommand bool) (any, error) {
	switch cmd {
	case ctap2.CMDAuthenticatorMakeCredential:
		return a.makeCredential(ctx, body)
	case ctap2.CMDAuthenticatorGetAssertion:
		return a.getAssertion(ctx, body)
	case ctap2.CMDAuthenticatorGetNextAssertion:
		return a.getNextAssertion(body)
	case ctap2.CMDAuthenticatorGetInfo:
		return a.getInfo()
	case ctap2.CMDAuthenticatorClientPIN:
		return a.clientPIN(body)
	case ctap2.CMDAuthenticatorReset:
		return a.reset(ctx, firstCommand)
	case ctap2.CMDAuthenticatorCredentialManagement,
		ctap2.CMDPrototypeAuthenticatorCredentialManagement:
		return a.credentialManagement(body)
	case ctap2.CMDAuthenticatorSelection:
		return nil, a.requestPresence(ctx, "Confirm authenticator selection")
	default:
		log.Debug("unknown command")
		return nil, ctap2.NewError(ctap2.StatusErrInvalidCommand)
	}
}

// decodeRequest unmarshals a CBOR parameter map, translating decode
// failures to their CTAP statuses before any side effect.
func (a *Authenticator) decodeRequest(body []byte, v any) error {
	a.setPhase(PhaseDecoding)
	if len(body) == 0 {
		return ctap2.NewError(ctap2.StatusErrMissingParameter)
	}
	if err := cbor.Unmarshal(body, v); err != nil {
		var typeErr *cbor.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return ctap2.NewError(ctap2.StatusErrCborUnexpectedType)
		}
		return ctap2.NewError(ctap2.StatusErrInvalidCbor)
	}
	a.setPhase(PhaseValidating)
	return nil
}

// requestPresence blocks on the user-presence gate. A denied or expired
// prompt is indistinguishable to the platform; an out-of-band Cancel maps
// to its own status.
func (a *Authenticator) requestPresence(ctx context.Context, prompt string) error {
	a.setPhase(PhaseAwaitingPresence)
	pctx, cancel := context.WithTimeout(ctx, a.cfg.PresenceTimeout())
	defer cancel()

	decision := a.gate.RequestPresence(pctx, prompt)

	if errors.Is(ctx.Err(), context.Canceled) {
		return ctap2.NewError(ctap2.StatusErrKeepaliveCancel)
	}
	if errors.Is(pctx.Err(), context.DeadlineExceeded) {
		decision = presence.TimedOut
	}
	if decision != presence.Approved {
		return ctap2.NewError(ctap2.StatusErrOperationDenied)
	}

	a.setPhase(PhaseExecuting)
	return nil
}

// checkPinAuth gates a MakeCredential or GetAssertion request on its
// pinUvAuthParam. It returns whether the request counts as user-verified.
func (a *Authenticator) checkPinAuth(param []byte, proto ctap2.PinUvAuthProtocolType, message []byte, required bool) (bool, error) {
	pinSet, err := a.pins.IsSet()
	if err != nil {
		return false, err
	}

	if len(param) == 0 {
		if pinSet && required {
			return false, ctap2.NewError(ctap2.StatusErrPinRequired)
		}
		return false, nil
	}

	if !pinSet {
		return false, ctap2.NewError(ctap2.StatusErrPinNotSet)
	}
	if _, ok := a.pinProtos[proto]; !ok {
		return false, ctap2.NewError(ctap2.StatusErrPinAuthInvalid)
	}
	if err := a.pins.CheckToken(proto, param, message); err != nil {
		return false, err
	}
	return true, nil
}

// statusFor maps component errors onto CTAP status bytes. Unrecognized
// errors collapse to CTAP1_ERR_OTHER so internals never leak onto the
// wire.
func statusFor(err error) ctap2.Status {
	var ctapErr *ctap2.CTAPError
	if errors.As(err, &ctapErr) {
		return ctapErr.Status
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ctap2.StatusErrKeepaliveCancel
	case errors.Is(err, credential.ErrNotFound):
		return ctap2.StatusErrNoCredentials
	case errors.Is(err, credential.ErrStoreFull):
		return ctap2.StatusErrKeyStoreFull
	case errors.Is(err, pinauth.ErrNotSet):
		return ctap2.StatusErrPinNotSet
	case errors.Is(err, pinauth.ErrInvalid):
		return ctap2.StatusErrPinInvalid
	case errors.Is(err, pinauth.ErrBlocked):
		return ctap2.StatusErrPinBlocked
	case errors.Is(err, pinauth.ErrAuthBlocked):
		return ctap2.StatusErrPinAuthBlocked
	case errors.Is(err, pinauth.ErrAuthInvalid):
		return ctap2.StatusErrPinAuthInvalid
	case errors.Is(err, pinauth.ErrPolicy):
		return ctap2.StatusErrPinPolicyViolation
	case errors.Is(err, counter.ErrExhausted):
		return ctap2.StatusErrOther
	default:
		return ctap2.StatusErrOther
	}
}

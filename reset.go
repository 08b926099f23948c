package fido2token

import (
	"context"

	"github.com/mohammadv184/go-fido2-token/protocol/ctap2"
)

// reset restores the factory state: all credentials, the PIN and its
// lockouts, and the global counter. It is only honored as the first
// command after power-up unless the configuration lifts that restriction.
func (a *Authenticator) reset(ctx context.Context, firstCommand bool) (any, error) {
	if !firstCommand && !a.cfg.MultiReset {
		return nil, ctap2.NewError(ctap2.StatusErrNotAllowed)
	}

	if err := a.requestPresence(ctx, "Confirm factory reset"); err != nil {
		return nil, err
	}

	if err := a.creds.DeleteAll(); err != nil {
		return nil, err
	}
	if err := a.pins.ResetFactory(); err != nil {
		return nil, err
	}
	if err := a.counters.Reset(); err != nil {
		return nil, err
	}

	a.assertState = nil
	a.credMgmtState = nil

	for _, proto := range a.pinProtos {
		if err := proto.Regenerate(); err != nil {
			return nil, err
		}
	}

	a.gate.Display("Factory reset complete")
	return nil, nil
}

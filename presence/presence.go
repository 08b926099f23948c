// Package presence abstracts the user-presence hardware: a button, a
// touch sensor or, for tests and development, a canned decision.
package presence

import "context"

// Decision is the outcome of a user-presence request.
type Decision int

const (
	// Approved means the user confirmed the operation.
	Approved Decision = iota
	// Denied means the user explicitly rejected the operation.
	Denied
	// TimedOut means the prompt expired without user input.
	TimedOut
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	case TimedOut:
		return "timed out"
	}
	return "unknown"
}

// Gate is the user-presence collaborator of the command engine. Blocking
// calls honor ctx cancellation.
type Gate interface {
	// RequestPresence prompts the user and blocks until a decision is
	// made, the timeout configured by the gate expires, or ctx is
	// cancelled.
	RequestPresence(ctx context.Context, prompt string) Decision
	// Display shows a short informational message without waiting.
	Display(text string)
}

// Static is a Gate that always returns a fixed decision. Test and
// development use only.
type Static struct {
	// Decision is returned by every RequestPresence call.
	Decision Decision
	// Prompts records the prompts received, newest last.
	Prompts []string
}

var _ Gate = (*Static)(nil)

// RequestPresence implements Gate.
func (s *Static) RequestPresence(ctx context.Context, prompt string) Decision {
	s.Prompts = append(s.Prompts, prompt)
	if ctx.Err() != nil {
		return TimedOut
	}
	return s.Decision
}

// Display implements Gate.
func (s *Static) Display(string) {}

package fido2token

import "errors"

// Common errors returned by the fido2token package.
var (
	// ErrNilStore is returned when the Authenticator is constructed
	// without a persistent store.
	ErrNilStore = errors.New("fido2token: nil store")
	// ErrNilGate is returned when the Authenticator is constructed without
	// a user-presence gate.
	ErrNilGate = errors.New("fido2token: nil presence gate")
)

// ErrorWithMessage represents an error with an additional descriptive message.
type ErrorWithMessage struct {
	Message string
	Err     error
}

// newErrorMessage creates a new ErrorWithMessage.
func newErrorMessage(err error, msg string) *ErrorWithMessage {
	return &ErrorWithMessage{
		Message: msg,
		Err:     err,
	}
}

// Error returns the string representation of the error.
func (m *ErrorWithMessage) Error() string {
	if m.Message != "" {
		return m.Err.Error() + " (" + m.Message + ")"
	}
	return m.Err.Error()
}

// Unwrap returns the underlying error.
func (m *ErrorWithMessage) Unwrap() error {
	return m.Err
}

package ctap2

import "fmt"

// Status is a CTAP status byte. Success responses carry StatusSuccess
// followed by an optional CBOR payload; failures are the status byte alone.
type Status byte

const (
	StatusSuccess                 Status = 0x00
	StatusErrInvalidCommand       Status = 0x01
	StatusErrInvalidParameter     Status = 0x02
	StatusErrInvalidLength        Status = 0x03
	StatusErrInvalidSeq           Status = 0x04
	StatusErrTimeout              Status = 0x05
	StatusErrChannelBusy          Status = 0x06
	StatusErrLockRequired         Status = 0x0a
	StatusErrInvalidChannel       Status = 0x0b
	StatusErrCborUnexpectedType   Status = 0x11
	StatusErrInvalidCbor          Status = 0x12
	StatusErrMissingParameter     Status = 0x14
	StatusErrLimitExceeded        Status = 0x15
	StatusErrCredentialExcluded   Status = 0x19
	StatusErrProcessing           Status = 0x21
	StatusErrInvalidCredential    Status = 0x22
	StatusErrUserActionPending    Status = 0x23
	StatusErrOperationPending     Status = 0x24
	StatusErrNoOperations         Status = 0x25
	StatusErrUnsupportedAlgorithm Status = 0x26
	StatusErrOperationDenied      Status = 0x27
	StatusErrKeyStoreFull         Status = 0x28
	StatusErrUnsupportedOption    Status = 0x2b
	StatusErrInvalidOption        Status = 0x2c
	StatusErrKeepaliveCancel      Status = 0x2d
	StatusErrNoCredentials        Status = 0x2e
	StatusErrUserActionTimeout    Status = 0x2f
	StatusErrNotAllowed           Status = 0x30
	StatusErrPinInvalid           Status = 0x31
	StatusErrPinBlocked           Status = 0x32
	StatusErrPinAuthInvalid       Status = 0x33
	StatusErrPinAuthBlocked       Status = 0x34
	StatusErrPinNotSet            Status = 0x35
	StatusErrPinRequired          Status = 0x36
	StatusErrPinPolicyViolation   Status = 0x37
	StatusErrRequestTooLarge      Status = 0x39
	StatusErrActionTimeout        Status = 0x3a
	StatusErrUpRequired           Status = 0x3b
	StatusErrOther                Status = 0x7f
)

var statusStringMap = map[Status]string{
	StatusSuccess:                 "CTAP2_OK",
	StatusErrInvalidCommand:       "CTAP1_ERR_INVALID_COMMAND",
	StatusErrInvalidParameter:     "CTAP1_ERR_INVALID_PARAMETER",
	StatusErrInvalidLength:        "CTAP1_ERR_INVALID_LENGTH",
	StatusErrInvalidSeq:           "CTAP1_ERR_INVALID_SEQ",
	StatusErrTimeout:              "CTAP1_ERR_TIMEOUT",
	StatusErrChannelBusy:          "CTAP1_ERR_CHANNEL_BUSY",
	StatusErrLockRequired:         "CTAP1_ERR_LOCK_REQUIRED",
	StatusErrInvalidChannel:       "CTAP1_ERR_INVALID_CHANNEL",
	StatusErrCborUnexpectedType:   "CTAP2_ERR_CBOR_UNEXPECTED_TYPE",
	StatusErrInvalidCbor:          "CTAP2_ERR_INVALID_CBOR",
	StatusErrMissingParameter:     "CTAP2_ERR_MISSING_PARAMETER",
	StatusErrLimitExceeded:        "CTAP2_ERR_LIMIT_EXCEEDED",
	StatusErrCredentialExcluded:   "CTAP2_ERR_CREDENTIAL_EXCLUDED",
	StatusErrProcessing:           "CTAP2_ERR_PROCESSING",
	StatusErrInvalidCredential:    "CTAP2_ERR_INVALID_CREDENTIAL",
	StatusErrUserActionPending:    "CTAP2_ERR_USER_ACTION_PENDING",
	StatusErrOperationPending:     "CTAP2_ERR_OPERATION_PENDING",
	StatusErrNoOperations:         "CTAP2_ERR_NO_OPERATIONS",
	StatusErrUnsupportedAlgorithm: "CTAP2_ERR_UNSUPPORTED_ALGORITHM",
	StatusErrOperationDenied:      "CTAP2_ERR_OPERATION_DENIED",
	StatusErrKeyStoreFull:         "CTAP2_ERR_KEY_STORE_FULL",
	StatusErrUnsupportedOption:    "CTAP2_ERR_UNSUPPORTED_OPTION",
	StatusErrInvalidOption:        "CTAP2_ERR_INVALID_OPTION",
	StatusErrKeepaliveCancel:      "CTAP2_ERR_KEEPALIVE_CANCEL",
	StatusErrNoCredentials:        "CTAP2_ERR_NO_CREDENTIALS",
	StatusErrUserActionTimeout:    "CTAP2_ERR_USER_ACTION_TIMEOUT",
	StatusErrNotAllowed:           "CTAP2_ERR_NOT_ALLOWED",
	StatusErrPinInvalid:           "CTAP2_ERR_PIN_INVALID",
	StatusErrPinBlocked:           "CTAP2_ERR_PIN_BLOCKED",
	StatusErrPinAuthInvalid:       "CTAP2_ERR_PIN_AUTH_INVALID",
	StatusErrPinAuthBlocked:       "CTAP2_ERR_PIN_AUTH_BLOCKED",
	StatusErrPinNotSet:            "CTAP2_ERR_PIN_NOT_SET",
	StatusErrPinRequired:          "CTAP2_ERR_PIN_REQUIRED",
	StatusErrPinPolicyViolation:   "CTAP2_ERR_PIN_POLICY_VIOLATION",
	StatusErrRequestTooLarge:      "CTAP2_ERR_REQUEST_TOO_LARGE",
	StatusErrActionTimeout:        "CTAP2_ERR_ACTION_TIMEOUT",
	StatusErrUpRequired:           "CTAP2_ERR_UP_REQUIRED",
	StatusErrOther:                "CTAP1_ERR_OTHER",
}

func (s Status) String() string {
	if name, ok := statusStringMap[s]; ok {
		return name
	}
	return fmt.Sprintf("CTAP_ERR_0x%02x", byte(s))
}

// CTAPError carries a CTAP status byte as a Go error.
type CTAPError struct {
	Status Status
}

// NewError returns a CTAPError for the given status.
func NewError(s Status) *CTAPError {
	return &CTAPError{Status: s}
}

// Error returns the string representation of the error.
func (e *CTAPError) Error() string {
	return "ctap2: " + e.Status.String()
}

package core

import "fmt"

// Code is the error taxonomy from spec §7: each operation failure is one
// of these kinds rather than a bare string, so callers can branch on cause
// without parsing messages.
type Code int

const (
	// Configuration errors.
	ParamError Code = iota
	InvalidHandle
	ChannelsFull
	InvalidEID

	// Parse/format errors.
	BundleParseError
	Unsupported
	BundleTooLarge
	PayloadTooLarge
	UnknownRecord

	// Semantic errors.
	WrongOrigination
	WrongChannel
	Expired
	Dropped
	Ignore
	FailedIntegrity

	// Resource/IO errors.
	FailedStore
	FailedMem
	FailedOS
	Timeout
	Overflow
	FailedResponse
)

var codeNames = map[Code]string{
	ParamError:        "PARAM_ERROR",
	InvalidHandle:     "INVALID_HANDLE",
	ChannelsFull:      "CHANNELS_FULL",
	InvalidEID:        "INVALID_EID",
	BundleParseError:  "BUNDLE_PARSE_ERROR",
	Unsupported:       "UNSUPPORTED",
	BundleTooLarge:    "BUNDLE_TOO_LARGE",
	PayloadTooLarge:   "PAYLOAD_TOO_LARGE",
	UnknownRecord:     "UNKNOWN_RECORD",
	WrongOrigination:  "WRONG_ORIGINATION",
	WrongChannel:      "WRONG_CHANNEL",
	Expired:           "EXPIRED",
	Dropped:           "DROPPED",
	Ignore:            "IGNORE",
	FailedIntegrity:   "FAILED_INTEGRITY",
	FailedStore:       "FAILED_STORE",
	FailedMem:         "FAILED_MEM",
	FailedOS:          "FAILED_OS",
	Timeout:           "TIMEOUT",
	Overflow:          "OVERFLOW",
	FailedResponse:    "FAILED_RESPONSE",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN_CODE"
}

// Error is a channel-engine error carrying one of the Code taxonomy
// values, spec §7. Per-bundle failures (Parse/format, Semantic) are meant
// to be recovered locally by the caller: log, count, drop, continue.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, and
// reports whether one was found.
func CodeOf(err error) (Code, bool) {
	if ce, ok := err.(*Error); ok {
		return ce.Code, true
	}
	return 0, false
}

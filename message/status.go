package message

import (
	"errors"
	"fmt"
)

// Status is the wire-stable outcome of a call.
type Status int32

// Wire values; never renumber.
const (
	StatusSucceeded            Status = 0
	StatusChannelFailure       Status = 1
	StatusUnknownMethod        Status = 2
	StatusProtocolError        Status = 3
	StatusUnknownInterface     Status = 4
	StatusInvalidCallParameter Status = 5
)

// OK reports whether the status is Succeeded. Unknown codes are failures.
func (s Status) OK() bool { return s == StatusSucceeded }

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "Succeeded"
	case StatusChannelFailure:
		return "ChannelFailure"
	case StatusUnknownMethod:
		return "UnknownMethod"
	case StatusProtocolError:
		return "ProtocolError"
	case StatusUnknownInterface:
		return "UnknownInterface"
	case StatusInvalidCallParameter:
		return "InvalidCallParameter"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Error is a failure carrying a status code. Application failures travel back to the
// original caller as *Error; the channel and controller use it for channel and protocol
// failures.
type Error struct {
	Status  Status
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "rpc: " + e.Status.String()
	}
	return fmt.Sprintf("rpc: %s: %s", e.Status, e.Message)
}

// Is matches any *Error with the same status, so errors.Is(err, StatusError(s)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Status == e.Status
}

// StatusError returns a bare *Error for the status, suitable as an errors.Is target.
func StatusError(status Status) error {
	return &Error{Status: status}
}

// Errorf builds a *Error with a formatted message.
func Errorf(status Status, format string, args ...any) error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the status from err. Errors that are not *Error map to ProtocolError;
// nil maps to Succeeded.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSucceeded
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return StatusProtocolError
}

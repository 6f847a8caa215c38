package mlservice

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class is the failure class of a remote call.
type Class string

const (
	ClassTimeout         Class = "timeout"
	ClassConnection      Class = "connection"
	ClassBadStatus       Class = "bad_status"
	ClassInvalidResponse Class = "invalid_response"
	ClassCircuitOpen     Class = "circuit_open"
)

// ErrNoPrediction is returned when the response carries no usable prediction.
var ErrNoPrediction = errors.New("response has no usable prediction")

// Error is any failure of the remote model.
type Error struct {
	Class      Class
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ml service %s (status %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ml service %s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorClass reports the failure class as a plain string.
func (e *Error) ErrorClass() string { return string(e.Class) }

// transportError classifies an error returned before any response arrived.
func transportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Class: ClassTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Class: ClassTimeout, Err: err}
	}
	return &Error{Class: ClassConnection, Err: err}
}

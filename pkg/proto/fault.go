package proto

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation marks messages sent out of the expected state
// order, or of an unrecognized kind. It is fatal for the current
// request and is never conflated with an application fault.
var ErrProtocolViolation = errors.New("protocol violation")

// Violationf wraps ErrProtocolViolation with detail; match with
// errors.Is(err, ErrProtocolViolation).
func Violationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrProtocolViolation}, args...)...)
}

// FaultKind distinguishes how a fault was captured.
type FaultKind string

const (
	FaultError FaultKind = "error" // application returned an error
	FaultPanic FaultKind = "panic" // application panicked
)

// Fault is an application failure represented as an explicit value so
// it can be constructed on one goroutine and inspected or re-raised on
// another. It satisfies error and unwraps to the original cause when
// one exists.
type Fault struct {
	Kind    FaultKind
	Message string
	Cause   error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("application fault (%s): %v", f.Kind, f.Cause)
	}
	return fmt.Sprintf("application fault (%s): %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

// NewFault captures an error returned by an application.
func NewFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: FaultError, Message: err.Error(), Cause: err}
}

// RecoverFault converts a recovered panic value into a Fault.
func RecoverFault(r any) *Fault {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return &Fault{Kind: FaultPanic, Message: err.Error(), Cause: err}
	}
	return &Fault{Kind: FaultPanic, Message: fmt.Sprint(r)}
}

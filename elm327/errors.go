package elm327

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Session, usually wrapped. Match them with
// errors.Is.
var (
	ErrTransportTimeout     = errors.New("no prompt from adapter within timeout")
	ErrAdapterNotResponding = errors.New("adapter not responding")
	ErrBusConnect           = errors.New("unable to connect to vehicle bus")
	ErrInvalidState         = errors.New("operation not allowed in current link state")
	ErrConfigMismatch       = errors.New("unexpected reply to setup command")
	ErrNoData               = errors.New("vehicle returned no data")
)

// TimeoutError is returned when a command got no prompt in time. Partial
// holds whatever was read before giving up.
type TimeoutError struct {
	Command string
	Partial string
}

func (e *TimeoutError) Error() string {
	if e.Partial == "" {
		return fmt.Sprintf("%s: no response from adapter", e.Command)
	}
	return fmt.Sprintf("%s: no prompt from adapter after %q", e.Command, e.Partial)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTransportTimeout
}

// StateError is returned when an operation is attempted in a link state
// that does not allow it.
type StateError struct {
	Op    string
	State LinkState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// MismatchError reports a setup step whose reply did not match.
type MismatchError struct {
	Command  string
	Expected string
	Got      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %q, got %q", e.Command, e.Expected, e.Got)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrConfigMismatch
}

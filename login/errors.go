package login

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL indicates the server address cannot start a login.
	ErrInvalidURL = errors.New("invalid server address")
	// ErrNetwork indicates the server could not be reached or spoke something
	// other than the login protocol.
	ErrNetwork = errors.New("network failure")
	// ErrDenied indicates the server refused the grant.
	ErrDenied = errors.New("login denied")
	// ErrCancelled indicates the user or a newer login aborted the flow.
	ErrCancelled = errors.New("login cancelled")
	// ErrTimedOut indicates a call or the whole poll loop ran out of time.
	ErrTimedOut = errors.New("login timed out")
	// ErrEstablish indicates the granted credentials could not be stored.
	ErrEstablish = errors.New("establishing session failed")
)

// Error is a terminal flow failure. Kind is one of the sentinels above and
// State is where the flow was when it failed.
type Error struct {
	Kind  error
	State State
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (while %s)", e.Kind, e.State)
	}
	return fmt.Sprintf("%v (while %s): %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmcleod/ironpass/nextcloud"
)

// Reason records why a session stopped being usable. The zero value means
// the session has not been invalidated.
type Reason string

const (
	LoggedOut    Reason = "logged-out"
	Deauthorized Reason = "deauthorized"
	NoConnection Reason = "no-connection"
)

var (
	// ErrNoSession indicates nothing is persisted to restore from.
	ErrNoSession = errors.New("no session")
	// ErrStaleFlow indicates a login flow finished after a newer one started
	// or after it was cancelled.
	ErrStaleFlow = errors.New("login flow superseded")
)

// InvalidatedError is delivered to failure continuations.
type InvalidatedError struct {
	Reason Reason
}

func (e *InvalidatedError) Error() string {
	return fmt.Sprintf("session invalidated: %s", e.Reason)
}

// ReasonFor maps an error seen on an authenticated call onto an invalidation
// reason. ok is false for errors that say nothing about the session.
func ReasonFor(err error) (reason Reason, ok bool) {
	var inv *InvalidatedError
	switch {
	case err == nil:
		return "", false
	case errors.As(err, &inv):
		return inv.Reason, true
	case errors.Is(err, nextcloud.ErrUnauthorized), errors.Is(err, nextcloud.ErrDenied):
		return Deauthorized, true
	case errors.Is(err, nextcloud.ErrUnreachable),
		errors.Is(err, nextcloud.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return NoConnection, true
	default:
		return "", false
	}
}

// Message is the prompt shown when a session ends for reason.
func Message(reason Reason) string {
	switch reason {
	case LoggedOut:
		return "You have been logged out. Log in to continue."
	case Deauthorized:
		return "Access for this device was revoked on the server. Log in again to continue."
	case NoConnection:
		return "The server could not be reached. Check your connection, then log in again."
	default:
		return "Log in to continue."
	}
}

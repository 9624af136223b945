package nextcloud

import "errors"

var (
	// ErrPending is the poll endpoint's "not granted yet" answer. It is not a
	// failure.
	ErrPending = errors.New("grant pending")
	// ErrDenied indicates the server refused to redeem the poll token.
	ErrDenied = errors.New("grant denied")
	// ErrUnauthorized indicates the server rejected the app password.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnreachable covers every transport failure, including rejected TLS.
	ErrUnreachable = errors.New("server unreachable")
	// ErrTimeout indicates a single call exceeded its timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrUnexpectedStatus indicates a status code outside the protocol.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrInvalidResponse indicates a body that does not match the protocol.
	ErrInvalidResponse = errors.New("invalid response")
)

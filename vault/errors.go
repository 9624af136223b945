package vault

import "errors"

var (
	// ErrAuthRequired indicates the vault cannot be opened without the main
	// app: the keychain, the challenge password, or the vault key is absent or
	// wrong.
	ErrAuthRequired = errors.New("authentication required")
	// ErrDecryptFailed indicates a container failed integrity checks. It is
	// data corruption and is never retried.
	ErrDecryptFailed = errors.New("decrypt failed")
	// ErrInvalidRecord indicates a record cannot be sealed as given.
	ErrInvalidRecord = errors.New("invalid record")
)

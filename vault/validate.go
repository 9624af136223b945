package vault

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// MaxIDLength bounds record identifiers, which double as storage keys.
const MaxIDLength = 256

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id must not be empty", ErrInvalidRecord)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: id exceeds maximum length of %d", ErrInvalidRecord, MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: id contains invalid UTF-8", ErrInvalidRecord)
	}
	for _, r := range id {
		if r == ':' || r == '/' {
			return fmt.Errorf("%w: id contains forbidden character %q", ErrInvalidRecord, r)
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: id contains control character", ErrInvalidRecord)
		}
	}
	return nil
}

// Package vault decrypts the offline copy of the password vault. Every
// container carries metadata sealed to the keychain's public key and a payload
// encrypted with the symmetric vault key; both must open for a record to be
// returned.
package vault

import (
	"github.com/jmcleod/ironpass/internal/seal"
	"github.com/jmcleod/ironpass/otp"
	"github.com/jmcleod/ironpass/storage"
)

const (
	// TypePassword is the only container type currently produced by sync.
	TypePassword = "password"

	containerVersion = 1
)

// Container is one persisted, encrypted vault entry.
type Container struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Ver      int               `json:"ver"`
	Metadata *seal.Wrap        `json:"metadata"`
	Payload  *storage.Envelope `json:"payload"`
}

// PasswordRecord is the decrypted form of a password container. It is never
// persisted in plaintext.
type PasswordRecord struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Password string          `json:"password"`
	URL      string          `json:"url"`
	Label    string          `json:"label,omitzero"`
	OTP      *otp.Descriptor `json:"otp,omitzero"`
}

type metadata struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Label string `json:"label,omitzero"`
}

type payload struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	OTP      *otp.Descriptor `json:"otp,omitzero"`
}

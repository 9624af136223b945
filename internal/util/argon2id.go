package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"
)

// Argon2idParams configures Argon2id key derivation. The parameters travel
// with every blob they protect so older blobs stay readable when defaults move.
type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

const (
	KDFProfileInteractive = "interactive"
	KDFProfileModerate    = "moderate"
	KDFProfileSensitive   = "sensitive"
)

const (
	MinArgon2Time      = 2
	MinArgon2MemoryKiB = 19 * 1024
	MinArgon2Parallel  = 1
)

// Upper bounds keep a corrupt or hostile header from stalling the caller.
// They sit at twice the sensitive profile.
const (
	MaxArgon2Time      = 8
	MaxArgon2MemoryKiB = 256 * 1024
	MaxArgon2Parallel  = 8
)

const HKDFKeyLength = 32

// DefaultArgon2idParams returns the moderate profile.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

func Argon2idProfile(name string) (Argon2idParams, error) {
	switch name {
	case KDFProfileInteractive:
		return Argon2idParams{Time: 2, MemoryKiB: 19 * 1024, Parallelism: 1, KeyLen: 32}, nil
	case KDFProfileModerate:
		return DefaultArgon2idParams(), nil
	case KDFProfileSensitive:
		return Argon2idParams{Time: 4, MemoryKiB: 128 * 1024, Parallelism: 4, KeyLen: 32}, nil
	default:
		return Argon2idParams{}, fmt.Errorf("unknown KDF profile %q", name)
	}
}

func ValidateArgon2idParams(p Argon2idParams) error {
	if p.KeyLen != 32 {
		return fmt.Errorf("argon2id key length must be 32 bytes, got %d", p.KeyLen)
	}
	if p.Time < MinArgon2Time {
		return fmt.Errorf("argon2id time %d below minimum %d", p.Time, MinArgon2Time)
	}
	if p.MemoryKiB < MinArgon2MemoryKiB {
		return fmt.Errorf("argon2id memory %d KiB below minimum %d KiB", p.MemoryKiB, MinArgon2MemoryKiB)
	}
	if p.Parallelism < MinArgon2Parallel {
		return fmt.Errorf("argon2id parallelism must be at least %d", MinArgon2Parallel)
	}
	if p.Time > MaxArgon2Time {
		return fmt.Errorf("argon2id time %d above maximum %d", p.Time, MaxArgon2Time)
	}
	if p.MemoryKiB > MaxArgon2MemoryKiB {
		return fmt.Errorf("argon2id memory %d KiB above maximum %d KiB", p.MemoryKiB, MaxArgon2MemoryKiB)
	}
	if p.Parallelism > MaxArgon2Parallel {
		return fmt.Errorf("argon2id parallelism %d above maximum %d", p.Parallelism, MaxArgon2Parallel)
	}
	return nil
}

// DeriveArgon2idKey stretches a password after NFKD normalization, so the same
// password typed on different platforms derives the same key.
func DeriveArgon2idKey(password string, salt []byte, params Argon2idParams) ([]byte, error) {
	if err := ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	pw := []byte(norm.NFKD.String(password))
	defer WipeBytes(pw)
	return argon2.IDKey(pw, salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen), nil
}

func HKDF(seed []byte, salt []byte, info []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, HKDFKeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}

package vault

import (
	"encoding/hex"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/jmcleod/ironpass/internal/util"
)

// Key is the symmetric vault key, held in a memguard enclave.
type Key struct {
	enclave *memguard.Enclave
}

// GenerateKey creates a random vault key.
func GenerateKey() (*Key, error) {
	raw, err := util.NewAESKey()
	if err != nil {
		return nil, fmt.Errorf("generating vault key: %w", err)
	}
	return NewKey(raw)
}

// NewKey moves raw into an enclave. raw is wiped.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != util.AESKeySize {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("%w: vault key must be %d bytes", ErrAuthRequired, util.AESKeySize)
	}
	return &Key{enclave: memguard.NewEnclave(raw)}, nil
}

// ParseKey decodes the hex form kept in the secret store.
func ParseKey(encoded []byte) (*Key, error) {
	raw := make([]byte, hex.DecodedLen(len(encoded)))
	n, err := hex.Decode(raw, encoded)
	if err != nil {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("%w: malformed vault key", ErrAuthRequired)
	}
	return NewKey(raw[:n])
}

// Encode returns the hex form of the key for the secret store.
func (k *Key) Encode() ([]byte, error) {
	var out []byte
	err := k.use(func(raw []byte) error {
		out = make([]byte, hex.EncodedLen(len(raw)))
		hex.Encode(out, raw)
		return nil
	})
	return out, err
}

// Destroy drops the enclave.
func (k *Key) Destroy() {
	if k != nil {
		k.enclave = nil
	}
}

func (k *Key) use(fn func(raw []byte) error) error {
	if k == nil || k.enclave == nil {
		return fmt.Errorf("%w: vault key not available", ErrAuthRequired)
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("%w: opening vault key enclave: %v", ErrAuthRequired, err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

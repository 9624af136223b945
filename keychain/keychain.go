// Package keychain holds the asymmetric keychain that protects offline vault
// metadata. At rest the keychain is a blob locked with a key derived from the
// challenge password; in memory the private key lives in a memguard enclave.
package keychain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/jmcleod/ironpass/internal/seal"
	"github.com/jmcleod/ironpass/internal/util"
)

const (
	blobVersion = 1
	saltLen     = 16
	// version(1) || time(4) || memory(4) || parallelism(1) || salt(16)
	headerLen = 1 + 4 + 4 + 1 + saltLen
)

var (
	// ErrLocked indicates the keychain could not be unlocked: the blob is
	// absent, corrupt, or the challenge password is wrong.
	ErrLocked = errors.New("keychain is locked")
	// ErrDestroyed indicates the material was destroyed and must not be reused.
	ErrDestroyed = errors.New("keychain material destroyed")
)

// Material is a decrypted keychain. Callers must call Destroy when done.
type Material struct {
	private   *memguard.Enclave
	public    [32]byte
	createdAt time.Time
}

type lockedKeychain struct {
	PrivateKey [32]byte  `json:"private_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// Generate creates fresh keychain material.
func Generate() (*Material, error) {
	kp, err := util.GenerateX25519Keypair()
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&kp.Private)
	return newMaterial(kp.Private, kp.Public, time.Now().UTC()), nil
}

func newMaterial(priv, pub [32]byte, createdAt time.Time) *Material {
	buf := util.CopyBytes(priv[:])
	return &Material{
		private:   memguard.NewEnclave(buf),
		public:    pub,
		createdAt: createdAt,
	}
}

// Public returns the X25519 public key that sync writers seal metadata to.
func (m *Material) Public() [32]byte {
	if m == nil || m.private == nil {
		return [32]byte{}
	}
	return m.public
}

// CreatedAt reports when the keychain was generated.
func (m *Material) CreatedAt() time.Time {
	if m == nil {
		return time.Time{}
	}
	return m.createdAt
}

// Open decrypts a payload sealed to this keychain's public key.
func (m *Material) Open(w *seal.Wrap, aad []byte) ([]byte, error) {
	if m == nil || m.private == nil {
		return nil, ErrDestroyed
	}
	buf, err := m.private.Open()
	if err != nil {
		return nil, fmt.Errorf("opening keychain enclave: %w", err)
	}
	defer buf.Destroy()

	var priv [32]byte
	copy(priv[:], buf.Bytes())
	defer util.WipeArray32(&priv)

	return seal.Open(priv, w, aad)
}

// Destroy drops the enclave. After calling Destroy the material must not be reused.
func (m *Material) Destroy() {
	if m == nil {
		return
	}
	m.private = nil
	util.WipeArray32(&m.public)
}

// Lock encrypts the material into a portable blob protected by password.
// The blob format is:
//
//	version || argon2 time || argon2 memory || parallelism || salt || AES-256-GCM ciphertext
//
// The header is authenticated as AAD, so parameters cannot be downgraded.
func Lock(m *Material, password string, params util.Argon2idParams) ([]byte, error) {
	if m == nil || m.private == nil {
		return nil, ErrDestroyed
	}
	if password == "" {
		return nil, fmt.Errorf("challenge password must not be empty")
	}
	if err := util.ValidateArgon2idParams(params); err != nil {
		return nil, err
	}

	buf, err := m.private.Open()
	if err != nil {
		return nil, fmt.Errorf("opening keychain enclave: %w", err)
	}
	defer buf.Destroy()

	lk := lockedKeychain{CreatedAt: m.createdAt}
	copy(lk.PrivateKey[:], buf.Bytes())
	defer util.WipeArray32(&lk.PrivateKey)

	plaintext, err := json.Marshal(lk)
	if err != nil {
		return nil, fmt.Errorf("marshaling keychain: %w", err)
	}
	defer util.WipeBytes(plaintext)

	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return nil, fmt.Errorf("generating keychain salt: %w", err)
	}

	header := make([]byte, 0, headerLen)
	header = append(header, byte(blobVersion))
	header = binary.BigEndian.AppendUint32(header, params.Time)
	header = binary.BigEndian.AppendUint32(header, params.MemoryKiB)
	header = append(header, params.Parallelism)
	header = append(header, salt...)

	key, err := util.DeriveArgon2idKey(password, salt, params)
	if err != nil {
		return nil, fmt.Errorf("deriving keychain key: %w", err)
	}
	defer util.WipeBytes(key)

	ciphertext, err := util.EncryptAESWithAAD(plaintext, key, aad(header))
	if err != nil {
		return nil, fmt.Errorf("encrypting keychain: %w", err)
	}
	return append(header, ciphertext...), nil
}

// Unlock reverses Lock. Every failure wraps ErrLocked.
func Unlock(blob []byte, password string) (*Material, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: no keychain stored", ErrLocked)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: no challenge password", ErrLocked)
	}
	if len(blob) < headerLen {
		return nil, fmt.Errorf("%w: keychain blob too short", ErrLocked)
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: unsupported keychain version %d", ErrLocked, blob[0])
	}

	header := blob[:headerLen]
	params := util.Argon2idParams{
		Time:        binary.BigEndian.Uint32(header[1:5]),
		MemoryKiB:   binary.BigEndian.Uint32(header[5:9]),
		Parallelism: header[9],
		KeyLen:      32,
	}
	salt := header[10:headerLen]

	key, err := util.DeriveArgon2idKey(password, salt, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer util.WipeBytes(key)

	plaintext, err := util.DecryptAESWithAAD(blob[headerLen:], key, aad(header))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer util.WipeBytes(plaintext)

	var lk lockedKeychain
	if err := json.Unmarshal(plaintext, &lk); err != nil {
		return nil, fmt.Errorf("%w: malformed keychain: %v", ErrLocked, err)
	}
	defer util.WipeArray32(&lk.PrivateKey)

	pub, err := util.PublicKey(lk.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}
	return newMaterial(lk.PrivateKey, pub, lk.CreatedAt), nil
}

func aad(header []byte) []byte {
	return append(seal.AADKeychain(blobVersion), header...)
}

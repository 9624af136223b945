package seal

import (
	"fmt"

	"github.com/jmcleod/ironpass/internal/util"
)

const wrapInfo = "ironpass:seal:v1"

// Wrap is a payload sealed to an X25519 public key with ephemeral ECDH,
// HKDF-SHA256 and AES-256-GCM.
type Wrap struct {
	Ver        int      `json:"ver"`
	EphPub     [32]byte `json:"eph_pub"`
	Salt       []byte   `json:"salt"`
	Nonce      []byte   `json:"nonce"`
	Ciphertext []byte   `json:"ciphertext"`
}

// ToKey seals plaintext so only the holder of the private half of
// recipientPub can open it.
func ToKey(recipientPub [32]byte, plaintext, aad []byte) (*Wrap, error) {
	kp, err := util.GenerateX25519Keypair()
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&kp.Private)

	shared, err := util.SharedSecret(kp.Private, recipientPub)
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&shared)

	salt, err := util.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	wrapKey, err := util.HKDF(shared[:], salt, []byte(wrapInfo))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(wrapKey)

	nonce, ciphertext, err := util.SealAES(plaintext, wrapKey, aad)
	if err != nil {
		return nil, err
	}

	return &Wrap{
		Ver:        1,
		EphPub:     kp.Public,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Open decrypts a Wrap with the recipient's X25519 private key.
func Open(recipientPriv [32]byte, wrap *Wrap, aad []byte) ([]byte, error) {
	if wrap == nil {
		return nil, fmt.Errorf("sealed wrap is missing")
	}
	if wrap.Ver != 1 {
		return nil, fmt.Errorf("unsupported sealed wrap version: %d", wrap.Ver)
	}

	shared, err := util.SharedSecret(recipientPriv, wrap.EphPub)
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&shared)

	wrapKey, err := util.HKDF(shared[:], wrap.Salt, []byte(wrapInfo))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(wrapKey)

	return util.OpenAES(wrap.Nonce, wrap.Ciphertext, wrapKey, aad)
}

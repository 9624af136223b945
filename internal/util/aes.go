package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	AESKeySize   = 32
	GCMNonceSize = 12
)

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}
	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// SealAES encrypts plainText with AES-256-GCM and returns the random nonce and
// the ciphertext separately.
func SealAES(plainText, rawKey, aad []byte) (nonce, cipherText []byte, err error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plainText, aad), nil
}

// OpenAES reverses SealAES. Any mismatch in key, nonce, AAD or ciphertext
// yields an error, never a wrong plaintext.
func OpenAES(nonce, cipherText, rawKey, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), gcm.NonceSize())
	}
	plainText, err := gcm.Open(nil, nonce, cipherText, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}

// EncryptAESWithAAD returns nonce || ciphertext.
func EncryptAESWithAAD(plainText, rawKey, aad []byte) ([]byte, error) {
	nonce, cipherText, err := SealAES(plainText, rawKey, aad)
	if err != nil {
		return nil, err
	}
	return append(nonce, cipherText...), nil
}

// DecryptAESWithAAD opens a nonce || ciphertext blob from EncryptAESWithAAD.
func DecryptAESWithAAD(blob, rawKey, aad []byte) ([]byte, error) {
	if len(blob) < GCMNonceSize {
		return nil, fmt.Errorf("ciphertext shorter than nonce size")
	}
	return OpenAES(blob[:GCMNonceSize], blob[GCMNonceSize:], rawKey, aad)
}

func NewAESKey() ([]byte, error) {
	return RandomBytes(AESKeySize)
}

package secretstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

// KeyringConfig selects and scopes the OS keyring.
type KeyringConfig struct {
	Service     string
	AccessGroup string
	// Backend restricts the keyring to one backend ("file", "keychain",
	// "secret-service", ...). Empty lets the library choose.
	Backend string
	// FileDir and FilePassword configure the encrypted-file fallback.
	FileDir      string
	FilePassword string
}

// Keyring stores secrets in the OS keyring. Keys are namespaced by the access
// group so both processes sharing the group see the same items.
type Keyring struct {
	ring   keyring.Keyring
	prefix string
}

var _ Store = (*Keyring)(nil)

// OpenKeyring opens the OS keyring described by cfg.
func OpenKeyring(cfg KeyringConfig) (*Keyring, error) {
	kc := keyring.Config{
		ServiceName:              cfg.Service,
		KeychainTrustApplication: true,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
	}
	if cfg.Backend != "" {
		kc.AllowedBackends = []keyring.BackendType{keyring.BackendType(cfg.Backend)}
	}
	ring, err := keyring.Open(kc)
	if err != nil {
		return nil, fmt.Errorf("opening keyring %q: %w", cfg.Service, err)
	}
	return NewKeyring(ring, cfg.AccessGroup), nil
}

// NewKeyring wraps an already opened keyring.
func NewKeyring(ring keyring.Keyring, accessGroup string) *Keyring {
	prefix := ""
	if accessGroup != "" {
		prefix = accessGroup + "/"
	}
	return &Keyring{ring: ring, prefix: prefix}
}

func (k *Keyring) Store(key string, value []byte) error {
	err := k.ring.Set(keyring.Item{
		Key:   k.prefix + key,
		Data:  value,
		Label: key,
	})
	if err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

func (k *Keyring) Load(key string) ([]byte, error) {
	item, err := k.ring.Get(k.prefix + key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotAvailable)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	return item.Data, nil
}

func (k *Keyring) Remove(key string) error {
	err := k.ring.Remove(k.prefix + key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}

func (k *Keyring) Clear() error {
	keys, err := k.ring.Keys()
	if err != nil {
		return fmt.Errorf("listing keyring: %w", err)
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, k.prefix) {
			continue
		}
		if err := k.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("removing %s: %w", key, err)
		}
	}
	return nil
}

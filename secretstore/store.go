// Package secretstore is the secure secret store shared by the host app and
// the credential provider. Both treat it as the single source of truth:
// writes are last-writer-wins and absent keys report ErrNotAvailable.
package secretstore

import (
	"errors"
	"fmt"
)

// ErrNotAvailable is returned by Load for keys that were never stored or
// have been removed.
var ErrNotAvailable = errors.New("secret not available")

// Keys shared between the host app and the credential provider.
const (
	KeyServer            = "nextcloud.server"
	KeyUser              = "nextcloud.user"
	KeySecret            = "nextcloud.app-password"
	KeyChallengePassword = "offline.challenge-password"
	KeyKeychain          = "offline.keychain"
	KeyVaultKey          = "offline.vault-key"
)

// Store is scoped to one service and access group.
type Store interface {
	Store(key string, value []byte) error
	Load(key string) ([]byte, error)
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
	// Clear removes every key in the store's scope.
	Clear() error
}

// LoadString is Load for text values.
func LoadString(s Store, key string) (string, error) {
	v, err := s.Load(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// StoreAll writes every pair, stopping at the first failure.
func StoreAll(s Store, values map[string][]byte) error {
	for k, v := range values {
		if err := s.Store(k, v); err != nil {
			return fmt.Errorf("storing %s: %w", k, err)
		}
	}
	return nil
}

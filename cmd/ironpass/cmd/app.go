package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jmcleod/ironpass/nextcloud"
	"github.com/jmcleod/ironpass/secretstore"
	bboltstorage "github.com/jmcleod/ironpass/storage/bbolt"
	"github.com/jmcleod/ironpass/trust"
)

// readOnlyTimeout bounds the wait for a writer holding the vault database.
const readOnlyTimeout = 2 * time.Second

var errNoVault = errors.New("offline vault not initialised; run 'ironpass offline init'")

func ensureDataDir() error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

func openSecrets() (secretstore.Store, error) {
	if err := ensureDataDir(); err != nil {
		return nil, err
	}
	return secretstore.OpenKeyring(cfg.Keyring())
}

func newValidator() (*trust.Validator, error) {
	v := trust.New(trust.WithLogger(logger))
	for _, fp := range cfg.PinnedCerts {
		if err := v.Pin(fp); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func newClient(v *trust.Validator) *nextcloud.Client {
	return nextcloud.NewClient(
		nextcloud.WithHTTPClient(&http.Client{Transport: v.Transport()}),
		nextcloud.WithTimeout(cfg.RequestTimeout),
		nextcloud.WithUserAgent("ironpass/"+Version),
		nextcloud.WithLogger(logger),
	)
}

func openVaultForWrite() (*bboltstorage.Store, error) {
	if err := ensureDataDir(); err != nil {
		return nil, err
	}
	repo, err := bboltstorage.NewRepositoryFromFile(cfg.VaultPath(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline vault: %w", err)
	}
	return repo, nil
}

func openVaultForRead() (*bboltstorage.Store, error) {
	if _, err := os.Stat(cfg.VaultPath()); errors.Is(err, os.ErrNotExist) {
		return nil, errNoVault
	}
	repo, err := bboltstorage.OpenReadOnly(cfg.VaultPath(), readOnlyTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline vault: %w", err)
	}
	return repo, nil
}

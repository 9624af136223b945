package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/ironpass/internal/util"
	"github.com/jmcleod/ironpass/keychain"
	"github.com/jmcleod/ironpass/secretstore"
	"github.com/jmcleod/ironpass/storage"
)

// Opener assembles everything needed to read the offline vault from the
// shared secret store and the local container repository. It never touches
// the network.
type Opener struct {
	secrets secretstore.Store
	repo    storage.Reader
	logger  *slog.Logger
	opts    []DecryptorOption
}

func NewOpener(secrets secretstore.Store, repo storage.Reader, logger *slog.Logger, opts ...DecryptorOption) *Opener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Opener{secrets: secrets, repo: repo, logger: logger, opts: opts}
}

// Unlock loads the keychain and vault key. The caller owns both and must
// destroy them.
func (o *Opener) Unlock(ctx context.Context) (*keychain.Material, *Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	password, err := o.load(secretstore.KeyChallengePassword)
	if err != nil {
		return nil, nil, err
	}
	defer util.WipeBytes(password)
	blob, err := o.load(secretstore.KeyKeychain)
	if err != nil {
		return nil, nil, err
	}
	encodedKey, err := o.load(secretstore.KeyVaultKey)
	if err != nil {
		return nil, nil, err
	}
	defer util.WipeBytes(encodedKey)

	material, err := Unlock(blob, string(password))
	if err != nil {
		o.logger.Info("offline keychain locked", slog.String("error", err.Error()))
		return nil, nil, err
	}
	key, err := ParseKey(encodedKey)
	if err != nil {
		material.Destroy()
		return nil, nil, err
	}
	return material, key, nil
}

// Records decrypts every password container.
func (o *Opener) Records(ctx context.Context) ([]PasswordRecord, error) {
	material, key, err := o.Unlock(ctx)
	if err != nil {
		return nil, err
	}
	defer material.Destroy()
	defer key.Destroy()

	containers, err := Containers(o.repo, TypePassword)
	if err != nil {
		return nil, err
	}
	return NewDecryptor(material, o.logger, o.opts...).Decrypt(ctx, containers, key)
}

func (o *Opener) load(name string) ([]byte, error) {
	v, err := o.secrets.Load(name)
	if errors.Is(err, secretstore.ErrNotAvailable) {
		return nil, fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %v", ErrAuthRequired, name, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrAuthRequired, name)
	}
	return v, nil
}

// Provision creates a fresh keychain and vault key, locks the keychain with
// challengePassword and stores all three in secrets.
func Provision(secrets secretstore.Store, challengePassword string, params util.Argon2idParams) (*keychain.Material, *Key, error) {
	material, err := keychain.Generate()
	if err != nil {
		return nil, nil, err
	}
	blob, err := keychain.Lock(material, challengePassword, params)
	if err != nil {
		material.Destroy()
		return nil, nil, err
	}
	key, err := GenerateKey()
	if err != nil {
		material.Destroy()
		return nil, nil, err
	}
	encoded, err := key.Encode()
	if err != nil {
		material.Destroy()
		return nil, nil, err
	}
	defer util.WipeBytes(encoded)

	err = secretstore.StoreAll(secrets, map[string][]byte{
		secretstore.KeyChallengePassword: []byte(challengePassword),
		secretstore.KeyKeychain:          blob,
		secretstore.KeyVaultKey:          encoded,
	})
	if err != nil {
		material.Destroy()
		return nil, nil, err
	}
	return material, key, nil
}

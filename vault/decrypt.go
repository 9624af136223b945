package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/jmcleod/ironpass/internal/seal"
	"github.com/jmcleod/ironpass/internal/util"
	"github.com/jmcleod/ironpass/keychain"
	"github.com/jmcleod/ironpass/storage"
	"golang.org/x/sync/errgroup"
)

// Unlock opens a stored keychain blob with the challenge password. Any
// failure, including an absent blob, is ErrAuthRequired.
func Unlock(blob []byte, challengePassword string) (*keychain.Material, error) {
	m, err := keychain.Unlock(blob, challengePassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	return m, nil
}

// DecryptorOption configures a Decryptor.
type DecryptorOption func(*Decryptor)

// WithConcurrency bounds the number of containers decrypted at once.
// Default: GOMAXPROCS.
func WithConcurrency(n int) DecryptorOption {
	return func(d *Decryptor) {
		if n > 0 {
			d.limit = n
		}
	}
}

// Decryptor turns containers into password records using an unlocked keychain.
type Decryptor struct {
	material *keychain.Material
	logger   *slog.Logger
	limit    int
}

func NewDecryptor(material *keychain.Material, logger *slog.Logger, opts ...DecryptorOption) *Decryptor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Decryptor{
		material: material,
		logger:   logger,
		limit:    runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decrypt decrypts every container on background workers and returns the
// records in container order. One bad container fails the batch.
func (d *Decryptor) Decrypt(ctx context.Context, containers []*Container, key *Key) ([]PasswordRecord, error) {
	if d.material == nil {
		return nil, fmt.Errorf("%w: keychain not unlocked", ErrAuthRequired)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: vault key not available", ErrAuthRequired)
	}

	records := make([]PasswordRecord, len(containers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)
	for i, c := range containers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := d.decryptOne(c, key)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warn("offline decrypt failed",
			slog.Int("containers", len(containers)),
			slog.String("error", err.Error()))
		return nil, err
	}
	d.logger.Debug("offline decrypt complete", slog.Int("records", len(records)))
	return records, nil
}

func (d *Decryptor) decryptOne(c *Container, key *Key) (PasswordRecord, error) {
	if c == nil {
		return PasswordRecord{}, fmt.Errorf("%w: missing container", ErrDecryptFailed)
	}
	if c.Type != TypePassword {
		return PasswordRecord{}, fmt.Errorf("%w: container %s has unsupported type %q", ErrDecryptFailed, c.ID, c.Type)
	}
	if c.Ver != containerVersion {
		return PasswordRecord{}, fmt.Errorf("%w: container %s has unsupported version %d", ErrDecryptFailed, c.ID, c.Ver)
	}

	metaBytes, err := d.material.Open(c.Metadata, seal.AADContainerMeta(c.ID, c.Type, c.Ver))
	if errors.Is(err, keychain.ErrDestroyed) {
		return PasswordRecord{}, fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	if err != nil {
		return PasswordRecord{}, fmt.Errorf("%w: container %s metadata: %v", ErrDecryptFailed, c.ID, err)
	}
	var meta metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return PasswordRecord{}, fmt.Errorf("%w: container %s metadata: %v", ErrDecryptFailed, c.ID, err)
	}
	if meta.ID != c.ID {
		return PasswordRecord{}, fmt.Errorf("%w: container %s metadata bound to %q", ErrDecryptFailed, c.ID, meta.ID)
	}

	var body []byte
	err = key.use(func(raw []byte) error {
		var err error
		body, err = storage.OpenRecord(raw, c.Payload, seal.AADContainerPayload(c.ID, c.Type, c.Ver))
		if err != nil {
			return fmt.Errorf("%w: container %s payload: %v", ErrDecryptFailed, c.ID, err)
		}
		return nil
	})
	if err != nil {
		return PasswordRecord{}, err
	}
	defer util.WipeBytes(body)

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return PasswordRecord{}, fmt.Errorf("%w: container %s payload: %v", ErrDecryptFailed, c.ID, err)
	}
	return PasswordRecord{
		ID:       c.ID,
		Username: p.Username,
		Password: p.Password,
		URL:      meta.URL,
		Label:    meta.Label,
		OTP:      p.OTP,
	}, nil
}

package vault

import (
	"encoding/json"
	"fmt"

	"github.com/jmcleod/ironpass/internal/seal"
	"github.com/jmcleod/ironpass/internal/util"
	"github.com/jmcleod/ironpass/storage"
)

// Seal encrypts a record into a container the way the sync path writes it:
// metadata sealed to the keychain public key, payload under the vault key.
func Seal(pub [32]byte, key *Key, rec PasswordRecord) (*Container, error) {
	if err := validateID(rec.ID); err != nil {
		return nil, err
	}
	c := &Container{ID: rec.ID, Type: TypePassword, Ver: containerVersion}

	meta, err := json.Marshal(metadata{ID: rec.ID, URL: rec.URL, Label: rec.Label})
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	c.Metadata, err = seal.ToKey(pub, meta, seal.AADContainerMeta(c.ID, c.Type, c.Ver))
	if err != nil {
		return nil, fmt.Errorf("sealing metadata: %w", err)
	}

	body, err := json.Marshal(payload{Username: rec.Username, Password: rec.Password, OTP: rec.OTP})
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	defer util.WipeBytes(body)

	err = key.use(func(raw []byte) error {
		var err error
		c.Payload, err = storage.SealRecord(raw, body, seal.AADContainerPayload(c.ID, c.Type, c.Ver))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sealing payload: %w", err)
	}
	return c, nil
}

// Put writes a container to repo keyed by its type and ID.
func Put(repo storage.Repository, c *Container) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling container: %w", err)
	}
	if err := repo.Put(c.Type, c.ID, data); err != nil {
		return fmt.Errorf("storing container %s: %w", c.ID, err)
	}
	return nil
}

// Containers loads every container of the given type. A blob that does not
// parse is corruption and fails the whole load.
func Containers(repo storage.Reader, containerType string) ([]*Container, error) {
	records, err := repo.All(containerType)
	if err != nil {
		return nil, fmt.Errorf("loading %s containers: %w", containerType, err)
	}
	out := make([]*Container, 0, len(records))
	for _, r := range records {
		var c Container
		if err := json.Unmarshal(r.Data, &c); err != nil {
			return nil, fmt.Errorf("%w: container %s: %v", ErrDecryptFailed, r.ID, err)
		}
		if c.ID != r.ID || c.Type != containerType {
			return nil, fmt.Errorf("%w: container %s stored under the wrong key", ErrDecryptFailed, r.ID)
		}
		out = append(out, &c)
	}
	return out, nil
}

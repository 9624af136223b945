package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jmcleod/ironpass/internal/util"
	"github.com/jmcleod/ironpass/keychain"
	"github.com/jmcleod/ironpass/otp"
	"github.com/jmcleod/ironpass/secretstore"
	"github.com/jmcleod/ironpass/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(t *testing.T) util.Argon2idParams {
	t.Helper()
	p, err := util.Argon2idProfile(util.KDFProfileInteractive)
	require.NoError(t, err)
	return p
}

func newKeys(t *testing.T) (*keychain.Material, *Key) {
	t.Helper()
	m, err := keychain.Generate()
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	k, err := GenerateKey()
	require.NoError(t, err)
	t.Cleanup(k.Destroy)
	return m, k
}

func sampleRecords() []PasswordRecord {
	return []PasswordRecord{
		{ID: "rec-1", Username: "alice", Password: "s3cret", URL: "https://mail.example.com/login", Label: "Mail"},
		{ID: "rec-2", Username: "bob", Password: "hunter2", URL: "https://git.example.org",
			OTP: &otp.Descriptor{Type: otp.TypeTOTP, Secret: "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", Digits: 6, Period: 30}},
		{ID: "rec-3", Username: "carol", Password: "pa55", URL: "https://bank.example.net"},
	}
}

func sealAll(t *testing.T, m *keychain.Material, k *Key, recs []PasswordRecord) []*Container {
	t.Helper()
	out := make([]*Container, 0, len(recs))
	for _, r := range recs {
		c, err := Seal(m.Public(), k, r)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func TestDecryptRoundTrip(t *testing.T) {
	m, k := newKeys(t)
	want := sampleRecords()
	containers := sealAll(t, m, k, want)

	got, err := NewDecryptor(m, nil, WithConcurrency(2)).Decrypt(t.Context(), containers, k)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecryptWrongVaultKey(t *testing.T) {
	m, k := newKeys(t)
	containers := sealAll(t, m, k, sampleRecords())

	other, err := GenerateKey()
	require.NoError(t, err)
	_, err = NewDecryptor(m, nil).Decrypt(t.Context(), containers, other)
	assert.ErrorIs(t, err, ErrDecryptFailed)
	assert.NotErrorIs(t, err, ErrAuthRequired)
}

func TestDecryptWrongKeychain(t *testing.T) {
	m, k := newKeys(t)
	containers := sealAll(t, m, k, sampleRecords())

	other, err := keychain.Generate()
	require.NoError(t, err)
	defer other.Destroy()
	_, err = NewDecryptor(other, nil).Decrypt(t.Context(), containers, k)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptTamperFailsWholeBatch(t *testing.T) {
	cases := map[string]func(c *Container){
		"payload ciphertext": func(c *Container) { c.Payload.Ciphertext[0] ^= 0xFF },
		"metadata ciphertext": func(c *Container) { c.Metadata.Ciphertext[0] ^= 0xFF },
		"renamed container": func(c *Container) { c.ID = "rec-renamed" },
		"missing payload":   func(c *Container) { c.Payload = nil },
		"future version":    func(c *Container) { c.Ver = 2 },
		"unknown type":      func(c *Container) { c.Type = "note" },
	}
	for name, tamper := range cases {
		t.Run(name, func(t *testing.T) {
			m, k := newKeys(t)
			containers := sealAll(t, m, k, sampleRecords())
			tamper(containers[1])

			got, err := NewDecryptor(m, nil).Decrypt(t.Context(), containers, k)
			assert.ErrorIs(t, err, ErrDecryptFailed)
			assert.Nil(t, got, "no partial results")
		})
	}
}

func TestDecryptMetadataBoundToContainer(t *testing.T) {
	m, k := newKeys(t)
	containers := sealAll(t, m, k, sampleRecords())
	// Swapping sealed metadata between containers must not decrypt.
	containers[0].Metadata, containers[2].Metadata = containers[2].Metadata, containers[0].Metadata

	_, err := NewDecryptor(m, nil).Decrypt(t.Context(), containers, k)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptMissingKeysIsAuthRequired(t *testing.T) {
	m, k := newKeys(t)
	containers := sealAll(t, m, k, sampleRecords())

	_, err := NewDecryptor(nil, nil).Decrypt(t.Context(), containers, k)
	assert.ErrorIs(t, err, ErrAuthRequired)

	_, err = NewDecryptor(m, nil).Decrypt(t.Context(), containers, nil)
	assert.ErrorIs(t, err, ErrAuthRequired)

	destroyed, err := GenerateKey()
	require.NoError(t, err)
	destroyed.Destroy()
	_, err = NewDecryptor(m, nil).Decrypt(t.Context(), containers, destroyed)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestDecryptCancelled(t *testing.T) {
	m, k := newKeys(t)
	containers := sealAll(t, m, k, sampleRecords())
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := NewDecryptor(m, nil).Decrypt(ctx, containers, k)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnlock(t *testing.T) {
	m, err := keychain.Generate()
	require.NoError(t, err)
	defer m.Destroy()
	blob, err := keychain.Lock(m, "challenge", testParams(t))
	require.NoError(t, err)

	opened, err := Unlock(blob, "challenge")
	require.NoError(t, err)
	defer opened.Destroy()
	assert.Equal(t, m.Public(), opened.Public())

	for name, tc := range map[string]struct {
		blob []byte
		pw   string
	}{
		"wrong password": {blob, "nope"},
		"absent blob":    {nil, "challenge"},
		"corrupt blob":   {append([]byte{}, blob[:len(blob)-4]...), "challenge"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Unlock(tc.blob, tc.pw)
			assert.ErrorIs(t, err, ErrAuthRequired)
			assert.ErrorIs(t, err, keychain.ErrLocked)
		})
	}
}

func TestKeyEncodeParse(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	enc, err := k.Encode()
	require.NoError(t, err)
	assert.Len(t, enc, 64)

	parsed, err := ParseKey(enc)
	require.NoError(t, err)
	again, err := parsed.Encode()
	require.NoError(t, err)
	assert.Equal(t, enc, again)

	_, err = ParseKey([]byte("zz"))
	assert.ErrorIs(t, err, ErrAuthRequired)
	_, err = ParseKey([]byte("abcd"))
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestSealRejectsBadIDs(t *testing.T) {
	m, k := newKeys(t)
	for _, id := range []string{"", "a/b", "a:b", "tab\there"} {
		_, err := Seal(m.Public(), k, PasswordRecord{ID: id})
		assert.ErrorIs(t, err, ErrInvalidRecord, "id %q", id)
	}
}

func TestContainers(t *testing.T) {
	m, k := newKeys(t)
	repo := memory.NewRepository()
	for _, c := range sealAll(t, m, k, sampleRecords()) {
		require.NoError(t, Put(repo, c))
	}

	containers, err := Containers(repo, TypePassword)
	require.NoError(t, err)
	require.Len(t, containers, 3)
	assert.Equal(t, "rec-1", containers[0].ID)

	require.NoError(t, repo.Put(TypePassword, "rec-9", []byte("{not json")))
	_, err = Containers(repo, TypePassword)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestContainersRejectsMisfiledBlob(t *testing.T) {
	m, k := newKeys(t)
	repo := memory.NewRepository()
	c, err := Seal(m.Public(), k, sampleRecords()[0])
	require.NoError(t, err)
	data, err := json.Marshal(c)
	require.NoError(t, err)
	require.NoError(t, repo.Put(TypePassword, "rec-other", data))

	_, err = Containers(repo, TypePassword)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpener(t *testing.T) {
	secrets := secretstore.NewMemory()
	repo := memory.NewRepository()
	opener := NewOpener(secrets, repo, nil)

	_, err := opener.Records(t.Context())
	assert.ErrorIs(t, err, ErrAuthRequired, "nothing provisioned yet")

	m, k, err := Provision(secrets, "challenge", testParams(t))
	require.NoError(t, err)
	want := sampleRecords()
	for _, c := range sealAll(t, m, k, want) {
		require.NoError(t, Put(repo, c))
	}
	m.Destroy()
	k.Destroy()

	got, err := opener.Records(t.Context())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	t.Run("missing vault key", func(t *testing.T) {
		saved, err := secrets.Load(secretstore.KeyVaultKey)
		require.NoError(t, err)
		require.NoError(t, secrets.Remove(secretstore.KeyVaultKey))
		defer func() { require.NoError(t, secrets.Store(secretstore.KeyVaultKey, saved)) }()

		_, err = opener.Records(t.Context())
		assert.ErrorIs(t, err, ErrAuthRequired)
	})

	t.Run("wrong challenge password", func(t *testing.T) {
		require.NoError(t, secrets.Store(secretstore.KeyChallengePassword, []byte("changed")))
		defer func() { require.NoError(t, secrets.Store(secretstore.KeyChallengePassword, []byte("challenge"))) }()

		_, err := opener.Records(t.Context())
		assert.ErrorIs(t, err, ErrAuthRequired)
	})

	t.Run("other vault key", func(t *testing.T) {
		other, err := GenerateKey()
		require.NoError(t, err)
		enc, err := other.Encode()
		require.NoError(t, err)
		saved, err := secrets.Load(secretstore.KeyVaultKey)
		require.NoError(t, err)
		require.NoError(t, secrets.Store(secretstore.KeyVaultKey, enc))
		defer func() { require.NoError(t, secrets.Store(secretstore.KeyVaultKey, saved)) }()

		_, err = opener.Records(t.Context())
		assert.ErrorIs(t, err, ErrDecryptFailed)
	})
}

func BenchmarkDecrypt(b *testing.B) {
	m, _ := keychain.Generate()
	defer m.Destroy()
	k, _ := GenerateKey()
	containers := make([]*Container, 0, 64)
	for i := range 64 {
		c, err := Seal(m.Public(), k, PasswordRecord{ID: fmt.Sprintf("rec-%d", i), Username: "u", Password: "p"})
		if err != nil {
			b.Fatal(err)
		}
		containers = append(containers, c)
	}
	d := NewDecryptor(m, nil)
	for b.Loop() {
		if _, err := d.Decrypt(b.Context(), containers, k); err != nil {
			b.Fatal(err)
		}
	}
}

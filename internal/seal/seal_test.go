package seal

import (
	"bytes"
	"testing"

	"github.com/jmcleod/ironpass/internal/util"
)

func TestAAD(t *testing.T) {
	aad1 := AADContainerPayload("c-1", "password", 1)
	aad2 := AADContainerPayload("c-1", "password", 1)
	if !bytes.Equal(aad1, aad2) {
		t.Error("AADContainerPayload should be deterministic")
	}

	if bytes.Equal(aad1, AADContainerPayload("c-2", "password", 1)) {
		t.Error("AAD should differ for different container IDs")
	}
	if bytes.Equal(aad1, AADContainerMeta("c-1", "password", 1)) {
		t.Error("metadata and payload AAD must be domain separated")
	}

	// Length prefixes keep ("ab","c") and ("a","bc") apart.
	if bytes.Equal(AADContainerPayload("ab", "c", 1), AADContainerPayload("a", "bc", 1)) {
		t.Error("AAD must not be ambiguous across field boundaries")
	}
}

func TestWrap(t *testing.T) {
	kp, _ := util.GenerateX25519Keypair()
	payload := []byte(`{"id":"c-1","url":"https://example.com"}`)
	aad := []byte("some-aad")

	wrap, err := ToKey(kp.Public, payload, aad)
	if err != nil {
		t.Fatalf("ToKey failed: %v", err)
	}
	if wrap.Ver != 1 {
		t.Errorf("expected version 1, got %d", wrap.Ver)
	}

	opened, err := Open(kp.Private, wrap, aad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(payload, opened) {
		t.Errorf("expected %s, got %s", payload, opened)
	}

	t.Run("TamperAAD", func(t *testing.T) {
		if _, err := Open(kp.Private, wrap, []byte("wrong-aad")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCiphertext", func(t *testing.T) {
		wrapCopy := *wrap
		wrapCopy.Ciphertext = bytes.Clone(wrap.Ciphertext)
		wrapCopy.Ciphertext[0] ^= 0xFF
		if _, err := Open(kp.Private, &wrapCopy, aad); err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("WrongRecipient", func(t *testing.T) {
		other, _ := util.GenerateX25519Keypair()
		if _, err := Open(other.Private, wrap, aad); err == nil {
			t.Error("expected error for a different private key")
		}
	})

	t.Run("Nil", func(t *testing.T) {
		if _, err := Open(kp.Private, nil, aad); err == nil {
			t.Error("expected error for nil wrap")
		}
	})
}

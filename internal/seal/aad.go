// Package seal builds the authenticated envelopes used by the offline vault:
// length-prefixed AAD and payloads sealed to an X25519 public key.
package seal

import (
	"encoding/binary"
)

const (
	aadContainerMeta    = "CONTAINER_META"
	aadContainerPayload = "CONTAINER_PAYLOAD"
	aadKeychain         = "KEYCHAIN"
)

// AADContainerMeta binds sealed container metadata to its container identity.
func AADContainerMeta(containerID, containerType string, ver int) []byte {
	return build(aadContainerMeta, containerID, containerType, ver)
}

// AADContainerPayload binds a container's bulk payload to its identity.
func AADContainerPayload(containerID, containerType string, ver int) []byte {
	return build(aadContainerPayload, containerID, containerType, ver)
}

// AADKeychain binds a locked keychain blob to its format version.
func AADKeychain(ver int) []byte {
	return build(aadKeychain, ver)
}

func build(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			res = binary.BigEndian.AppendUint64(res, v)
		case int:
			res = binary.BigEndian.AppendUint32(res, uint32(v))
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}

package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a 32-byte key from secret material under a
// domain-separation label. Distinct labels yield independent keys.
func DeriveKey(secret []byte, label string) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, secret, nil, []byte(label))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return [32]byte{}, fmt.Errorf("key derivation failed: %w", err)
	}
	return out, nil
}

// MixKeys combines two 32-byte secrets into a fresh one under a label,
// wiping the intermediate concatenation before returning.
func MixKeys(a, b *[32]byte, label string) ([32]byte, error) {
	combined := make([]byte, 64)
	copy(combined[:32], a[:])
	copy(combined[32:], b[:])

	out, err := DeriveKey(combined, label)
	ZeroBytes(combined)
	if err != nil {
		return [32]byte{}, err
	}
	return out, nil
}

package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// fingerprintLabel separates the fingerprint derivation from every other
// use of the root key, so the displayed value reveals nothing about it.
const fingerprintLabel = "pqxfer-root-fingerprint-v1"

// Fingerprint derives a human-comparable fingerprint of the root key for
// the out-of-band peer verification step. Both sides of a correct
// handshake display identical fingerprints.
func Fingerprint(root *RootKey) (string, error) {
	key, err := root.Key()
	if err != nil {
		return "", err
	}

	derived, err := DeriveKey(key[:], fingerprintLabel)
	if err != nil {
		return "", err
	}
	defer WipeKey(&derived)

	sum := blake2b.Sum256(derived[:])

	// Eight hex groups of four characters reads comfortably over voice.
	encoded := hex.EncodeToString(sum[:16])
	groups := make([]string, 0, 8)
	for i := 0; i < len(encoded); i += 4 {
		groups = append(groups, encoded[i:i+4])
	}
	return strings.Join(groups, " "), nil
}

// ShortAuthString derives a six-digit code from the root key, for
// human comparison when reading a full fingerprint is impractical.
func ShortAuthString(root *RootKey) (string, error) {
	key, err := root.Key()
	if err != nil {
		return "", err
	}

	derived, err := DeriveKey(key[:], fingerprintLabel)
	if err != nil {
		return "", err
	}
	defer WipeKey(&derived)

	sum := blake2b.Sum256(derived[:])
	code := binary.BigEndian.Uint32(sum[:4]) % 1000000
	return fmt.Sprintf("%06d", code), nil
}

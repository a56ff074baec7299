package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/opd-ai/pqxfer/limits"
)

// ErrAuthenticationFailed indicates an AEAD tag mismatch. The ciphertext
// must be discarded; no plaintext is exposed.
var ErrAuthenticationFailed = errors.New("authentication failed")

// maxPlaintext bounds AEAD inputs: a full chunk plus room for framing
// metadata on control-plane payloads.
const maxPlaintext = limits.MaxChunkSize + 1024

// Seal encrypts plaintext with ChaCha20-Poly1305 under key and nonce,
// binding additionalData into the authentication tag.
func Seal(key *[32]byte, nonce Nonce, plaintext, additionalData []byte) ([]byte, error) {
	if err := limits.ValidateSize(plaintext, maxPlaintext); err != nil {
		return nil, fmt.Errorf("invalid plaintext: %w", err)
	}
	if IsZeroKey(key[:]) {
		return nil, errors.New("refusing to seal with zero key")
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead construction: %w", err)
	}

	return aead.Seal(nil, nonce[:], plaintext, additionalData), nil
}

// Open verifies and decrypts a ChaCha20-Poly1305 ciphertext. The
// authentication tag is verified before any plaintext is returned; on
// failure the result is nil and ErrAuthenticationFailed.
func Open(key *[32]byte, nonce Nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if err := limits.ValidateSize(ciphertext, maxPlaintext+limits.AEADOverhead); err != nil {
		return nil, fmt.Errorf("invalid ciphertext: %w", err)
	}
	if IsZeroKey(key[:]) {
		return nil, errors.New("refusing to open with zero key")
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead construction: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	return plaintext, nil
}

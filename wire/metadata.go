package wire

import (
	"errors"
	"fmt"

	"github.com/opd-ai/pqxfer/crypto"
)

// ErrBadSignature indicates metadata whose signature does not verify
// against the embedded sender identity.
var ErrBadSignature = errors.New("metadata signature verification failed")

// signingBytes returns the canonical encoding of the metadata with the
// signature field cleared, the exact bytes both sides sign and verify.
func (m *Metadata) signingBytes() ([]byte, error) {
	clone := *m
	clone.Signature = nil
	data, err := encMode.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata for signing: %w", err)
	}
	return data, nil
}

// SignMetadata embeds the identity's public key and signs the metadata.
// The signature covers every field, so a tampered offer (renamed file,
// altered digests, swapped ratchet key) fails verification.
func SignMetadata(identity *crypto.Identity, m *Metadata) error {
	m.SenderIdentity = identity.Public()

	data, err := m.signingBytes()
	if err != nil {
		return err
	}
	sig, err := identity.Sign(data)
	if err != nil {
		return fmt.Errorf("signing metadata: %w", err)
	}
	m.Signature = sig
	return nil
}

// VerifyMetadata checks the metadata signature against its embedded
// sender identity. Callers compare SenderIdentity against any pinned or
// previously seen key separately.
func VerifyMetadata(m *Metadata) error {
	if len(m.SenderIdentity) == 0 || len(m.Signature) == 0 {
		return fmt.Errorf("%w: missing identity or signature", ErrBadSignature)
	}

	data, err := m.signingBytes()
	if err != nil {
		return err
	}
	if !crypto.VerifySignature(m.SenderIdentity, data, m.Signature) {
		return ErrBadSignature
	}
	return nil
}

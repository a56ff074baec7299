package crypto

import (
	"errors"
	"fmt"

	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/kem/mlkem768"
	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"
	"github.com/sirupsen/logrus"
)

// handshakeLabel domain-separates the root key derivation from every other
// use of the KDF. Changing it is a wire-protocol break.
const handshakeLabel = "pqxfer-hybrid-handshake-v1"

// KEMScheme returns the post-quantum KEM used by the handshake and the
// sparse PQ ratchet.
func KEMScheme() kem.Scheme { return mlkem768.Scheme() }

// DHScheme returns the classical Diffie-Hellman scheme used by the
// handshake and the DH ratchet.
func DHScheme() nike.Scheme { return x25519.Scheme(rand.Reader) }

// ErrInvalidPublicKey indicates malformed or degenerate peer key material.
// This is a fatal handshake error; no session is retained.
var ErrInvalidPublicKey = errors.New("invalid or degenerate peer public key")

// PublicMaterial is the initiator's first handshake flight: both public
// keys of the hybrid pair.
type PublicMaterial struct {
	KEMPublic []byte
	DHPublic  []byte
}

// ResponseMaterial is the responder's reply: the KEM ciphertext
// encapsulated against the initiator's KEM public key, plus the
// responder's DH public key.
type ResponseMaterial struct {
	KEMCiphertext []byte
	DHPublic      []byte
}

// PendingHandshake holds the initiator's private halves between Initiate
// and Finalize. Destroy must be called if the handshake is abandoned;
// Finalize destroys it on all paths.
type PendingHandshake struct {
	kemPrivate kem.PrivateKey
	dhPrivate  nike.PrivateKey
	destroyed  bool
}

// Destroy wipes the private key material held by the pending state.
func (p *PendingHandshake) Destroy() {
	if p.destroyed {
		return
	}
	if p.dhPrivate != nil {
		p.dhPrivate.Reset()
	}
	p.kemPrivate = nil
	p.destroyed = true
}

// Initiate generates the hybrid key pairs and returns the public material
// to send to the peer, plus the pending state needed by Finalize.
func Initiate() (*PublicMaterial, *PendingHandshake, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Initiate",
	}).Debug("Starting hybrid handshake")

	kemPub, kemPriv, err := KEMScheme().GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("KEM key generation: %w", err)
	}

	dhPub, dhPriv, err := DHScheme().GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("DH key generation: %w", err)
	}

	kemPubBytes, err := kemPub.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("KEM public key encoding: %w", err)
	}

	material := &PublicMaterial{
		KEMPublic: kemPubBytes,
		DHPublic:  dhPub.Bytes(),
	}
	pending := &PendingHandshake{
		kemPrivate: kemPriv,
		dhPrivate:  dhPriv,
	}

	return material, pending, nil
}

// Respond processes the initiator's public material, producing the response
// flight, the derived root key, and the responder's DH private key for the
// ratchet. Raw exchange secrets are wiped before returning.
func Respond(peer *PublicMaterial) (*ResponseMaterial, *RootKey, nike.PrivateKey, error) {
	if err := validatePeerMaterial(peer); err != nil {
		return nil, nil, nil, err
	}

	kemPub, err := KEMScheme().UnmarshalBinaryPublicKey(peer.KEMPublic)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	kemCiphertext, pqSecret, err := KEMScheme().Encapsulate(kemPub)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("KEM encapsulation: %w", err)
	}

	peerDH, err := DHScheme().UnmarshalBinaryPublicKey(peer.DHPublic)
	if err != nil {
		ZeroBytes(pqSecret)
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	dhPub, dhPriv, err := DHScheme().GenerateKeyPair()
	if err != nil {
		ZeroBytes(pqSecret)
		return nil, nil, nil, fmt.Errorf("DH key generation: %w", err)
	}

	dhSecret := DHScheme().DeriveSecret(dhPriv, peerDH)

	root, err := deriveRoot(pqSecret, dhSecret)
	if err != nil {
		dhPriv.Reset()
		return nil, nil, nil, err
	}

	resp := &ResponseMaterial{
		KEMCiphertext: kemCiphertext,
		DHPublic:      dhPub.Bytes(),
	}

	logrus.WithFields(logrus.Fields{
		"function": "Respond",
	}).Info("Hybrid handshake root key derived")

	return resp, root, dhPriv, nil
}

// Finalize consumes the responder's reply and the pending state, deriving
// the same root key as the responder. On success the initiator's DH
// private key is handed back for the first ratchet chain; the pending
// state is destroyed on every path.
func Finalize(resp *ResponseMaterial, pending *PendingHandshake) (*RootKey, nike.PrivateKey, error) {
	if pending.destroyed {
		return nil, nil, ErrKeyDestroyed
	}
	if resp == nil || len(resp.KEMCiphertext) != KEMScheme().CiphertextSize() {
		pending.Destroy()
		return nil, nil, fmt.Errorf("%w: malformed KEM ciphertext", ErrInvalidPublicKey)
	}
	if len(resp.DHPublic) != DHScheme().PublicKeySize() || IsZeroKey(resp.DHPublic) {
		pending.Destroy()
		return nil, nil, ErrInvalidPublicKey
	}

	pqSecret, err := KEMScheme().Decapsulate(pending.kemPrivate, resp.KEMCiphertext)
	if err != nil {
		pending.Destroy()
		return nil, nil, fmt.Errorf("KEM decapsulation: %w", err)
	}

	peerDH, err := DHScheme().UnmarshalBinaryPublicKey(resp.DHPublic)
	if err != nil {
		ZeroBytes(pqSecret)
		pending.Destroy()
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	dhSecret := DHScheme().DeriveSecret(pending.dhPrivate, peerDH)

	root, err := deriveRoot(pqSecret, dhSecret)
	if err != nil {
		pending.Destroy()
		return nil, nil, err
	}

	// Ownership of the DH private key transfers to the caller's ratchet
	// state; detach it so Destroy only clears the KEM half.
	dhPriv := pending.dhPrivate
	pending.dhPrivate = nil
	pending.Destroy()

	logrus.WithFields(logrus.Fields{
		"function": "Finalize",
	}).Info("Hybrid handshake root key derived")

	return root, dhPriv, nil
}

// validatePeerMaterial rejects malformed or degenerate public key material
// before any cryptographic operation touches it.
func validatePeerMaterial(peer *PublicMaterial) error {
	if peer == nil {
		return ErrInvalidPublicKey
	}
	if len(peer.KEMPublic) != KEMScheme().PublicKeySize() {
		return fmt.Errorf("%w: KEM public key size %d", ErrInvalidPublicKey, len(peer.KEMPublic))
	}
	if len(peer.DHPublic) != DHScheme().PublicKeySize() {
		return fmt.Errorf("%w: DH public key size %d", ErrInvalidPublicKey, len(peer.DHPublic))
	}
	// The all-zero point is the identity element; accepting it would fix
	// the DH secret regardless of our private key.
	if IsZeroKey(peer.DHPublic) {
		return ErrInvalidPublicKey
	}
	return nil
}

// deriveRoot combines PQ_secret || DH_secret through the KDF under the
// handshake label and wipes both inputs.
func deriveRoot(pqSecret, dhSecret []byte) (*RootKey, error) {
	defer ZeroBytes(pqSecret)
	defer ZeroBytes(dhSecret)

	if IsZeroKey(dhSecret) {
		// A zero DH secret means the peer supplied a low-order point.
		return nil, ErrInvalidPublicKey
	}

	combined := make([]byte, 0, len(pqSecret)+len(dhSecret))
	combined = append(combined, pqSecret...)
	combined = append(combined, dhSecret...)
	defer ZeroBytes(combined)

	key, err := DeriveKey(combined, handshakeLabel)
	if err != nil {
		return nil, err
	}

	return newRootKey(key), nil
}

package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// Identity is a long-term signing key pair, separate from the ephemeral
// handshake keys. It signs transfer metadata so the receiver can bind the
// offered file to a peer identity.
type Identity struct {
	public    ed25519.PublicKey
	private   ed25519.PrivateKey
	destroyed bool
}

// GenerateIdentity creates a new Ed25519 identity key pair.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity key generation: %w", err)
	}
	return &Identity{public: pub, private: priv}, nil
}

// IdentityFromSeed reconstructs an identity from a stored 32-byte seed.
func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("invalid identity seed size")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{
		public:  priv.Public().(ed25519.PublicKey),
		private: priv,
	}, nil
}

// Public returns the public key bytes for transmission to peers.
func (id *Identity) Public() []byte {
	out := make([]byte, len(id.public))
	copy(out, id.public)
	return out
}

// Seed returns the 32-byte seed that reconstructs this identity, for
// storage at rest.
func (id *Identity) Seed() []byte {
	out := make([]byte, ed25519.SeedSize)
	copy(out, id.private.Seed())
	return out
}

// Sign signs data with the identity's private key.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	if id.destroyed {
		return nil, ErrKeyDestroyed
	}
	return ed25519.Sign(id.private, data), nil
}

// Destroy wipes the private key bytes.
func (id *Identity) Destroy() {
	ZeroBytes(id.private)
	id.destroyed = true
}

// VerifySignature verifies an Ed25519 signature over data. Malformed keys
// or signatures verify as false, never panic.
func VerifySignature(publicKey, data, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, signature)
}

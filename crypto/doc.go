// Package crypto implements the cryptographic primitives for the pqxfer
// protocol: the hybrid post-quantum handshake, authenticated encryption,
// nonce sequencing, identity signatures, and secure key-material handling.
//
// The hybrid handshake combines an ML-KEM-768 key encapsulation with an
// X25519 Diffie-Hellman exchange. The two shared secrets are mixed through
// an HKDF with a fixed domain-separation label into a 256-bit root key, so
// an adversary must break both the post-quantum and the classical half to
// recover it.
//
// Example:
//
//	pub, pending, err := crypto.Initiate()
//	// ... send pub to peer, receive resp ...
//	root, err := crypto.Finalize(resp, pending)
//	defer root.Destroy()
//
// Every structure that holds raw key bytes exposes a Destroy method that
// overwrites the bytes before releasing the structure. Callers own the
// responsibility of invoking it on every exit path.
package crypto

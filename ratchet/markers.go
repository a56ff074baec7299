package ratchet

// EpochMarkers locate the key a frame was encrypted under. They travel in
// clear on every data frame; everything here is public material.
type EpochMarkers struct {
	// DHEpoch counts asymmetric ratchet steps since session start.
	DHEpoch uint64 `cbor:"d"`

	// PQEpoch counts sparse post-quantum ratchet steps.
	PQEpoch uint64 `cbor:"p"`

	// ChainIndex is the message's position within the current chain.
	ChainIndex uint64 `cbor:"i"`

	// DHPublic is the sender's ratchet public key for the current DH
	// epoch. Carried on every frame of the epoch so that loss of the
	// first frame cannot wedge the receiving ratchet.
	DHPublic []byte `cbor:"k,omitempty"`

	// KEMCiphertext is the encapsulation for the current PQ epoch,
	// carried on every frame of that epoch for the same reason.
	KEMCiphertext []byte `cbor:"c,omitempty"`
}

package ratchet

import (
	"errors"

	"github.com/opd-ai/pqxfer/crypto"
)

// ErrKeyConsumed indicates use of a message key after Consume.
var ErrKeyConsumed = errors.New("message key already consumed")

// MessageKey is a single-use encryption or decryption key produced by the
// engine, paired with the nonce sequencer that owns nonce issuance for its
// lifetime and the epoch markers locating it.
type MessageKey struct {
	key      [32]byte
	markers  EpochMarkers
	seq      *crypto.NonceSequencer
	engine   *Engine
	send     bool
	consumed bool
}

// Key returns the raw key bytes, or an error after Consume.
func (k *MessageKey) Key() (*[32]byte, error) {
	if k.consumed {
		return nil, ErrKeyConsumed
	}
	return &k.key, nil
}

// Markers returns the epoch markers the peer needs to locate this key.
func (k *MessageKey) Markers() EpochMarkers {
	return k.markers
}

// NextNonce issues the next nonce under this key. Re-encoding a frame for
// retry draws a fresh nonce here; the sequencer guarantees it is never the
// same value twice.
func (k *MessageKey) NextNonce() (crypto.Nonce, error) {
	if k.consumed {
		return crypto.Nonce{}, ErrKeyConsumed
	}
	return k.seq.Next()
}

// Consume destroys the key material and, for send keys, releases the
// engine to produce the next one. Callers report a key consumed once the
// frame it sealed has been handed to the channel (or, on the receive
// side, once the plaintext has been extracted).
func (k *MessageKey) Consume() {
	if k.consumed {
		return
	}
	crypto.WipeKey(&k.key)
	k.consumed = true
	if k.send && k.engine != nil {
		k.engine.sendKeyConsumed(k)
	}
}

package crypto

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/opd-ai/pqxfer/limits"
)

// Nonce is a 96-bit value used exactly once per symmetric key.
type Nonce [limits.NonceSize]byte

// ErrNonceExhausted indicates the sequencer's counter space is spent.
// The owning key must be retired before any further encryption.
var ErrNonceExhausted = errors.New("nonce sequencer exhausted")

// NonceSequencer issues strictly increasing 96-bit nonces for one symmetric
// key's lifetime. It owns all nonce issuance for that key, which makes nonce
// reuse unreachable by construction: there is no way to obtain a nonce other
// than Next, and Next never returns the same value twice.
type NonceSequencer struct {
	mu        sync.Mutex
	counter   uint64
	exhausted bool
}

// NewNonceSequencer creates a sequencer starting at zero.
func NewNonceSequencer() *NonceSequencer {
	return &NonceSequencer{}
}

// Next issues the next nonce in the sequence. The upper four bytes are zero
// and the lower eight carry the big-endian counter, so issued nonces are
// monotonically increasing as 96-bit integers.
func (s *NonceSequencer) Next() (Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exhausted {
		return Nonce{}, ErrNonceExhausted
	}

	var n Nonce
	binary.BigEndian.PutUint64(n[4:], s.counter)

	if s.counter == ^uint64(0) {
		s.exhausted = true
	} else {
		s.counter++
	}

	return n, nil
}

// Issued returns how many nonces have been handed out so far.
func (s *NonceSequencer) Issued() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

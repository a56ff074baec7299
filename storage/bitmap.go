package storage

import (
	"errors"
	"fmt"
)

// ErrBitOutOfRange indicates a chunk index beyond the bitmap.
var ErrBitOutOfRange = errors.New("bit index out of range")

// Bitmap tracks which chunks of a transfer have been received. Fields
// are exported for serialization; use the methods for access.
type Bitmap struct {
	Size uint64 `cbor:"n"`
	Bits []byte `cbor:"b"`
}

// NewBitmap returns an empty bitmap over n chunks.
func NewBitmap(n uint64) *Bitmap {
	return &Bitmap{Size: n, Bits: make([]byte, (n+7)/8)}
}

// BitmapFromBytes validates a peer- or disk-supplied bitmap against the
// expected chunk count.
func BitmapFromBytes(bits []byte, n uint64) (*Bitmap, error) {
	want := int((n + 7) / 8)
	if len(bits) != want {
		return nil, fmt.Errorf("bitmap length %d does not cover %d chunks", len(bits), n)
	}
	// Trailing bits past Size must be clear; a peer cannot claim chunks
	// that do not exist.
	if rem := n % 8; rem != 0 && len(bits) > 0 {
		if bits[len(bits)-1]&^byte((1<<rem)-1) != 0 {
			return nil, errors.New("bitmap has bits set past the chunk count")
		}
	}
	b := &Bitmap{Size: n, Bits: make([]byte, len(bits))}
	copy(b.Bits, bits)
	return b, nil
}

// Set marks chunk i received.
func (b *Bitmap) Set(i uint64) error {
	if i >= b.Size {
		return fmt.Errorf("%w: %d of %d", ErrBitOutOfRange, i, b.Size)
	}
	b.Bits[i/8] |= 1 << (i % 8)
	return nil
}

// IsSet reports whether chunk i has been received. Out-of-range indices
// read as unset.
func (b *Bitmap) IsSet(i uint64) bool {
	if i >= b.Size {
		return false
	}
	return b.Bits[i/8]&(1<<(i%8)) != 0
}

// Count returns how many chunks are marked received.
func (b *Bitmap) Count() uint64 {
	var total uint64
	for _, octet := range b.Bits {
		for octet != 0 {
			total += uint64(octet & 1)
			octet >>= 1
		}
	}
	return total
}

// Complete reports whether every chunk is marked received.
func (b *Bitmap) Complete() bool {
	return b.Count() == b.Size
}

// Clone returns an independent copy.
func (b *Bitmap) Clone() *Bitmap {
	c := &Bitmap{Size: b.Size, Bits: make([]byte, len(b.Bits))}
	copy(c.Bits, b.Bits)
	return c
}

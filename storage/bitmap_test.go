package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapSetAndCount(t *testing.T) {
	b := NewBitmap(160)
	assert.Zero(t, b.Count())
	assert.False(t, b.Complete())

	for i := uint64(0); i < 160; i += 2 {
		require.NoError(t, b.Set(i))
	}
	assert.Equal(t, uint64(80), b.Count())
	assert.True(t, b.IsSet(0))
	assert.False(t, b.IsSet(1))
	assert.False(t, b.Complete())

	for i := uint64(1); i < 160; i += 2 {
		require.NoError(t, b.Set(i))
	}
	assert.True(t, b.Complete())
}

func TestBitmapSetIdempotent(t *testing.T) {
	b := NewBitmap(8)
	require.NoError(t, b.Set(3))
	require.NoError(t, b.Set(3))
	assert.Equal(t, uint64(1), b.Count())
}

func TestBitmapBounds(t *testing.T) {
	b := NewBitmap(10)
	assert.ErrorIs(t, b.Set(10), ErrBitOutOfRange)
	assert.False(t, b.IsSet(10))
}

func TestBitmapFromBytes(t *testing.T) {
	b := NewBitmap(10)
	require.NoError(t, b.Set(9))

	got, err := BitmapFromBytes(b.Bits, 10)
	require.NoError(t, err)
	assert.True(t, got.IsSet(9))
	assert.Equal(t, uint64(1), got.Count())

	_, err = BitmapFromBytes([]byte{0xFF}, 10)
	assert.Error(t, err, "wrong length must be rejected")

	// 10 chunks need 2 bytes; bits 10..15 must be clear.
	_, err = BitmapFromBytes([]byte{0x00, 0xFF}, 10)
	assert.Error(t, err, "bits past the chunk count must be rejected")
}

func TestBitmapCloneIsIndependent(t *testing.T) {
	b := NewBitmap(8)
	require.NoError(t, b.Set(1))

	c := b.Clone()
	require.NoError(t, c.Set(2))

	assert.False(t, b.IsSet(2))
	assert.True(t, c.IsSet(1))
}

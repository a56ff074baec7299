// Package limits provides centralized size limits for the pqxfer protocol.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MinChunkSize is the smallest chunk the codec will produce (64 KiB).
	// Smaller chunks waste acknowledgement round-trips.
	MinChunkSize = 64 * 1024

	// DefaultChunkSize is the chunk size used when no adaptive signal
	// has been applied (256 KiB).
	DefaultChunkSize = 256 * 1024

	// MaxChunkSize is the largest chunk the codec will produce (4 MiB).
	// This bounds per-chunk memory on both sides of a transfer.
	MaxChunkSize = 4 * 1024 * 1024

	// AEADOverhead is the overhead added by ChaCha20-Poly1305 encryption.
	// This is the Poly1305 MAC tag appended by Seal().
	AEADOverhead = 16

	// NonceSize is the AEAD nonce size in bytes (96 bits).
	NonceSize = 12

	// MaxFrameSize is the absolute maximum for a serialized wire frame:
	// the largest chunk plus AEAD tag plus a generous envelope allowance.
	// Anything larger is rejected before deserialization.
	MaxFrameSize = MaxChunkSize + AEADOverhead + 8192

	// MaxFileNameLength is the maximum allowed file name length in bytes.
	// The value (255) matches typical filesystem limits.
	MaxFileNameLength = 255
)

var (
	// ErrDataEmpty indicates empty input was provided.
	ErrDataEmpty = errors.New("empty data")

	// ErrDataTooLarge indicates data exceeds the maximum size.
	ErrDataTooLarge = errors.New("data too large")

	// ErrChunkSizeOutOfRange indicates a chunk size outside the allowed bounds.
	ErrChunkSizeOutOfRange = errors.New("chunk size out of range")
)

// ValidateSize validates data against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrDataEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrDataTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidateChunk validates chunk plaintext against MaxChunkSize.
func ValidateChunk(data []byte) error {
	return ValidateSize(data, MaxChunkSize)
}

// ValidateFrame validates a serialized wire frame against MaxFrameSize.
// All network-received data must pass this check before deserialization.
func ValidateFrame(data []byte) error {
	return ValidateSize(data, MaxFrameSize)
}

// ClampChunkSize clamps a requested chunk size to [MinChunkSize, MaxChunkSize].
func ClampChunkSize(size int) int {
	if size < MinChunkSize {
		return MinChunkSize
	}
	if size > MaxChunkSize {
		return MaxChunkSize
	}
	return size
}

// CheckChunkSize returns an error if size lies outside the allowed bounds.
func CheckChunkSize(size int) error {
	if size < MinChunkSize || size > MaxChunkSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrChunkSizeOutOfRange, size, MinChunkSize, MaxChunkSize)
	}
	return nil
}

package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe attempts to securely erase the contents of a byte slice
// containing sensitive data. It returns an error if the byte slice is nil.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	// Overwrite the data with zeros
	// Using subtle.ConstantTimeCompare's byteXor operation to avoid
	// potential compiler optimizations that might remove the overwrite
	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)

	// Attempt to prevent the compiler from optimizing out the zeroing
	runtime.KeepAlive(data)
	runtime.KeepAlive(zeros)

	return nil
}

// ZeroBytes erases the contents of a byte slice containing sensitive data.
// This is a convenience function that ignores the error from SecureWipe.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeKey erases a 32-byte key in place.
// This should be called when the key is no longer needed.
func WipeKey(key *[32]byte) {
	if key == nil {
		return
	}
	ZeroBytes(key[:])
}

// IsZeroKey reports whether a 32-byte key consists entirely of zeros.
// The check runs in constant time.
func IsZeroKey(key []byte) bool {
	if len(key) == 0 {
		return true
	}
	zeros := make([]byte, len(key))
	return subtle.ConstantTimeCompare(key, zeros) == 1
}

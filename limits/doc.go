// Package limits provides centralized size constants and validation functions
// for the pqxfer protocol. This package ensures consistent size enforcement
// across all components of the implementation.
//
// # Size Hierarchy
//
//   - MinChunkSize (64 KiB) .. MaxChunkSize (4 MiB): the bounds within which
//     the adaptive chunk-size policy may operate. DefaultChunkSize (256 KiB)
//     is used until an external quality signal adjusts it.
//
//   - MaxFrameSize: the absolute maximum for any serialized wire frame. This
//     prevents memory exhaustion from oversized network input; all received
//     data must be validated against it before deserialization.
//
// # Validation Functions
//
// Each validation function checks for empty input and size limit violations:
//
//	if err := limits.ValidateFrame(raw); err != nil {
//	    // ErrDataEmpty or ErrDataTooLarge
//	}
//
// The AEADOverhead constant matches golang.org/x/crypto/chacha20poly1305's
// Poly1305 tag size (16 bytes) and NonceSize its 96-bit nonce.
package limits

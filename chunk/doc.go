// Package chunk implements the content-addressed chunk codec: splitting a
// source file into digest-tagged chunks for transmission, and reassembling
// them at arbitrary arrival order on the receive side.
//
// Chunk size is adaptive between MinChunkSize and MaxChunkSize, selected
// by an external channel-quality signal; this package only enforces the
// bounds. Per-chunk digests and the whole-file digest use BLAKE2b-256.
// Transfer completion requires the assembled file's digest to equal the
// digest declared in the sender's signed metadata; a mismatch discards
// the output rather than delivering a corrupt file.
package chunk

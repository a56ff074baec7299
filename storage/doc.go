// Package storage persists transfer progress so interrupted transfers can
// resume after a restart.
//
// A TransferRecord holds what the receiver knows about one transfer: the
// announced file geometry, the digest to verify against, and a bitmap of
// chunks already written to disk. Records never contain key material;
// a resumed transfer performs a fresh handshake and only reuses the
// on-disk partial file and its bitmap.
//
// Two Store implementations are provided: MemoryStore for tests and
// ephemeral use, and BoltStore backed by a bbolt database file.
package storage

package chunk

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the size of chunk and file digests in bytes.
const DigestSize = 32

// DigestBytes computes the BLAKE2b-256 digest of data.
func DigestBytes(data []byte) [DigestSize]byte {
	return blake2b.Sum256(data)
}

// DigestFile computes the BLAKE2b-256 digest of a file's full contents.
func DigestFile(path string) ([DigestSize]byte, error) {
	var digest [DigestSize]byte

	f, err := os.Open(path)
	if err != nil {
		return digest, fmt.Errorf("opening file for digest: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return digest, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return digest, fmt.Errorf("hashing file: %w", err)
	}

	copy(digest[:], h.Sum(nil))
	return digest, nil
}

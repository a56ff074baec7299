package chunk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assembleFrom splits a source and reassembles it chunk by chunk in the
// given index order, returning the finalized output path.
func assembleFrom(t *testing.T, data []byte, order []uint64) string {
	t.Helper()

	src := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.WriteFile(src, data, 0o600))

	s, err := Split(src, Config{ChunkSize: 64 * 1024})
	require.NoError(t, err)
	defer s.Close()
	m := s.Manifest()

	dst := filepath.Join(t.TempDir(), "dst")
	a, err := NewAssembler(dst, m.FileSize, m.ChunkSize, m.ChunkCount, m.FileDigest)
	require.NoError(t, err)

	for _, index := range order {
		chunkData, err := s.ReadChunk(index)
		require.NoError(t, err)
		require.NoError(t, a.WriteChunk(index, chunkData))
	}

	require.NoError(t, a.Finalize())
	return dst
}

func TestAssembleSequential(t *testing.T) {
	_, data := splitterFixture(t, 3*64*1024+17)
	dst := assembleFrom(t, data, []uint64{0, 1, 2, 3})

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestAssembleOutOfOrder(t *testing.T) {
	_, data := splitterFixture(t, 4*64*1024)
	dst := assembleFrom(t, data, []uint64{2, 0, 3, 1})

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestAssembleRedeliveryIsIdempotent(t *testing.T) {
	_, data := splitterFixture(t, 2*64*1024)
	dst := assembleFrom(t, data, []uint64{0, 1, 0, 1, 1})

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFinalizeDiscardsCorruptOutput(t *testing.T) {
	_, data := splitterFixture(t, 2 * 64 * 1024)

	src := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.WriteFile(src, data, 0o600))
	s, err := Split(src, Config{ChunkSize: 64 * 1024})
	require.NoError(t, err)
	defer s.Close()
	m := s.Manifest()

	dst := filepath.Join(t.TempDir(), "dst")
	a, err := NewAssembler(dst, m.FileSize, m.ChunkSize, m.ChunkCount, m.FileDigest)
	require.NoError(t, err)

	c0, err := s.ReadChunk(0)
	require.NoError(t, err)
	c1, err := s.ReadChunk(1)
	require.NoError(t, err)

	// Corrupt one byte of chunk 1 before writing it.
	c1[100] ^= 0xFF
	require.NoError(t, a.WriteChunk(0, c0))
	require.NoError(t, a.WriteChunk(1, c1))

	err = a.Finalize()
	assert.ErrorIs(t, err, ErrIntegrityMismatch)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "corrupt output must be removed")
}

func TestWriteChunkRejectsBadLength(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "dst")
	a, err := NewAssembler(dst, 1000, 500, 2, [DigestSize]byte{})
	require.NoError(t, err)
	defer a.Abort()

	err = a.WriteChunk(0, make([]byte, 499))
	assert.ErrorIs(t, err, ErrChunkLengthMismatch)

	err = a.WriteChunk(5, make([]byte, 500))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
}

// splitterFixture returns random data of size n alongside a path that is
// not used further; it mirrors writeTestFile without re-reading the file.
func splitterFixture(t *testing.T, n int) (string, []byte) {
	return writeTestFile(t, n)
}

func TestExclusiveAssemblerNeverReusesAFile(t *testing.T) {
	dir := t.TempDir()
	var digest [DigestSize]byte

	// A user file already holds the wanted name.
	taken := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(taken, []byte("keep me"), 0o600))

	first, err := NewExclusiveAssembler(taken, 1024, 512, 2, digest)
	require.NoError(t, err)
	defer first.Abort()
	assert.Equal(t, filepath.Join(dir, "report (1).pdf"), first.Path())

	second, err := NewExclusiveAssembler(taken, 1024, 512, 2, digest)
	require.NoError(t, err)
	defer second.Abort()
	assert.Equal(t, filepath.Join(dir, "report (2).pdf"), second.Path())

	kept, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep me"), kept)
}

func TestExclusiveAssemblerTakesFreeName(t *testing.T) {
	var digest [DigestSize]byte
	dst := filepath.Join(t.TempDir(), "fresh.bin")

	a, err := NewExclusiveAssembler(dst, 1024, 512, 2, digest)
	require.NoError(t, err)
	defer a.Abort()
	assert.Equal(t, dst, a.Path())
}

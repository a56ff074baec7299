package chunk

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/pqxfer/limits"
)

// writeTestFile creates a file of n random bytes and returns its path
// and contents.
func writeTestFile(t *testing.T, n int) (string, []byte) {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, data
}

func TestSplitManifestGeometry(t *testing.T) {
	// 10 MiB in 64 KiB chunks yields exactly 160 chunks.
	path, data := writeTestFile(t, 10*1024*1024)

	s, err := Split(path, Config{ChunkSize: 64 * 1024})
	require.NoError(t, err)
	defer s.Close()

	m := s.Manifest()
	assert.Equal(t, uint64(160), m.ChunkCount)
	assert.Equal(t, uint64(len(data)), m.FileSize)
	assert.Equal(t, DigestBytes(data), m.FileDigest)
	assert.Len(t, m.Chunks, 160)

	for i, c := range m.Chunks {
		assert.Equal(t, uint64(i), c.Index)
		assert.Equal(t, uint64(i*64*1024), c.Offset)
		assert.Equal(t, uint32(64*1024), c.Length)
	}
}

func TestSplitPartialFinalChunk(t *testing.T) {
	path, data := writeTestFile(t, 64*1024+1000)

	s, err := Split(path, Config{ChunkSize: 64 * 1024})
	require.NoError(t, err)
	defer s.Close()

	m := s.Manifest()
	require.Equal(t, uint64(2), m.ChunkCount)
	assert.Equal(t, uint32(1000), m.Chunks[1].Length)

	last, err := s.ReadChunk(1)
	require.NoError(t, err)
	assert.Equal(t, data[64*1024:], last)
	assert.Equal(t, m.Chunks[1].Digest, DigestBytes(last))
}

func TestReadChunkArbitraryOrder(t *testing.T) {
	path, data := writeTestFile(t, 256*1024)

	s, err := Split(path, Config{ChunkSize: 64 * 1024})
	require.NoError(t, err)
	defer s.Close()

	for _, index := range []uint64{3, 0, 2, 1} {
		chunkData, err := s.ReadChunk(index)
		require.NoError(t, err)
		start := index * 64 * 1024
		assert.True(t, bytes.Equal(data[start:start+64*1024], chunkData), "chunk %d content", index)
	}

	_, err = s.ReadChunk(4)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
}

func TestSplitRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := Split(path, DefaultConfig())
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestSplitRejectsOutOfRangeChunkSize(t *testing.T) {
	path, _ := writeTestFile(t, 1024)

	_, err := Split(path, Config{ChunkSize: 16})
	assert.ErrorIs(t, err, limits.ErrChunkSizeOutOfRange)
}

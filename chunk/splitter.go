package chunk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/pqxfer/limits"
)

// ErrChunkOutOfRange indicates a chunk index beyond the manifest.
var ErrChunkOutOfRange = errors.New("chunk index out of range")

// ErrEmptyFile indicates an attempt to split a zero-length file.
var ErrEmptyFile = errors.New("cannot transfer empty file")

// Chunk describes one immutable byte range of the source file. Chunks are
// created once at transfer start and read-only thereafter.
type Chunk struct {
	Index  uint64
	Offset uint64
	Length uint32
	Digest [DigestSize]byte
}

// Manifest describes a split file: its identity and the ordered chunk
// list. It is built once by Split and never mutated.
type Manifest struct {
	FileName   string
	FileSize   uint64
	ChunkSize  uint32
	ChunkCount uint64
	FileDigest [DigestSize]byte
	Chunks     []Chunk
}

// Splitter reads chunks of a source file by index for transmission.
type Splitter struct {
	mu       sync.Mutex
	file     *os.File
	manifest *Manifest
	closed   bool
}

// Split scans the source file, computing the manifest (per-chunk digests
// and the whole-file digest) in a single pass, and returns a Splitter
// that serves chunk reads by index.
func Split(path string, cfg Config) (*Splitter, error) {
	if err := limits.CheckChunkSize(cfg.ChunkSize); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening source file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, ErrEmptyFile
	}

	fileSize := uint64(info.Size())
	chunkSize := uint64(cfg.ChunkSize)
	chunkCount := (fileSize + chunkSize - 1) / chunkSize

	manifest := &Manifest{
		FileName:   filepath.Base(path),
		FileSize:   fileSize,
		ChunkSize:  uint32(cfg.ChunkSize),
		ChunkCount: chunkCount,
		Chunks:     make([]Chunk, 0, chunkCount),
	}

	fileHash, err := blake2b.New256(nil)
	if err != nil {
		f.Close()
		return nil, err
	}

	buf := make([]byte, cfg.ChunkSize)
	var offset uint64
	for index := uint64(0); index < chunkCount; index++ {
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF && index == chunkCount-1 {
			err = nil
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("reading chunk %d: %w", index, err)
		}

		fileHash.Write(buf[:n])
		manifest.Chunks = append(manifest.Chunks, Chunk{
			Index:  index,
			Offset: offset,
			Length: uint32(n),
			Digest: DigestBytes(buf[:n]),
		})
		offset += uint64(n)
	}

	copy(manifest.FileDigest[:], fileHash.Sum(nil))

	logrus.WithFields(logrus.Fields{
		"function":    "Split",
		"file_name":   manifest.FileName,
		"file_size":   fileSize,
		"chunk_size":  cfg.ChunkSize,
		"chunk_count": chunkCount,
	}).Info("Source file split into chunks")

	return &Splitter{file: f, manifest: manifest}, nil
}

// Manifest returns the manifest built at split time.
func (s *Splitter) Manifest() *Manifest {
	return s.manifest
}

// ReadChunk reads the bytes of one chunk by index. Reads may occur in any
// order; the flow window decides transmission order.
func (s *Splitter) ReadChunk(index uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("splitter closed")
	}
	if index >= s.manifest.ChunkCount {
		return nil, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, index, s.manifest.ChunkCount)
	}

	c := s.manifest.Chunks[index]
	data := make([]byte, c.Length)
	if _, err := s.file.ReadAt(data, int64(c.Offset)); err != nil {
		return nil, fmt.Errorf("reading chunk %d: %w", index, err)
	}
	return data, nil
}

// Close releases the underlying file handle.
func (s *Splitter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

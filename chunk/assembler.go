package chunk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// maxNameAttempts bounds the search for a free destination name.
const maxNameAttempts = 1000

// ErrIntegrityMismatch indicates the assembled file's digest does not
// match the digest declared in the signed transfer metadata. The output
// is discarded; this error is fatal for the transfer.
var ErrIntegrityMismatch = errors.New("whole-file digest mismatch")

// ErrChunkLengthMismatch indicates a received chunk whose length does not
// fit its position in the file.
var ErrChunkLengthMismatch = errors.New("chunk length mismatch")

// Assembler writes received chunks to their byte offsets as they arrive,
// supporting arbitrary arrival order within the flow-control window, and
// verifies the whole-file digest at completion.
type Assembler struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	fileSize   uint64
	chunkSize  uint32
	chunkCount uint64
	expected   [DigestSize]byte
	closed     bool
}

// NewAssembler opens (or creates) the destination file for chunk writes.
// An existing partial file is kept, so a resumed transfer continues into
// the same output.
func NewAssembler(path string, fileSize uint64, chunkSize uint32, chunkCount uint64, fileDigest [DigestSize]byte) (*Assembler, error) {
	if fileSize == 0 || chunkSize == 0 || chunkCount == 0 {
		return nil, errors.New("invalid assembler geometry")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening destination file: %w", err)
	}

	return &Assembler{
		file:       f,
		path:       path,
		fileSize:   fileSize,
		chunkSize:  chunkSize,
		chunkCount: chunkCount,
		expected:   fileDigest,
	}, nil
}

// NewExclusiveAssembler creates the destination file for a brand-new
// transfer. It never writes into an existing file: when path is taken, a
// numbered variant ("name (1).ext") is created instead, so same-named
// transfers and pre-existing user files stay intact. Path reports the
// file actually opened.
func NewExclusiveAssembler(path string, fileSize uint64, chunkSize uint32, chunkCount uint64, fileDigest [DigestSize]byte) (*Assembler, error) {
	if fileSize == 0 || chunkSize == 0 || chunkCount == 0 {
		return nil, errors.New("invalid assembler geometry")
	}

	f, chosen, err := createUnique(path)
	if err != nil {
		return nil, fmt.Errorf("creating destination file: %w", err)
	}

	return &Assembler{
		file:       f,
		path:       chosen,
		fileSize:   fileSize,
		chunkSize:  chunkSize,
		chunkCount: chunkCount,
		expected:   fileDigest,
	}, nil
}

// createUnique opens the first free name derived from path with O_EXCL,
// so two concurrent assemblers can never claim the same file.
func createUnique(path string) (*os.File, string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		candidate := path
		if attempt > 0 {
			candidate = numberedName(path, attempt)
		}
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			return f, candidate, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free destination name for %s", path)
}

func numberedName(path string, n int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(path, ext), n, ext)
}

// expectedLength returns the required byte length of chunk index.
func (a *Assembler) expectedLength(index uint64) (uint64, uint64, error) {
	if index >= a.chunkCount {
		return 0, 0, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, index, a.chunkCount)
	}
	offset := index * uint64(a.chunkSize)
	length := uint64(a.chunkSize)
	if offset+length > a.fileSize {
		length = a.fileSize - offset
	}
	return offset, length, nil
}

// WriteChunk writes one chunk's bytes at its offset. Re-delivery of an
// already-written chunk is harmless: the identical bytes land on the
// identical range.
func (a *Assembler) WriteChunk(index uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New("assembler closed")
	}

	offset, length, err := a.expectedLength(index)
	if err != nil {
		return err
	}
	if uint64(len(data)) != length {
		return fmt.Errorf("%w: chunk %d has %d bytes, want %d", ErrChunkLengthMismatch, index, len(data), length)
	}

	if _, err := a.file.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("writing chunk %d: %w", index, err)
	}
	return nil
}

// Finalize verifies the assembled file against the declared digest. On
// mismatch the output file is removed and ErrIntegrityMismatch returned;
// the corrupt result is never handed to the application.
func (a *Assembler) Finalize() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		if err := a.file.Close(); err != nil {
			a.mu.Unlock()
			return fmt.Errorf("closing assembled file: %w", err)
		}
	}
	a.mu.Unlock()

	digest, err := DigestFile(a.path)
	if err != nil {
		return err
	}

	if digest != a.expected {
		logrus.WithFields(logrus.Fields{
			"function": "Finalize",
			"path":     a.path,
		}).Error("Assembled file failed integrity verification, discarding")
		os.Remove(a.path)
		return ErrIntegrityMismatch
	}

	logrus.WithFields(logrus.Fields{
		"function": "Finalize",
		"path":     a.path,
	}).Info("Assembled file verified")

	return nil
}

// Abort closes and removes the partial output file.
func (a *Assembler) Abort() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		a.file.Close()
	}
	return os.Remove(a.path)
}

// Close releases the file handle without removing the partial output,
// leaving it in place for a later resume.
func (a *Assembler) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.file.Close()
}

// Path returns the destination file path.
func (a *Assembler) Path() string {
	return a.path
}

package chunk

import (
	"bytes"
	"errors"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/opd-ai/pqxfer/limits"
)

// ErrDecompressionFailed indicates corrupt or oversized compressed data.
var ErrDecompressionFailed = errors.New("chunk decompression failed")

// Compress attempts LZ4 compression of a chunk payload. It returns the
// payload to transmit and whether it is compressed; incompressible data
// travels raw, so the result is never larger than the input.
func Compress(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
		return data, false
	}
	if _, err := w.Write(data); err != nil {
		return data, false
	}
	if err := w.Close(); err != nil {
		return data, false
	}
	if buf.Len() >= len(data) {
		return data, false
	}
	return buf.Bytes(), true
}

// Decompress reverses Compress, bounding the output to the maximum chunk
// size so corrupt input cannot exhaust memory.
func Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(r, limits.MaxChunkSize+1)); err != nil {
		return nil, ErrDecompressionFailed
	}
	if buf.Len() > limits.MaxChunkSize {
		return nil, ErrDecompressionFailed
	}
	return buf.Bytes(), nil
}

package chunk

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/pqxfer/limits"
)

// Config holds the chunking parameters for one transfer.
type Config struct {
	// ChunkSize is the active chunk size in bytes.
	ChunkSize int
}

// DefaultConfig returns the default chunking parameters.
func DefaultConfig() Config {
	return Config{ChunkSize: limits.DefaultChunkSize}
}

// SetChunkSize applies an externally-computed adaptive chunk size,
// clamped to the protocol bounds. Returns the size actually applied.
func (c *Config) SetChunkSize(size int) int {
	clamped := limits.ClampChunkSize(size)
	if clamped != size {
		logrus.WithFields(logrus.Fields{
			"function":  "SetChunkSize",
			"requested": size,
			"applied":   clamped,
		}).Debug("Requested chunk size clamped to protocol bounds")
	}
	c.ChunkSize = clamped
	return clamped
}

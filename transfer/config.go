package transfer

import (
	"time"

	"github.com/opd-ai/pqxfer/crypto"
	"github.com/opd-ai/pqxfer/flow"
	"github.com/opd-ai/pqxfer/limits"
	"github.com/opd-ai/pqxfer/ratchet"
	"github.com/opd-ai/pqxfer/storage"
)

// DefaultTickInterval is how often a transfer's event loop scans for
// acknowledgement timeouts.
const DefaultTickInterval = 500 * time.Millisecond

// Config carries the tunables shared by senders and receivers. Zero
// values are replaced with defaults.
type Config struct {
	// Identity signs outgoing metadata offers. Required for sending.
	Identity *crypto.Identity

	// Store persists receiver-side transfer progress for resume. Nil
	// selects an in-memory store, which resumes only within a process.
	Store storage.Store

	// DownloadDir is where received files are assembled.
	DownloadDir string

	// ChunkSize is the sender's chunk size, clamped to the allowed
	// range.
	ChunkSize int

	// Compress enables transparent chunk compression. Chunks that do
	// not shrink are sent raw either way.
	Compress bool

	Ratchet ratchet.Config
	Flow    flow.Config

	// TimeProvider abstracts time for deterministic testing.
	TimeProvider flow.TimeProvider

	// TickInterval overrides the timeout scan cadence.
	TickInterval time.Duration
}

func (c Config) normalized() Config {
	if c.Store == nil {
		c.Store = storage.NewMemoryStore()
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "."
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = limits.DefaultChunkSize
	}
	c.ChunkSize = limits.ClampChunkSize(c.ChunkSize)
	if c.TimeProvider == nil {
		c.TimeProvider = flow.DefaultTimeProvider{}
	}
	if c.Flow.TimeProvider == nil {
		c.Flow.TimeProvider = c.TimeProvider
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	return c
}

// event is one unit of work for a transfer's loop: either an inbound
// frame or an operation injected from the public API.
type event struct {
	frame []byte
	op    func()
}

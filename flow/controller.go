package flow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ChunkState represents the delivery state of one chunk.
type ChunkState uint8

const (
	// ChunkPending indicates the chunk has not been dispatched yet.
	ChunkPending ChunkState = iota
	// ChunkSent indicates the chunk is in flight awaiting acknowledgement.
	ChunkSent
	// ChunkRetrying indicates the chunk timed out and is queued to resend.
	ChunkRetrying
	// ChunkAcked indicates the peer confirmed receipt and verification.
	ChunkAcked
	// ChunkFailed indicates delivery was abandoned after exhausting retries.
	ChunkFailed
)

// String returns a stable name for logging.
func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkSent:
		return "sent"
	case ChunkRetrying:
		return "retrying"
	case ChunkAcked:
		return "acked"
	case ChunkFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

const (
	// DefaultWindowSize is the initial number of chunks allowed in flight.
	DefaultWindowSize = 32
	// MinWindowSize is the smallest window SetWindowSize will accept.
	MinWindowSize = 1
	// MaxWindowSize is the largest window SetWindowSize will accept.
	MaxWindowSize = 256

	// DefaultAckTimeout is how long a sent chunk waits for its
	// acknowledgement before being queued for retry.
	DefaultAckTimeout = 10 * time.Second

	// DefaultMaxRetries is how many times a chunk is resent after its
	// initial transmission before delivery is abandoned.
	DefaultMaxRetries = 3
)

// ErrChunkOutOfRange indicates a chunk index beyond the transfer.
var ErrChunkOutOfRange = errors.New("chunk index out of range")

// ErrUnexpectedAck indicates an acknowledgement for a chunk that is not
// in flight.
var ErrUnexpectedAck = errors.New("acknowledgement for chunk not in flight")

// Config carries the tunable parameters of a Controller. Zero values are
// replaced with defaults.
type Config struct {
	WindowSize   int
	AckTimeout   time.Duration
	MaxRetries   int
	TimeProvider TimeProvider
}

func (c Config) normalized() Config {
	if c.WindowSize < MinWindowSize {
		c.WindowSize = DefaultWindowSize
	}
	if c.WindowSize > MaxWindowSize {
		c.WindowSize = MaxWindowSize
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.TimeProvider == nil {
		c.TimeProvider = DefaultTimeProvider{}
	}
	return c
}

type chunkSlot struct {
	state    ChunkState
	attempts int
	sentAt   time.Time
}

// Controller is the sender-side flow state for one transfer.
type Controller struct {
	mu sync.Mutex

	slots      []chunkSlot
	window     int
	ackTimeout time.Duration
	maxRetries int
	time       TimeProvider

	inFlight  int
	acked     uint64
	failed    uint64
	saturated bool
	paused    bool
}

// NewController tracks chunkCount chunks, all initially pending.
func NewController(chunkCount uint64, cfg Config) (*Controller, error) {
	if chunkCount == 0 {
		return nil, errors.New("chunk count must be positive")
	}
	cfg = cfg.normalized()

	logrus.WithFields(logrus.Fields{
		"function":    "NewController",
		"chunk_count": chunkCount,
		"window_size": cfg.WindowSize,
		"ack_timeout": cfg.AckTimeout,
		"max_retries": cfg.MaxRetries,
	}).Debug("Creating flow controller")

	return &Controller{
		slots:      make([]chunkSlot, chunkCount),
		window:     cfg.WindowSize,
		ackTimeout: cfg.AckTimeout,
		maxRetries: cfg.MaxRetries,
		time:       cfg.TimeProvider,
	}, nil
}

// MarkHave records chunks the receiver already holds from an earlier
// attempt, so they are never dispatched.
func (c *Controller) MarkHave(index uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index >= uint64(len(c.slots)) {
		return fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, index, len(c.slots))
	}
	if c.slots[index].state == ChunkAcked {
		return nil
	}
	c.slots[index].state = ChunkAcked
	c.acked++
	return nil
}

// NextBatch returns the chunk indices to dispatch now, bounded by the
// free window. Returned chunks transition to the sent state immediately;
// the caller is committed to transmitting them. During backpressure or
// pause the batch is empty.
func (c *Controller) NextBatch() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.saturated || c.paused {
		return nil
	}

	free := c.window - c.inFlight
	if free <= 0 {
		return nil
	}

	batch := make([]uint64, 0, free)
	now := c.time.Now()
	for i := range c.slots {
		if len(batch) >= free {
			break
		}
		s := &c.slots[i]
		if s.state != ChunkPending && s.state != ChunkRetrying {
			continue
		}
		s.state = ChunkSent
		s.attempts++
		s.sentAt = now
		c.inFlight++
		batch = append(batch, uint64(i))
	}
	return batch
}

// Ack records the peer's confirmation of one chunk.
func (c *Controller) Ack(index uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index >= uint64(len(c.slots)) {
		return fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, index, len(c.slots))
	}

	s := &c.slots[index]
	switch s.state {
	case ChunkAcked:
		// Duplicate ack after a retry crossed with the original.
		return nil
	case ChunkSent, ChunkRetrying:
		if s.state == ChunkSent {
			c.inFlight--
		}
		s.state = ChunkAcked
		c.acked++
		return nil
	default:
		return fmt.Errorf("%w: chunk %d is %s", ErrUnexpectedAck, index, s.state)
	}
}

// CheckTimeouts scans the in-flight set once, queueing timed-out chunks
// for retry and abandoning those whose retries are exhausted. It returns
// the indices that became permanently failed during this scan.
func (c *Controller) CheckTimeouts() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var newlyFailed []uint64
	for i := range c.slots {
		s := &c.slots[i]
		if s.state != ChunkSent {
			continue
		}
		if c.time.Since(s.sentAt) < c.ackTimeout {
			continue
		}

		c.inFlight--
		if s.attempts > c.maxRetries {
			s.state = ChunkFailed
			c.failed++
			newlyFailed = append(newlyFailed, uint64(i))
			logrus.WithFields(logrus.Fields{
				"function":    "CheckTimeouts",
				"chunk_index": i,
				"attempts":    s.attempts,
			}).Error("Chunk delivery abandoned after exhausting retries")
			continue
		}

		s.state = ChunkRetrying
		logrus.WithFields(logrus.Fields{
			"function":    "CheckTimeouts",
			"chunk_index": i,
			"attempt":     s.attempts,
		}).Warn("Chunk acknowledgement timed out, queueing retry")
	}
	return newlyFailed
}

// SetSaturated reflects channel backpressure. While saturated, NextBatch
// returns nothing; in-flight chunks still take acks and timeouts.
func (c *Controller) SetSaturated(saturated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saturated = saturated
}

// SetPaused suspends dispatch, typically on a peer pause request.
func (c *Controller) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
}

// SetWindowSize adjusts the in-flight window, clamped to the allowed
// range. Shrinking below the current in-flight count stops dispatch
// until acknowledgements drain the excess.
func (c *Controller) SetWindowSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < MinWindowSize {
		n = MinWindowSize
	}
	if n > MaxWindowSize {
		n = MaxWindowSize
	}
	c.window = n
}

// State returns the delivery state of one chunk.
func (c *Controller) State(index uint64) (ChunkState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index >= uint64(len(c.slots)) {
		return 0, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, index, len(c.slots))
	}
	return c.slots[index].state, nil
}

// Acked returns how many chunks the peer has confirmed.
func (c *Controller) Acked() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked
}

// InFlight returns how many chunks await acknowledgement.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Done reports whether every chunk has been acknowledged.
func (c *Controller) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked == uint64(len(c.slots))
}

// Failed reports whether any chunk was permanently abandoned.
func (c *Controller) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed > 0
}

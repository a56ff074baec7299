package transfer

import (
	"time"

	"github.com/opd-ai/pqxfer/flow"
)

// Progress is a point-in-time snapshot of a transfer's data phase.
type Progress struct {
	// TransferredBytes counts payload bytes confirmed so far: acked on
	// the sending side, written and verified on the receiving side.
	TransferredBytes uint64

	// TotalBytes is the announced file size.
	TotalBytes uint64

	// ChunksDone and ChunkCount count chunks the same way.
	ChunksDone uint64
	ChunkCount uint64

	// Speed is the smoothed throughput in bytes per second.
	Speed float64
}

// speedTracker maintains an exponential moving average of throughput.
type speedTracker struct {
	time      flow.TimeProvider
	lastAt    time.Time
	lastBytes uint64
	speed     float64
}

func newSpeedTracker(tp flow.TimeProvider) *speedTracker {
	return &speedTracker{time: tp, lastAt: tp.Now()}
}

// update records the running byte total and returns the smoothed speed.
func (s *speedTracker) update(totalBytes uint64) float64 {
	now := s.time.Now()
	elapsed := now.Sub(s.lastAt).Seconds()
	if elapsed <= 0 {
		return s.speed
	}

	instant := float64(totalBytes-s.lastBytes) / elapsed
	// Exponential moving average with alpha = 0.3
	if s.speed == 0 {
		s.speed = instant
	} else {
		s.speed = 0.7*s.speed + 0.3*instant
	}

	s.lastAt = now
	s.lastBytes = totalBytes
	return s.speed
}

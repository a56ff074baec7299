package ratchet

// Config controls the ratchet cadences and the out-of-order tolerance.
type Config struct {
	// DHRatchetInterval is the number of messages between asymmetric
	// ratchet steps.
	DHRatchetInterval uint64

	// PQRatchetInterval is the number of DH ratchet steps between sparse
	// post-quantum re-keying exchanges.
	PQRatchetInterval uint64

	// SkippedKeyCapacity bounds the cache of message keys retained for
	// out-of-order delivery. Oldest entries are evicted and destroyed
	// once the cache is full.
	SkippedKeyCapacity int
}

// DefaultConfig returns the production cadence defaults.
func DefaultConfig() Config {
	return Config{
		DHRatchetInterval:  1000,
		PQRatchetInterval:  100,
		SkippedKeyCapacity: 256,
	}
}

// normalized clamps zero values up to safe minimums so a partially
// populated Config cannot divide by zero or disable the cache entirely.
func (c Config) normalized() Config {
	out := c
	if out.DHRatchetInterval == 0 {
		out.DHRatchetInterval = DefaultConfig().DHRatchetInterval
	}
	if out.PQRatchetInterval == 0 {
		out.PQRatchetInterval = DefaultConfig().PQRatchetInterval
	}
	if out.SkippedKeyCapacity <= 0 {
		out.SkippedKeyCapacity = DefaultConfig().SkippedKeyCapacity
	}
	return out
}

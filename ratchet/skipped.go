package ratchet

import (
	"github.com/opd-ai/pqxfer/crypto"
)

// skippedKeyID locates a cached message key by chain and index.
type skippedKeyID struct {
	dhEpoch    uint64
	chainIndex uint64
}

// skippedKeyCache retains message keys for frames that have not arrived
// yet. Capacity is a hard bound: inserting into a full cache evicts and
// destroys the oldest entry, so sustained reordering cannot grow memory.
type skippedKeyCache struct {
	capacity int
	keys     map[skippedKeyID]*[32]byte
	order    []skippedKeyID
}

func newSkippedKeyCache(capacity int) *skippedKeyCache {
	return &skippedKeyCache{
		capacity: capacity,
		keys:     make(map[skippedKeyID]*[32]byte, capacity),
	}
}

func (c *skippedKeyCache) put(id skippedKeyID, key [32]byte) {
	if _, exists := c.keys[id]; exists {
		return
	}
	for len(c.keys) >= c.capacity {
		c.evictOldest()
	}
	stored := key
	c.keys[id] = &stored
	c.order = append(c.order, id)
}

// take removes and returns the key for id. The caller owns destruction.
func (c *skippedKeyCache) take(id skippedKeyID) (*[32]byte, bool) {
	key, ok := c.keys[id]
	if !ok {
		return nil, false
	}
	delete(c.keys, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return key, true
}

func (c *skippedKeyCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	if key, ok := c.keys[oldest]; ok {
		crypto.WipeKey(key)
		delete(c.keys, oldest)
	}
}

func (c *skippedKeyCache) len() int {
	return len(c.keys)
}

// destroy wipes every cached key.
func (c *skippedKeyCache) destroy() {
	for id, key := range c.keys {
		crypto.WipeKey(key)
		delete(c.keys, id)
	}
	c.order = nil
}

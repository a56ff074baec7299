package ratchet

import (
	"testing"

	"github.com/opd-ai/pqxfer/crypto"
)

func TestSkippedCacheBoundedEviction(t *testing.T) {
	c := newSkippedKeyCache(4)

	keys := make([]*[32]byte, 8)
	for i := 0; i < 8; i++ {
		var k [32]byte
		k[0] = byte(i + 1)
		c.put(skippedKeyID{chainIndex: uint64(i)}, k)
		keys[i] = c.keys[skippedKeyID{chainIndex: uint64(i)}]
	}

	if c.len() != 4 {
		t.Fatalf("cache size = %d, want 4", c.len())
	}

	// The four oldest must have been evicted and wiped.
	for i := 0; i < 4; i++ {
		if _, ok := c.take(skippedKeyID{chainIndex: uint64(i)}); ok {
			t.Errorf("entry %d should have been evicted", i)
		}
		if keys[i] != nil && !crypto.IsZeroKey(keys[i][:]) {
			t.Errorf("evicted key %d not wiped", i)
		}
	}

	// The four newest remain retrievable.
	for i := 4; i < 8; i++ {
		key, ok := c.take(skippedKeyID{chainIndex: uint64(i)})
		if !ok {
			t.Errorf("entry %d missing", i)
			continue
		}
		if key[0] != byte(i+1) {
			t.Errorf("entry %d corrupted", i)
		}
	}
}

func TestSkippedCacheDestroyWipesAll(t *testing.T) {
	c := newSkippedKeyCache(4)

	var k [32]byte
	k[0] = 0xAA
	c.put(skippedKeyID{chainIndex: 1}, k)
	stored := c.keys[skippedKeyID{chainIndex: 1}]

	c.destroy()

	if c.len() != 0 {
		t.Errorf("cache not empty after destroy")
	}
	if !crypto.IsZeroKey(stored[:]) {
		t.Errorf("destroyed key not wiped")
	}
}

package crypto

import "errors"

// ErrKeyDestroyed indicates use of key material after its Destroy call.
var ErrKeyDestroyed = errors.New("key material has been destroyed")

// RootKey is the 256-bit secret derived by the hybrid handshake. It seeds
// the ratchet engine and the session control keys. The raw bytes never
// leave this structure except through Key, and Destroy overwrites them.
type RootKey struct {
	key       [32]byte
	destroyed bool
}

func newRootKey(key [32]byte) *RootKey {
	return &RootKey{key: key}
}

// Key returns a pointer to the raw key bytes, or an error after Destroy.
func (r *RootKey) Key() (*[32]byte, error) {
	if r.destroyed {
		return nil, ErrKeyDestroyed
	}
	return &r.key, nil
}

// Destroy overwrites the key bytes. Subsequent Key calls fail.
func (r *RootKey) Destroy() {
	WipeKey(&r.key)
	r.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (r *RootKey) Destroyed() bool {
	return r.destroyed
}

package crypto

import (
	"testing"
)

func TestSecureWipe(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	if err := SecureWipe(data); err != nil {
		t.Fatalf("SecureWipe() error: %v", err)
	}
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d not wiped: %d", i, b)
		}
	}
}

func TestSecureWipeNil(t *testing.T) {
	if err := SecureWipe(nil); err == nil {
		t.Error("SecureWipe(nil) should return an error")
	}
}

func TestWipeKey(t *testing.T) {
	key := [32]byte{}
	for i := range key {
		key[i] = byte(i + 1)
	}
	WipeKey(&key)
	if !IsZeroKey(key[:]) {
		t.Error("WipeKey left non-zero bytes")
	}

	// Must not panic.
	WipeKey(nil)
}

func TestIsZeroKey(t *testing.T) {
	if !IsZeroKey(make([]byte, 32)) {
		t.Error("all-zero slice should report true")
	}
	if IsZeroKey([]byte{0, 0, 1}) {
		t.Error("non-zero slice should report false")
	}
	if !IsZeroKey(nil) {
		t.Error("nil slice should report true")
	}
}

package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *[32]byte {
	t.Helper()
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	return &key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(t)
	seq := NewNonceSequencer()

	payloads := [][]byte{
		[]byte("x"),
		[]byte("hello, chunk transfer"),
		make([]byte, 64*1024),
	}
	rand.Read(payloads[2])

	for _, plaintext := range payloads {
		nonce, err := seq.Next()
		require.NoError(t, err)

		ad := []byte("transfer-1|chunk-7")
		ciphertext, err := Seal(key, nonce, plaintext, ad)
		require.NoError(t, err)

		decrypted, err := Open(key, nonce, ciphertext, ad)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := testKey(t)
	seq := NewNonceSequencer()
	nonce, err := seq.Next()
	require.NoError(t, err)

	ciphertext, err := Seal(key, nonce, []byte("integrity matters"), nil)
	require.NoError(t, err)

	ciphertext[len(ciphertext)/2] ^= 0x01

	plaintext, err := Open(key, nonce, ciphertext, nil)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Nil(t, plaintext, "no plaintext may escape a failed authentication")
}

func TestOpenRejectsWrongAssociatedData(t *testing.T) {
	key := testKey(t)
	seq := NewNonceSequencer()
	nonce, err := seq.Next()
	require.NoError(t, err)

	ciphertext, err := Seal(key, nonce, []byte("bound to ad"), []byte("chunk-1"))
	require.NoError(t, err)

	_, err = Open(key, nonce, ciphertext, []byte("chunk-2"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestSealRefusesZeroKey(t *testing.T) {
	var zero [32]byte
	seq := NewNonceSequencer()
	nonce, err := seq.Next()
	require.NoError(t, err)

	_, err = Seal(&zero, nonce, []byte("data"), nil)
	assert.Error(t, err)
}

func TestSealRefusesEmptyPlaintext(t *testing.T) {
	key := testKey(t)
	seq := NewNonceSequencer()
	nonce, err := seq.Next()
	require.NoError(t, err)

	_, err = Seal(key, nonce, nil, nil)
	assert.Error(t, err)
}

package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentitySignVerify(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	data := []byte("file metadata to bind")
	sig, err := id.Sign(data)
	require.NoError(t, err)

	assert.True(t, VerifySignature(id.Public(), data, sig))
	assert.False(t, VerifySignature(id.Public(), []byte("different data"), sig))

	other, err := GenerateIdentity()
	require.NoError(t, err)
	assert.False(t, VerifySignature(other.Public(), data, sig))
}

func TestVerifySignatureMalformedInputs(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	sig, err := id.Sign([]byte("data"))
	require.NoError(t, err)

	assert.False(t, VerifySignature(nil, []byte("data"), sig))
	assert.False(t, VerifySignature(id.Public(), []byte("data"), sig[:10]))
	assert.False(t, VerifySignature([]byte{1, 2, 3}, []byte("data"), sig))
}

func TestIdentityFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	a, err := IdentityFromSeed(seed)
	require.NoError(t, err)
	b, err := IdentityFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, a.Public(), b.Public())

	_, err = IdentityFromSeed(seed[:16])
	assert.Error(t, err)
}

func TestIdentityDestroy(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	id.Destroy()
	_, err = id.Sign([]byte("data"))
	assert.ErrorIs(t, err, ErrKeyDestroyed)
}

func TestIdentitySeedRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	defer id.Destroy()

	restored, err := IdentityFromSeed(id.Seed())
	if err != nil {
		t.Fatalf("IdentityFromSeed() error: %v", err)
	}
	defer restored.Destroy()

	if !bytes.Equal(id.Public(), restored.Public()) {
		t.Error("restored identity has a different public key")
	}
}

package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSealer(t *testing.T) Sealer {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	s, err := NewSealer(CryptoMaterial{KeyID: "v1", AESKey: key})
	require.NoError(t, err)
	return s
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := testSealer(t)

	plain := []byte(`{"order":{"id":"o-1"}}`)
	sealed, err := s.Seal(plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, sealed)

	got, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.Open(sealed)
	assert.Error(t, err)
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	_, err := NewSealer(CryptoMaterial{AESKey: []byte("short")})
	assert.Error(t, err)
}

package sigmgr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollere/syncps/sigmgr"
)

func TestBlakeSignerRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	s := sigmgr.NewBlakeSigner(key)

	signed, err := s.Sign([]byte("a cadd packet"))
	require.NoError(t, err)
	assert.True(t, s.Validate(signed))
}

func TestBlakeSignerRejectsTamperedPacket(t *testing.T) {
	var key [32]byte
	s := sigmgr.NewBlakeSigner(key)

	signed, err := s.Sign([]byte("a cadd packet"))
	require.NoError(t, err)
	signed[0] ^= 0xff
	assert.False(t, s.Validate(signed))
}

func TestBlakeSignerRejectsWrongKey(t *testing.T) {
	var keyA, keyB [32]byte
	keyB[0] = 1
	a := sigmgr.NewBlakeSigner(keyA)
	b := sigmgr.NewBlakeSigner(keyB)

	signed, err := a.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.False(t, b.Validate(signed))
}

func TestBlakeSignerRejectsShortPacket(t *testing.T) {
	var key [32]byte
	s := sigmgr.NewBlakeSigner(key)
	assert.False(t, s.Validate([]byte("short")))
}

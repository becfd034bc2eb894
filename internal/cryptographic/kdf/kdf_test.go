package kdf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelKeyDeterministic(t *testing.T) {
	secret := bytes.Repeat([]byte{7}, 32)

	k1, err := ChannelKey(secret, []byte("info"))
	require.NoError(t, err)
	k2, err := ChannelKey(secret, []byte("info"))
	require.NoError(t, err)
	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)

	other, err := ChannelKey(secret, []byte("other"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)
}

func TestHKDFFillsBuffer(t *testing.T) {
	buf := make([]byte, 64)
	n, err := HKDF([]byte("secret"), []byte("salt"), []byte("info"), buf)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
	assert.NotEqual(t, make([]byte, 64), buf)
}

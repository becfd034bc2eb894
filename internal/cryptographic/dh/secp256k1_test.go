package dh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedSecretAgrees(t *testing.T) {
	aPriv, aPub, err := NewKeyPair()
	require.NoError(t, err)
	bPriv, bPub, err := NewKeyPair()
	require.NoError(t, err)

	ab, err := SharedSecret(aPriv, bPub)
	require.NoError(t, err)
	ba, err := SharedSecret(bPriv, aPub)
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)
}

func TestSharedSecretRejectsBadKey(t *testing.T) {
	priv, _, err := NewKeyPair()
	require.NoError(t, err)

	_, err = SharedSecret(priv, []byte{0x04, 0x01})
	assert.Error(t, err)
}

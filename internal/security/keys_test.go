package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSessionKeyIsDeterministicPerInfo(t *testing.T) {
	secret := []byte("shared-secret")

	k1, err := DeriveSessionKey(secret, "info-a", 32)
	require.NoError(t, err)
	k2, err := DeriveSessionKey(secret, "info-a", 32)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveSessionKey(secret, "info-b", 32)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveSessionKeyRejectsNonPositiveLength(t *testing.T) {
	_, err := DeriveSessionKey([]byte("secret"), "info", 0)
	assert.Error(t, err)
}

func TestMapEpochInfoVariesWithEpochAndNodeIDs(t *testing.T) {
	a := MapEpochInfo(1, 2, 3)
	b := MapEpochInfo(1, 2, 4)
	c := MapEpochInfo(2, 1, 3)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

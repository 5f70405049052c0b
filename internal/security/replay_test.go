package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceStoreValidateNonceConsumesExactlyOnce(t *testing.T) {
	ns := NewNonceStore(time.Minute)
	defer ns.Stop()

	ns.StoreNonce("nonce-1", "guid-a")
	require.NoError(t, ns.ValidateNonce("nonce-1", "guid-a"))

	err := ns.ValidateNonce("nonce-1", "guid-a")
	assert.ErrorContains(t, err, "replay")
}

func TestNonceStoreValidateNonceRejectsGUIDMismatch(t *testing.T) {
	ns := NewNonceStore(time.Minute)
	defer ns.Stop()

	ns.StoreNonce("nonce-1", "guid-a")
	err := ns.ValidateNonce("nonce-1", "guid-b")
	assert.Error(t, err)
}

func TestNonceStoreValidateNonceRejectsExpired(t *testing.T) {
	ns := NewNonceStore(time.Nanosecond)
	defer ns.Stop()

	ns.StoreNonce("nonce-1", "guid-a")
	time.Sleep(time.Millisecond)
	err := ns.ValidateNonce("nonce-1", "guid-a")
	assert.ErrorContains(t, err, "expired")
}

func TestNonceStoreValidateNonceRejectsUnknown(t *testing.T) {
	ns := NewNonceStore(time.Minute)
	defer ns.Stop()

	err := ns.ValidateNonce("nonce-unknown", "guid-a")
	assert.Error(t, err)
}

func TestRateLimiterAllowsUpToLimitPerWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	require.NoError(t, rl.CheckLimit("10.0.0.1"))
	require.NoError(t, rl.CheckLimit("10.0.0.1"))
	assert.Error(t, rl.CheckLimit("10.0.0.1"))
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	rl := NewRateLimiter(1, time.Nanosecond)

	require.NoError(t, rl.CheckLimit("10.0.0.1"))
	time.Sleep(time.Millisecond)
	assert.NoError(t, rl.CheckLimit("10.0.0.1"))
}

func TestRateLimiterTracksIdentifiersIndependently(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	require.NoError(t, rl.CheckLimit("10.0.0.1"))
	assert.NoError(t, rl.CheckLimit("10.0.0.2"))
}

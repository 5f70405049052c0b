package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestManagerGetReturnsGlobalConfigWithoutOverride(t *testing.T) {
	dir := t.TempDir()
	globalPath := writeFile(t, dir, "global.yaml", "transport:\n  multicast_group: \"239.255.0.9\"\n")

	m, err := NewManager(globalPath, filepath.Join(dir, "missing-overrides.yaml"))
	require.NoError(t, err)

	cfg := m.Get(0)
	assert.Equal(t, "239.255.0.9", cfg.Transport.MulticastGroup)
}

func TestManagerGetMergesDomainOverride(t *testing.T) {
	dir := t.TempDir()
	globalPath := writeFile(t, dir, "global.yaml", "transport:\n  multicast_group: \"239.255.0.9\"\ndiscovery:\n  spdp_period_ms: 1000\n")
	overridesPath := writeFile(t, dir, "overrides.yaml", `
domains:
  "7":
    discovery:
      spdp_period_ms: 50
      lease_duration_sec: 5
`)

	m, err := NewManager(globalPath, overridesPath)
	require.NoError(t, err)

	overridden := m.Get(7)
	assert.Equal(t, 50, overridden.Discovery.SPDPPeriodMs)
	assert.Equal(t, "239.255.0.9", overridden.Transport.MulticastGroup)

	unrelated := m.Get(8)
	assert.Equal(t, 1000, unrelated.Discovery.SPDPPeriodMs)
}

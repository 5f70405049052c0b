package mobility

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdds-go/hdds/internal/ddsid"
)

type mockDetector struct {
	changes   []LocatorChange
	addresses []ddsid.Locator
	pollErr   error
}

func (d *mockDetector) PollChanges() ([]LocatorChange, error) {
	if d.pollErr != nil {
		return nil, d.pollErr
	}
	c := d.changes
	d.changes = nil
	return c, nil
}

func (d *mockDetector) CurrentAddresses() ([]ddsid.Locator, error) {
	return d.addresses, nil
}

func (d *mockDetector) Name() string { return "mock" }

func addr(last byte) ddsid.Locator {
	return ddsid.NewUDPv4Locator(192, 168, 1, last, 0)
}

type trackingCallback struct {
	reannounces    []int
	stateChanges   [][2]State
	locatorChanges [][2][]ddsid.Locator
}

func (c *trackingCallback) OnReannounce(idx int) {
	c.reannounces = append(c.reannounces, idx)
}

func (c *trackingCallback) OnStateChange(old, new State) {
	c.stateChanges = append(c.stateChanges, [2]State{old, new})
}

func (c *trackingCallback) OnLocatorsChanged(added, removed []ddsid.Locator) {
	c.locatorChanges = append(c.locatorChanges, [2][]ddsid.Locator{added, removed})
}

func testConfig() Config {
	return Config{
		Enabled:         true,
		HoldDown:        100 * time.Millisecond,
		ReannounceDelay: 0,
		InterfaceFilter: AllInterfaces(),
		AddressFilter:   AllAddresses(),
	}
}

func TestManagerNewStartsStable(t *testing.T) {
	m := New(testConfig(), &mockDetector{}, nil, nil)
	assert.Equal(t, Stable, m.State())
	assert.Equal(t, uint32(0), m.Epoch())
	assert.True(t, m.IsEnabled())
}

func TestManagerPollNoChanges(t *testing.T) {
	m := New(testConfig(), &mockDetector{}, nil, nil)
	assert.False(t, m.Poll())
	assert.Equal(t, Stable, m.State())
}

func TestManagerPollWithAddTransitionsAwayFromStable(t *testing.T) {
	det := &mockDetector{changes: []LocatorChange{{Locator: addr(1), Interface: "eth0", Kind: LocatorAdded}}}
	m := New(testConfig(), det, nil, nil)

	changed := m.Poll()
	assert.True(t, changed)
	assert.Equal(t, uint32(1), m.Epoch())
	assert.NotEqual(t, Stable, m.State())
}

func TestManagerPollWithRemoveBumpsEpochAgain(t *testing.T) {
	det := &mockDetector{changes: []LocatorChange{{Locator: addr(1), Interface: "eth0", Kind: LocatorAdded}}}
	cfg := testConfig()
	cfg.ReannounceDelay = 0
	m := New(cfg, det, nil, nil)
	m.Poll()

	for m.State() == Reannouncing {
		m.Poll()
	}

	det.changes = []LocatorChange{{Locator: addr(1), Interface: "eth0", Kind: LocatorRemoved}}
	changed := m.Poll()

	assert.True(t, changed)
	assert.GreaterOrEqual(t, m.Epoch(), uint32(2))
}

func TestManagerCallbackReannounceAndStateChange(t *testing.T) {
	det := &mockDetector{changes: []LocatorChange{{Locator: addr(1), Interface: "eth0", Kind: LocatorAdded}}}
	cb := &trackingCallback{}
	cfg := testConfig()
	cfg.ReannounceDelay = 0
	m := NewWithCallback(cfg, det, cb, nil, nil)

	for i := 0; i < 10; i++ {
		m.Poll()
	}

	assert.NotEmpty(t, cb.reannounces)
	assert.NotEmpty(t, cb.stateChanges)
}

func TestManagerCallbackLocatorsChanged(t *testing.T) {
	det := &mockDetector{changes: []LocatorChange{{Locator: addr(1), Interface: "eth0", Kind: LocatorAdded}}}
	cb := &trackingCallback{}
	m := NewWithCallback(testConfig(), det, cb, nil, nil)

	m.Poll()

	require.NotEmpty(t, cb.locatorChanges)
	added, removed := cb.locatorChanges[0][0], cb.locatorChanges[0][1]
	assert.Contains(t, added, addr(1))
	assert.Empty(t, removed)
}

func TestManagerTriggerReannounce(t *testing.T) {
	m := New(testConfig(), &mockDetector{}, nil, nil)
	assert.Equal(t, Stable, m.State())

	m.TriggerReannounce()

	assert.Equal(t, Reannouncing, m.State())
	assert.Equal(t, uint32(1), m.Epoch())
}

func TestManagerNotifyIPChange(t *testing.T) {
	det := &mockDetector{addresses: []ddsid.Locator{addr(1)}}
	m := New(testConfig(), det, nil, nil)

	m.NotifyIPChange()

	assert.NotEqual(t, Stable, m.State())
}

func TestManagerAdvertisableLocatorsIncludeHoldDown(t *testing.T) {
	cfg := testConfig()
	cfg.HoldDown = time.Hour
	det := &mockDetector{changes: []LocatorChange{{Locator: addr(1), Interface: "eth0", Kind: LocatorAdded}}}
	m := New(cfg, det, nil, nil)
	m.Poll()
	for m.State() == Reannouncing {
		m.Poll()
	}

	det.changes = []LocatorChange{
		{Locator: addr(2), Interface: "eth0", Kind: LocatorAdded},
		{Locator: addr(1), Interface: "eth0", Kind: LocatorRemoved},
	}
	m.Poll()

	advertisable := m.AdvertisableLocators()
	assert.Len(t, advertisable, 2)

	active := m.ActiveLocators()
	assert.Len(t, active, 1)
	assert.Contains(t, active, addr(2))
}

func TestManagerDisabledIgnoresChanges(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	det := &mockDetector{changes: []LocatorChange{{Locator: addr(1), Interface: "eth0", Kind: LocatorAdded}}}
	m := New(cfg, det, nil, nil)

	changed := m.Poll()

	assert.False(t, changed)
	assert.Equal(t, Stable, m.State())
	assert.Equal(t, uint32(0), m.Epoch())
}

func TestManagerSetEnabledCancelsBurst(t *testing.T) {
	m := New(testConfig(), &mockDetector{}, nil, nil)
	m.TriggerReannounce()
	assert.Equal(t, Reannouncing, m.State())

	m.SetEnabled(false)
	assert.Equal(t, Stable, m.State())
	assert.False(t, m.IsEnabled())

	m.SetEnabled(true)
	assert.True(t, m.IsEnabled())
}

func TestManagerStats(t *testing.T) {
	det := &mockDetector{changes: []LocatorChange{{Locator: addr(1), Interface: "eth0", Kind: LocatorAdded}}}
	m := New(testConfig(), det, nil, nil)
	m.Poll()

	stats := m.Stats()
	assert.GreaterOrEqual(t, stats.Epoch, uint32(1))
	assert.Equal(t, 1, stats.ActiveLocators)
	assert.Equal(t, 0, stats.HoldDownLocators)
	assert.Equal(t, 1, stats.TotalLocators())
}

func TestManagerPollPropagatesDetectorError(t *testing.T) {
	det := &mockDetector{pollErr: errors.New("boom")}
	m := New(testConfig(), det, nil, nil)
	assert.False(t, m.Poll())
}

func TestManagerFilterByInterface(t *testing.T) {
	cfg := testConfig()
	cfg.InterfaceFilter = OnlyInterfaces("eth0")
	det := &mockDetector{changes: []LocatorChange{
		{Locator: addr(1), Interface: "eth0", Kind: LocatorAdded},
		{Locator: addr(2), Interface: "wlan0", Kind: LocatorAdded},
	}}
	m := New(cfg, det, nil, nil)
	m.Poll()

	active := m.ActiveLocators()
	assert.Len(t, active, 1)
	assert.Contains(t, active, addr(1))
}

func TestNoopCallbackDoesNotPanic(t *testing.T) {
	var cb NoopCallback
	cb.OnReannounce(0)
	cb.OnStateChange(Stable, Changed)
	cb.OnLocatorsChanged(nil, nil)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stable", Stable.String())
	assert.Equal(t, "changed", Changed.String())
	assert.Equal(t, "reannouncing", Reannouncing.String())
}

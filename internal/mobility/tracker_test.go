package mobility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hdds-go/hdds/internal/ddsid"
)

func TestLocatorTrackerProcessChangeAddThenDuplicateIsNotSignificant(t *testing.T) {
	tr := NewLocatorTracker(time.Minute)
	assert.True(t, tr.ProcessChange(LocatorChange{Locator: addr(1), Kind: LocatorAdded}))
	assert.False(t, tr.ProcessChange(LocatorChange{Locator: addr(1), Kind: LocatorAdded}))
	assert.Len(t, tr.ActiveLocators(), 1)
}

func TestLocatorTrackerRemoveEntersHoldDown(t *testing.T) {
	tr := NewLocatorTracker(time.Hour)
	tr.ProcessChange(LocatorChange{Locator: addr(1), Kind: LocatorAdded})
	assert.True(t, tr.ProcessChange(LocatorChange{Locator: addr(1), Kind: LocatorRemoved}))

	assert.Empty(t, tr.ActiveLocators())
	assert.Len(t, tr.AdvertisableLocators(), 1)
	assert.Equal(t, TrackerStats{Active: 0, HoldDown: 1}, tr.Stats())
}

func TestLocatorTrackerRemoveUnknownIsNotSignificant(t *testing.T) {
	tr := NewLocatorTracker(time.Minute)
	assert.False(t, tr.ProcessChange(LocatorChange{Locator: addr(1), Kind: LocatorRemoved}))
}

func TestLocatorTrackerExpireLocatorsDropsAfterHoldDown(t *testing.T) {
	now := time.Now()
	tr := NewLocatorTracker(10 * time.Millisecond)
	tr.now = func() time.Time { return now }

	tr.ProcessChange(LocatorChange{Locator: addr(1), Kind: LocatorAdded})
	tr.ProcessChange(LocatorChange{Locator: addr(1), Kind: LocatorRemoved})

	assert.Equal(t, 0, tr.ExpireLocators(), "hold-down has not elapsed yet")

	now = now.Add(11 * time.Millisecond)
	tr.now = func() time.Time { return now }
	assert.Equal(t, 1, tr.ExpireLocators())
	assert.Empty(t, tr.AdvertisableLocators())
}

func TestLocatorTrackerSyncWithCurrent(t *testing.T) {
	tr := NewLocatorTracker(time.Hour)
	tr.ProcessChange(LocatorChange{Locator: addr(1), Kind: LocatorAdded})

	added, removed := tr.SyncWithCurrent([]ddsid.Locator{addr(2)})

	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []ddsid.Locator{addr(2)}, tr.ActiveLocators())
}

package mobility

import (
	"time"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// locatorState is one tracked address and its lifecycle phase.
type locatorState struct {
	locator   ddsid.Locator
	active    bool
	expiresAt time.Time // zero when active
}

// TrackerStats summarizes the tracker's current locator population.
type TrackerStats struct {
	Active   int
	HoldDown int
}

// LocatorTracker holds the set of locators a participant currently
// advertises, plus a hold-down set: locators removed recently enough that
// remote readers might still have packets in flight to them. A removed
// locator is kept advertisable, but not active, until HoldDown elapses —
// this avoids flapping the announced locator set on a brief link blip.
type LocatorTracker struct {
	holdDown time.Duration
	now      func() time.Time
	byKey    map[ddsid.Locator]*locatorState
}

// NewLocatorTracker builds a tracker with the given hold-down duration.
func NewLocatorTracker(holdDown time.Duration) *LocatorTracker {
	return &LocatorTracker{
		holdDown: holdDown,
		now:      time.Now,
		byKey:    make(map[ddsid.Locator]*locatorState),
	}
}

// HoldDown returns the configured hold-down duration.
func (t *LocatorTracker) HoldDown() time.Duration { return t.holdDown }

// SetHoldDown updates the hold-down duration for future removals.
func (t *LocatorTracker) SetHoldDown(d time.Duration) { t.holdDown = d }

// ProcessChange applies one reported change and reports whether it was a
// meaningful transition (a genuinely new address, or a removal of one that
// was active).
func (t *LocatorTracker) ProcessChange(c LocatorChange) bool {
	switch c.Kind {
	case LocatorAdded:
		if st, ok := t.byKey[c.Locator]; ok && st.active {
			return false
		}
		t.byKey[c.Locator] = &locatorState{locator: c.Locator, active: true}
		return true
	case LocatorRemoved:
		st, ok := t.byKey[c.Locator]
		if !ok || !st.active {
			return false
		}
		st.active = false
		st.expiresAt = t.now().Add(t.holdDown)
		return true
	case LocatorUpdated:
		return false
	default:
		return false
	}
}

// SyncWithCurrent reconciles the tracker against a freshly observed address
// set (used when the caller learns of the current state out of band,
// rather than through incremental changes). It returns the number of
// locators added and removed.
func (t *LocatorTracker) SyncWithCurrent(current []ddsid.Locator) (added, removed int) {
	want := make(map[ddsid.Locator]bool, len(current))
	for _, loc := range current {
		want[loc] = true
		if st, ok := t.byKey[loc]; !ok || !st.active {
			t.byKey[loc] = &locatorState{locator: loc, active: true}
			added++
		}
	}
	for key, st := range t.byKey {
		if st.active && !want[key] {
			st.active = false
			st.expiresAt = t.now().Add(t.holdDown)
			removed++
		}
	}
	return added, removed
}

// ExpireLocators drops hold-down locators whose expiry has passed and
// returns how many were dropped.
func (t *LocatorTracker) ExpireLocators() int {
	now := t.now()
	expired := 0
	for key, st := range t.byKey {
		if !st.active && !st.expiresAt.IsZero() && !now.Before(st.expiresAt) {
			delete(t.byKey, key)
			expired++
		}
	}
	return expired
}

// ActiveLocators returns every currently active locator.
func (t *LocatorTracker) ActiveLocators() []ddsid.Locator {
	var out []ddsid.Locator
	for _, st := range t.byKey {
		if st.active {
			out = append(out, st.locator)
		}
	}
	return out
}

// AdvertisableLocators returns active locators plus those still in
// hold-down (both are safe to keep announcing).
func (t *LocatorTracker) AdvertisableLocators() []ddsid.Locator {
	out := make([]ddsid.Locator, 0, len(t.byKey))
	for _, st := range t.byKey {
		out = append(out, st.locator)
	}
	return out
}

// Stats reports the current active/hold-down population sizes.
func (t *LocatorTracker) Stats() TrackerStats {
	var s TrackerStats
	for _, st := range t.byKey {
		if st.active {
			s.Active++
		} else {
			s.HoldDown++
		}
	}
	return s
}

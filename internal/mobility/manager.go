package mobility

import (
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// State is a mobility state machine state.
type State int

const (
	Stable State = iota
	Changed
	Reannouncing
)

func (s State) String() string {
	switch s {
	case Stable:
		return "stable"
	case Changed:
		return "changed"
	case Reannouncing:
		return "reannouncing"
	default:
		return "unknown"
	}
}

// Callback receives mobility events. Embed it into a larger participant
// event sink, or use NoopCallback where no reaction is needed.
type Callback interface {
	OnReannounce(announcementIndex int)
	OnStateChange(old, new State)
	OnLocatorsChanged(added, removed []ddsid.Locator)
}

// NoopCallback discards every mobility event.
type NoopCallback struct{}

func (NoopCallback) OnReannounce(int)                                 {}
func (NoopCallback) OnStateChange(State, State)                       {}
func (NoopCallback) OnLocatorsChanged(added, removed []ddsid.Locator) {}

// Config configures a Manager.
type Config struct {
	Enabled          bool
	HoldDown         time.Duration
	ReannounceDelay  time.Duration
	MinBurstInterval time.Duration
	InterfaceFilter  InterfaceFilter
	AddressFilter    AddressFilter
	JitterPercent    int // applied once to each burst delay when the Manager is built, see Jitter
}

// DefaultConfig returns sane defaults: enabled, 30s hold-down, 100ms
// initial reannounce delay, no minimum burst interval, all interfaces and
// routable addresses only.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		HoldDown:        30 * time.Second,
		ReannounceDelay: 100 * time.Millisecond,
		InterfaceFilter: AllInterfaces(),
		AddressFilter:   RoutableAddresses(),
		JitterPercent:   20,
	}
}

// Stats is a point-in-time snapshot of manager state.
type Stats struct {
	State              State
	Epoch              uint32
	HostID             uint64
	ActiveLocators     int
	HoldDownLocators   int
	TimeInState        time.Duration
	ReannounceProgress float32
	Reannouncing       bool
}

func (s Stats) TotalLocators() int { return s.ActiveLocators + s.HoldDownLocators }
func (s Stats) IsStable() bool     { return s.State == Stable }

// Manager coordinates IP-change detection, locator tracking, and
// reannounce bursts (§4/C18). Poll must be called periodically (by the
// owning participant's event loop) to drive the state machine; Manager
// does not run its own goroutine.
type Manager struct {
	cfg      Config
	detector ChangeDetector
	tracker  *LocatorTracker
	burst    *ReannounceController
	callback Callback
	metrics  *Metrics
	log      *slog.Logger
	rng      *rand.Rand

	state          State
	epoch          uint32
	hostID         uint64
	enabled        bool
	lastTransition time.Time
	now            func() time.Time
}

// New builds a Manager with NoopCallback; use NewWithCallback for a real
// event sink.
func New(cfg Config, detector ChangeDetector, metrics *Metrics, log *slog.Logger) *Manager {
	return NewWithCallback(cfg, detector, NoopCallback{}, metrics, log)
}

// NewWithCallback builds a Manager that reports events to callback.
func NewWithCallback(cfg Config, detector ChangeDetector, callback Callback, metrics *Metrics, log *slog.Logger) *Manager {
	burstCfg := DefaultBurstSchedule(cfg.ReannounceDelay)
	burstCfg.MinBurstInterval = cfg.MinBurstInterval

	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if log == nil {
		log = slog.Default()
	}

	now := time.Now()
	m := &Manager{
		cfg:            cfg,
		detector:       detector,
		tracker:        NewLocatorTracker(cfg.HoldDown),
		burst:          NewReannounceController(burstCfg),
		callback:       callback,
		metrics:        metrics,
		log:            log.With("component", "mobility"),
		rng:            rand.New(rand.NewSource(now.UnixNano())),
		state:          Stable,
		hostID:         generateHostID(),
		enabled:        cfg.Enabled,
		lastTransition: now,
		now:            time.Now,
	}
	for i, d := range burstCfg.Delays {
		burstCfg.Delays[i] = m.Jitter(d)
	}
	m.burst.SetConfig(burstCfg)
	return m
}

// generateHostID derives a process-stable identifier used in SPDP mobility
// parameters so remote participants can recognize this host across an IP
// change.
func generateHostID() uint64 {
	return uint64(time.Now().UnixNano()) ^ uint64(rand.Int63())
}

// Poll asks the detector for changes and drives the state machine.
// Returns true if a significant change (an active locator added or
// removed) was processed.
func (m *Manager) Poll() bool {
	if !m.enabled {
		return false
	}

	m.metrics.PollsTotal.Inc()

	changes, err := m.detector.PollChanges()
	if err != nil {
		m.log.Warn("mobility detector poll failed", "error", err)
		return false
	}

	if len(changes) == 0 {
		m.pollReannounce()
		return false
	}

	var added, removed []ddsid.Locator
	significant := false

	for _, c := range changes {
		if !m.cfg.InterfaceFilter.allows(c.Interface) {
			continue
		}
		if a, b, cc, d, ok := c.Locator.IPv4(); ok {
			if !m.cfg.AddressFilter.allows(net.IPv4(a, b, cc, d)) {
				continue
			}
		}

		if !m.tracker.ProcessChange(c) {
			continue
		}
		significant = true

		switch c.Kind {
		case LocatorAdded:
			m.metrics.AddressesAddedTotal.Inc()
			added = append(added, c.Locator)
		case LocatorRemoved:
			m.metrics.AddressesRemovedTotal.Inc()
			removed = append(removed, c.Locator)
		case LocatorUpdated:
			// Updated doesn't trigger reannounce.
		}
	}

	stats := m.tracker.Stats()
	m.metrics.ActiveLocators.Set(float64(stats.Active))
	m.metrics.HoldDownLocators.Set(float64(stats.HoldDown))

	if expired := m.tracker.ExpireLocators(); expired > 0 {
		m.metrics.LocatorsExpiredTotal.Add(float64(expired))
	}

	if len(added) > 0 || len(removed) > 0 {
		m.callback.OnLocatorsChanged(added, removed)
	}

	if significant && (len(added) > 0 || len(removed) > 0) {
		m.onIPChange()
	}

	m.pollReannounce()
	return significant
}

func (m *Manager) onIPChange() {
	old := m.state
	m.epoch++
	m.setState(Changed)
	if m.burst.StartBurst() {
		m.setState(Reannouncing)
	}
	if old != m.state {
		m.log.Info("mobility state change", "old", old, "new", m.state, "epoch", m.epoch)
	}
}

func (m *Manager) pollReannounce() {
	if m.state != Reannouncing {
		return
	}
	if idx, due := m.burst.Poll(); due {
		m.callback.OnReannounce(idx)
	}
	if m.burst.IsComplete() {
		m.metrics.ReannounceBurstsTotal.Inc()
		m.burst.Reset()
		m.setState(Stable)
	}
}

func (m *Manager) setState(new State) {
	if m.state == new {
		return
	}
	old := m.state
	m.state = new
	m.lastTransition = m.now()
	m.callback.OnStateChange(old, new)
}

// TriggerReannounce manually starts a reannounce burst, e.g. from an
// application-level signal that connectivity changed before the detector
// noticed.
func (m *Manager) TriggerReannounce() {
	if !m.enabled {
		return
	}
	m.epoch++
	if m.burst.StartBurst() {
		m.setState(Reannouncing)
	}
}

// NotifyIPChange reconciles the tracker against the detector's current
// address set and starts a burst if anything changed. Useful when the
// application learns of an IP change through a side channel before the
// detector's own poll would notice.
func (m *Manager) NotifyIPChange() {
	if !m.enabled {
		return
	}
	current, err := m.detector.CurrentAddresses()
	if err != nil {
		m.log.Warn("mobility current-address query failed", "error", err)
		return
	}
	added, removed := m.tracker.SyncWithCurrent(current)
	if added > 0 || removed > 0 {
		m.onIPChange()
	}
}

// State returns the current mobility state.
func (m *Manager) State() State { return m.state }

// Epoch returns the current mobility epoch, incremented on each
// significant IP change; SPDP announcements carry this value so remote
// participants can detect stale locator sets.
func (m *Manager) Epoch() uint32 { return m.epoch }

// HostID returns this participant's stable host identifier.
func (m *Manager) HostID() uint64 { return m.hostID }

// ActiveLocators returns the currently active locator set.
func (m *Manager) ActiveLocators() []ddsid.Locator { return m.tracker.ActiveLocators() }

// AdvertisableLocators returns active plus hold-down locators, the set
// that should be included in SPDP announcements.
func (m *Manager) AdvertisableLocators() []ddsid.Locator { return m.tracker.AdvertisableLocators() }

// TimeInState returns how long the manager has been in its current state.
func (m *Manager) TimeInState() time.Duration { return m.now().Sub(m.lastTransition) }

// TimeUntilNextAnnounce returns the time until the next scheduled
// reannounce, if currently reannouncing.
func (m *Manager) TimeUntilNextAnnounce() (time.Duration, bool) {
	if m.state != Reannouncing {
		return 0, false
	}
	return m.burst.TimeUntilNext()
}

// IsEnabled reports whether the manager is active.
func (m *Manager) IsEnabled() bool { return m.enabled }

// SetEnabled enables or disables the manager; disabling cancels any
// in-progress burst and returns the manager to Stable.
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled = enabled
	if !enabled {
		m.burst.Cancel()
		m.state = Stable
	}
}

// SetHoldDown updates the tracker's hold-down duration.
func (m *Manager) SetHoldDown(d time.Duration) { m.tracker.SetHoldDown(d) }

// SetReannounceSchedule replaces the burst schedule used by future bursts.
func (m *Manager) SetReannounceSchedule(s BurstSchedule) { m.burst.SetConfig(s) }

// Jitter applies the configured jitter percentage to a base delay,
// spreading simultaneous reannounces from many participants across a
// window instead of a single instant.
func (m *Manager) Jitter(base time.Duration) time.Duration {
	if m.cfg.JitterPercent <= 0 {
		return base
	}
	spread := float64(base) * float64(m.cfg.JitterPercent) / 100
	delta := (m.rng.Float64()*2 - 1) * spread
	return base + time.Duration(delta)
}

// Stats returns a snapshot of the manager's current state.
func (m *Manager) Stats() Stats {
	trackerStats := m.tracker.Stats()
	s := Stats{
		State:            m.state,
		Epoch:            m.epoch,
		HostID:           m.hostID,
		ActiveLocators:   trackerStats.Active,
		HoldDownLocators: trackerStats.HoldDown,
		TimeInState:      m.TimeInState(),
		Reannouncing:     m.state == Reannouncing,
	}
	if m.state == Reannouncing {
		s.ReannounceProgress = m.burst.Progress()
	}
	return s
}

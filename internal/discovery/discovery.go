// Package discovery implements the participant/endpoint discovery FSM
// (C12, §4.12): periodic SPDP announcement, SPDP/SEDP receive handling,
// and lazy QoS-compatibility matching between local and remote endpoints.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/discovery/sedp"
	"github.com/hdds-go/hdds/internal/discovery/spdp"
	"github.com/hdds-go/hdds/internal/qos"
	"github.com/hdds-go/hdds/internal/rtps/dialect"
)

// DefaultAnnounceInterval matches the conventional SPDP announce period
// used by most vendor stacks (well inside the default 100s lease so a
// handful of missed announcements don't expire a live participant).
const DefaultAnnounceInterval = 2 * time.Second

// ParticipantRecord tracks one remote participant discovered via SPDP
// (§3). It is created on first receipt, refreshed on every subsequent
// announcement, and removed when its lease expires without refresh.
type ParticipantRecord struct {
	GUID                         ddsid.GUID
	DomainID                     uint32
	LeaseDuration                time.Duration
	MetatrafficUnicastLocators   []ddsid.Locator
	MetatrafficMulticastLocators []ddsid.Locator
	DefaultUnicastLocators       []ddsid.Locator
	DefaultMulticastLocators     []ddsid.Locator
	LastRefresh                  time.Time

	// SecurityIdentityToken is the optional serialized security identity
	// token the remote participant announced; empty when absent (§3).
	SecurityIdentityToken string
}

func (p *ParticipantRecord) expired(now time.Time) bool {
	return now.Sub(p.LastRefresh) > p.LeaseDuration
}

// EndpointRecord tracks one remote endpoint discovered via SEDP (§3),
// matched lazily against local endpoints of opposite kind sharing
// (topic, type).
type EndpointRecord struct {
	sedp.EndpointData
	ParticipantGUID ddsid.GUID
	LastRefresh     time.Time
}

// LocalEndpoint is one locally-registered writer or reader this engine
// advertises via SEDP and matches incoming remote endpoints against.
type LocalEndpoint struct {
	GUID      ddsid.GUID
	Kind      ddsid.Kind
	TopicName string
	TypeName  string
	Policy    qos.Policy
}

func (e LocalEndpoint) topicKey() ddsid.TopicKey { return ddsid.NewTopicKey(e.TopicName, e.TypeName) }

// Match is a confirmed local/remote endpoint pairing: opposite kind,
// equal topic key, QoS-compatible.
type Match struct {
	Local  LocalEndpoint
	Remote EndpointRecord
}

// Sender abstracts the transport sends the engine needs; satisfied by
// *transport/udp.Transport.
type Sender interface {
	SendMetatrafficMulticast(payload []byte) error
	SendMetatrafficUnicast(loc ddsid.Locator, payload []byte) error
}

// Config configures one discovery engine instance.
type Config struct {
	ParticipantGUID  ddsid.GUID
	DomainID         uint32
	LeaseDuration    time.Duration
	AnnounceInterval time.Duration
	Dialect          dialect.Dialect
	Transport        Sender

	MetatrafficUnicastLocators   []ddsid.Locator
	MetatrafficMulticastLocators []ddsid.Locator
	DefaultUnicastLocators       []ddsid.Locator
	DefaultMulticastLocators     []ddsid.Locator

	// SecurityIdentityToken, if set, is announced on every SPDP sample
	// (§3's "optional security identity token"). internal/security mints
	// this value; discovery treats it as an opaque string.
	SecurityIdentityToken string

	// OnMatch, if set, is invoked synchronously whenever a new local/remote
	// pairing is confirmed. It must not block.
	OnMatch func(Match)

	Logger *slog.Logger
}

// Engine is one participant's discovery state machine: it owns the set
// of locally-advertised endpoints, the registries of remote participants
// and endpoints learned via SPDP/SEDP, and the periodic announce timer.
type Engine struct {
	cfg Config
	log *slog.Logger

	mu           sync.RWMutex
	local        map[ddsid.GUID]LocalEndpoint
	participants map[ddsid.GUIDPrefix]*ParticipantRecord
	remotes      map[ddsid.GUID]*EndpointRecord
	matched      map[matchKey]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

type matchKey struct {
	local  ddsid.GUID
	remote ddsid.GUID
}

// NewEngine constructs an engine. Call Start to begin periodic
// announcement and lease-expiry sweeps.
func NewEngine(cfg Config) *Engine {
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = 100 * time.Second
	}
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = DefaultAnnounceInterval
	}
	if cfg.Dialect == nil {
		cfg.Dialect = dialect.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		cfg:          cfg,
		log:          cfg.Logger.With("component", "discovery"),
		local:        make(map[ddsid.GUID]LocalEndpoint),
		participants: make(map[ddsid.GUIDPrefix]*ParticipantRecord),
		remotes:      make(map[ddsid.GUID]*EndpointRecord),
		matched:      make(map[matchKey]struct{}),
		stop:         make(chan struct{}),
	}
}

// Start sends one SPDP announcement and launches the periodic
// announce/lease-sweep loop in a goroutine, then returns immediately. The
// loop runs until ctx is canceled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.AnnounceNow()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.AnnounceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case now := <-ticker.C:
				e.AnnounceNow()
				e.sweepExpired(now)
			}
		}
	}()
}

// Stop halts the announce loop and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// RegisterLocalEndpoint adds ep to the set advertised via SEDP, and
// immediately announces it (unicast) to every participant already known.
func (e *Engine) RegisterLocalEndpoint(ep LocalEndpoint) {
	e.mu.Lock()
	e.local[ep.GUID] = ep
	peers := make([]*ParticipantRecord, 0, len(e.participants))
	for _, p := range e.participants {
		peers = append(peers, p)
	}
	e.mu.Unlock()

	for _, p := range peers {
		e.announceEndpointTo(ep, p)
	}
	e.matchLocalAgainstRemotes(ep)
}

// UnregisterLocalEndpoint removes ep from the advertised set.
func (e *Engine) UnregisterLocalEndpoint(guid ddsid.GUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.local, guid)
}

// AnnounceNow builds and multicasts an SPDP announcement immediately,
// independent of the periodic timer.
func (e *Engine) AnnounceNow() {
	if e.cfg.Transport == nil {
		return
	}
	data := spdp.ParticipantData{
		ParticipantGUID:              e.cfg.ParticipantGUID,
		LeaseDuration:                e.cfg.LeaseDuration,
		DomainID:                     e.cfg.DomainID,
		MetatrafficUnicastLocators:   e.cfg.MetatrafficUnicastLocators,
		MetatrafficMulticastLocators: e.cfg.MetatrafficMulticastLocators,
		DefaultUnicastLocators:       e.cfg.DefaultUnicastLocators,
		DefaultMulticastLocators:     e.cfg.DefaultMulticastLocators,
		SecurityIdentityToken:        e.cfg.SecurityIdentityToken,
	}
	wire := spdp.Build(e.cfg.Dialect, data)
	if err := e.cfg.Transport.SendMetatrafficMulticast(wire); err != nil {
		e.log.Warn("spdp announce failed", "error", err)
	}
}

// OnSPDPReceived parses a received SPDP sample (falling back to the
// fragment-tolerant partial parse on failure), inserts or refreshes the
// corresponding ParticipantRecord, and — for a newly-seen participant —
// pushes unicast SEDP announcements for every local endpoint to its
// metatraffic-unicast locator (§4.12).
func (e *Engine) OnSPDPReceived(payload []byte) {
	data, err := spdp.Parse(payload)
	if err != nil {
		data, err = spdp.ParsePartial(payload, e.log)
		if err != nil {
			e.log.Debug("spdp parse failed", "error", err)
			return
		}
	}

	if data.ParticipantGUID == e.cfg.ParticipantGUID {
		return // our own announcement looped back via multicast
	}

	now := time.Now()
	e.mu.Lock()
	rec, known := e.participants[data.ParticipantGUID.Prefix]
	if known {
		rec.LeaseDuration = data.LeaseDuration
		rec.MetatrafficUnicastLocators = data.MetatrafficUnicastLocators
		rec.MetatrafficMulticastLocators = data.MetatrafficMulticastLocators
		rec.DefaultUnicastLocators = data.DefaultUnicastLocators
		rec.DefaultMulticastLocators = data.DefaultMulticastLocators
		rec.SecurityIdentityToken = data.SecurityIdentityToken
		rec.LastRefresh = now
	} else {
		rec = &ParticipantRecord{
			GUID:                         data.ParticipantGUID,
			DomainID:                     data.DomainID,
			LeaseDuration:                data.LeaseDuration,
			MetatrafficUnicastLocators:   data.MetatrafficUnicastLocators,
			MetatrafficMulticastLocators: data.MetatrafficMulticastLocators,
			DefaultUnicastLocators:       data.DefaultUnicastLocators,
			DefaultMulticastLocators:     data.DefaultMulticastLocators,
			SecurityIdentityToken:        data.SecurityIdentityToken,
			LastRefresh:                  now,
		}
		e.participants[data.ParticipantGUID.Prefix] = rec
	}
	locals := make([]LocalEndpoint, 0, len(e.local))
	for _, l := range e.local {
		locals = append(locals, l)
	}
	e.mu.Unlock()

	if !known {
		e.log.Info("participant discovered", "guid", data.ParticipantGUID)
		for _, l := range locals {
			e.announceEndpointTo(l, rec)
		}
	}
}

func (e *Engine) announceEndpointTo(ep LocalEndpoint, peer *ParticipantRecord) {
	if e.cfg.Transport == nil || len(peer.MetatrafficUnicastLocators) == 0 {
		return
	}
	wire := sedp.Build(e.cfg.Dialect, sedp.EndpointData{
		EndpointGUID: ep.GUID,
		Kind:         ep.Kind,
		TopicName:    ep.TopicName,
		TypeName:     ep.TypeName,
		QosHash:      sedp.QosHash(ep.Policy),
	})
	for _, loc := range peer.MetatrafficUnicastLocators {
		if err := e.cfg.Transport.SendMetatrafficUnicast(loc, wire); err != nil {
			e.log.Warn("sedp announce failed", "error", err, "peer", peer.GUID)
		}
	}
}

// OnSEDPReceived parses a received SEDP sample, inserts or refreshes the
// corresponding EndpointRecord, and evaluates matches against every
// local endpoint of opposite kind sharing (topic, type) (§4.12).
func (e *Engine) OnSEDPReceived(payload []byte) {
	data, err := sedp.Parse(payload)
	if err != nil {
		e.log.Debug("sedp parse failed", "error", err)
		return
	}

	now := time.Now()
	e.mu.Lock()
	rec, known := e.remotes[data.EndpointGUID]
	if known {
		rec.EndpointData = data
		rec.LastRefresh = now
	} else {
		rec = &EndpointRecord{
			EndpointData:    data,
			ParticipantGUID: ddsid.GUID{Prefix: data.EndpointGUID.Prefix, Entity: ddsid.EntityIDParticipant},
			LastRefresh:     now,
		}
		e.remotes[data.EndpointGUID] = rec
	}
	e.mu.Unlock()

	e.matchRemoteAgainstLocals(*rec)
}

func (e *Engine) matchRemoteAgainstLocals(remote EndpointRecord) {
	e.mu.RLock()
	var candidates []LocalEndpoint
	for _, l := range e.local {
		if l.Kind == remote.Kind {
			continue
		}
		if l.topicKey() != remote.TopicKey() {
			continue
		}
		candidates = append(candidates, l)
	}
	e.mu.RUnlock()

	for _, l := range candidates {
		e.confirmMatch(l, remote)
	}
}

func (e *Engine) matchLocalAgainstRemotes(local LocalEndpoint) {
	e.mu.RLock()
	var candidates []EndpointRecord
	for _, r := range e.remotes {
		if r.Kind == local.Kind {
			continue
		}
		if r.TopicKey() != local.topicKey() {
			continue
		}
		candidates = append(candidates, *r)
	}
	e.mu.RUnlock()

	for _, r := range candidates {
		e.confirmMatch(local, r)
	}
}

// confirmMatch records a (local, remote) pairing sharing (topic, type)
// and opposite kind, per §4.12. The remote peer's full QoS policy isn't
// carried on the wire (only its QosHash digest is), so compatibility
// against the remote's actual policy is re-checked by the reader/writer
// runtime once the first sample establishes it; this stage only confirms
// the topic match and dedups repeat SEDP refreshes.
func (e *Engine) confirmMatch(local LocalEndpoint, remote EndpointRecord) {
	key := matchKey{local: local.GUID, remote: remote.EndpointGUID}
	e.mu.Lock()
	if _, exists := e.matched[key]; exists {
		e.mu.Unlock()
		return
	}
	e.matched[key] = struct{}{}
	e.mu.Unlock()

	e.log.Info("endpoint matched", "local", local.GUID, "remote", remote.EndpointGUID, "topic", local.TopicName)
	if e.cfg.OnMatch != nil {
		e.cfg.OnMatch(Match{Local: local, Remote: remote})
	}
}

// sweepExpired removes participants (and their endpoints) whose lease
// has expired without refresh (§3 ParticipantRecord lifecycle).
func (e *Engine) sweepExpired(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for prefix, p := range e.participants {
		if !p.expired(now) {
			continue
		}
		delete(e.participants, prefix)
		for guid, r := range e.remotes {
			if r.EndpointGUID.Prefix == prefix {
				delete(e.remotes, guid)
			}
		}
		e.log.Info("participant lease expired", "guid", p.GUID)
	}
}

// Participants returns a snapshot of currently-known remote participants.
func (e *Engine) Participants() []ParticipantRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ParticipantRecord, 0, len(e.participants))
	for _, p := range e.participants {
		out = append(out, *p)
	}
	return out
}

// RemoteEndpoints returns a snapshot of currently-known remote endpoints.
func (e *Engine) RemoteEndpoints() []EndpointRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]EndpointRecord, 0, len(e.remotes))
	for _, r := range e.remotes {
		out = append(out, *r)
	}
	return out
}

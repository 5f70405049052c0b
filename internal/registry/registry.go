// Package registry implements the process-wide domain registry (C4,
// §4.4): a (domain_id, topic, type_id) -> endpoints map that drives
// intra-process auto-bind between local writers and readers, with QoS
// compatibility applied at match time.
package registry

import (
	"sync"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/merger"
	"github.com/hdds-go/hdds/internal/qos"
	"github.com/hdds-go/hdds/internal/ring"
)

// Endpoint is one registered local writer or reader.
type Endpoint struct {
	GUID   ddsid.GUID
	Kind   ddsid.Kind
	Policy qos.Policy

	// Writer side.
	Merger *merger.Merger

	// Reader side.
	Ring   *ring.Ring
	Notify func(ring.Entry)

	// BindCallback is invoked synchronously, exactly once, the moment this
	// reader is matched to a writer's merger — either immediately (a
	// writer is already registered) or later (when one registers), per
	// the Reader-bind-callback design note in §9. Only meaningful for
	// reader endpoints.
	BindCallback func(m *merger.Merger)
}

// domainState holds every registered endpoint for one domain, indexed by
// topic key for match lookups.
type domainState struct {
	mu        sync.RWMutex
	byTopic   map[ddsid.TopicKey][]*Endpoint
	refcount  int
}

// Token represents one endpoint's registration. Dropping it (calling
// Unregister) removes the endpoint from the domain, and releases the
// domain's entry entirely once its refcount reaches zero (§4.4, §9
// Cyclic-ownership: the registry holds endpoints only as long as a token
// is outstanding, never a cycle back to the endpoint's owner).
type Token struct {
	reg      *Registry
	domainID uint32
	key      ddsid.TopicKey
	ep       *Endpoint
}

// Unregister removes the endpoint and releases the domain slot.
func (t Token) Unregister() {
	t.reg.unregister(t.domainID, t.key, t.ep)
}

// Registry is the process-wide singleton domain map. NewRegistry
// constructs an independent instance for tests; production code uses the
// package-level Default().
type Registry struct {
	mu      sync.Mutex
	domains map[uint32]*domainState
}

// NewRegistry creates an independent registry (primarily for tests; most
// callers should use Default()).
func NewRegistry() *Registry {
	return &Registry{domains: make(map[uint32]*domainState)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry singleton.
func Default() *Registry { return defaultRegistry }

func (r *Registry) domain(domainID uint32, create bool) *domainState {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.domains[domainID]
	if !ok {
		if !create {
			return nil
		}
		d = &domainState{byTopic: make(map[ddsid.TopicKey][]*Endpoint)}
		r.domains[domainID] = d
	}
	if create {
		d.refcount++
	}
	return d
}

func (r *Registry) releaseDomain(domainID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.domains[domainID]
	if !ok {
		return
	}
	d.refcount--
	if d.refcount <= 0 {
		delete(r.domains, domainID)
	}
}

// RegisterWriter adds a writer endpoint and matches it against every
// already-registered compatible reader on the same topic key (§4.4): for
// each match, the reader's BindCallback is invoked with this writer's
// Merger.
func (r *Registry) RegisterWriter(domainID uint32, key ddsid.TopicKey, ep *Endpoint) Token {
	ep.Kind = ddsid.KindWriter
	d := r.domain(domainID, true)

	d.mu.Lock()
	d.byTopic[key] = append(d.byTopic[key], ep)
	var matches []*Endpoint
	for _, other := range d.byTopic[key] {
		if other == ep || other.Kind != ddsid.KindReader {
			continue
		}
		if ok, _ := qos.Compatible(other.Policy, ep.Policy); ok {
			matches = append(matches, other)
		}
	}
	d.mu.Unlock()

	for _, reader := range matches {
		if reader.BindCallback != nil {
			reader.BindCallback(ep.Merger)
		}
	}

	return Token{reg: r, domainID: domainID, key: key, ep: ep}
}

// RegisterReader adds a reader endpoint. If a compatible writer is
// already registered on the same topic key, BindCallback fires
// immediately and synchronously before RegisterReader returns (§9 Reader
// bind callback design note: "either immediately (late reader, writer
// present)").
func (r *Registry) RegisterReader(domainID uint32, key ddsid.TopicKey, ep *Endpoint) Token {
	ep.Kind = ddsid.KindReader
	d := r.domain(domainID, true)

	d.mu.Lock()
	d.byTopic[key] = append(d.byTopic[key], ep)
	var boundMerger *merger.Merger
	for _, other := range d.byTopic[key] {
		if other == ep || other.Kind != ddsid.KindWriter {
			continue
		}
		if ok, _ := qos.Compatible(ep.Policy, other.Policy); ok {
			boundMerger = other.Merger
			break
		}
	}
	d.mu.Unlock()

	if boundMerger != nil && ep.BindCallback != nil {
		ep.BindCallback(boundMerger)
	}

	return Token{reg: r, domainID: domainID, key: key, ep: ep}
}

func (r *Registry) unregister(domainID uint32, key ddsid.TopicKey, ep *Endpoint) {
	d := r.domain(domainID, false)
	if d == nil {
		return
	}
	d.mu.Lock()
	eps := d.byTopic[key]
	for i, e := range eps {
		if e == ep {
			d.byTopic[key] = append(eps[:i], eps[i+1:]...)
			break
		}
	}
	empty := len(d.byTopic[key]) == 0
	if empty {
		delete(d.byTopic, key)
	}
	d.mu.Unlock()

	r.releaseDomain(domainID)
}

// MatchedEndpoints returns every endpoint registered for a topic key in a
// domain, for diagnostics/testing (e.g. asserting S5's zero-match case).
func (r *Registry) MatchedEndpoints(domainID uint32, key ddsid.TopicKey) []*Endpoint {
	d := r.domain(domainID, false)
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Endpoint, len(d.byTopic[key]))
	copy(out, d.byTopic[key])
	return out
}

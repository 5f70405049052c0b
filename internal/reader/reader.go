// Package reader implements the reader runtime (C15, §4.15): the
// QoS-driven assembly that turns intra-process merger pushes and
// off-the-wire DATA/DATA_FRAG/HEARTBEAT traffic into samples a
// subscribing application drains from an internal/cache.Cache, replying
// with ACKNACK when a reliable writer's heartbeat reveals a gap.
package reader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hdds-go/hdds/internal/cache"
	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/fragment"
	"github.com/hdds-go/hdds/internal/merger"
	"github.com/hdds-go/hdds/internal/qos"
	"github.com/hdds-go/hdds/internal/registry"
	"github.com/hdds-go/hdds/internal/ring"
	"github.com/hdds-go/hdds/internal/rtps"
	"github.com/hdds-go/hdds/internal/slab"
)

// DefaultFragmentCapacity bounds how many in-flight DATA_FRAG
// reassemblies a reader tracks concurrently (§4.6).
const DefaultFragmentCapacity = 64

// DefaultFragmentTTL abandons a stalled reassembly after this long since
// its first fragment arrived.
const DefaultFragmentTTL = 5 * time.Second

// ringPollInterval paces the intra-process ring-drain loop. The ring has
// no blocking wait primitive (§4.2, single-producer/multi-consumer), so
// consumers poll.
const ringPollInterval = time.Millisecond

// wireOrder is the byte order the reader uses for submessages it builds
// itself (ACKNACK replies), matching internal/reliability's fixed choice.
var wireOrder = binary.LittleEndian

// ErrDecoderRequired is returned by Build when Config.Decode is nil.
var ErrDecoderRequired = errors.New("reader: Decode function is required")

// Decoder turns a CDR-serialized payload into an application value.
type Decoder[T any] func(payload []byte) (T, error)

// Sender unicasts a fully built RTPS submessage to one locator. The
// transport (UDP/SHM/LBW) implements this; the reader never opens
// sockets itself (mirrors internal/reliability.Sender and
// internal/writer.Sender).
type Sender interface {
	SendTo(loc ddsid.Locator, message []byte) error
}

// Config configures one reader instance.
type Config[T any] struct {
	ReaderGUID        ddsid.GUID
	ParticipantPrefix ddsid.GUIDPrefix // own prefix, for INFO_DST filtering
	TopicName         string
	TypeName          string
	Policy            qos.Policy
	DomainID          uint32

	Transport Sender
	Decode    Decoder[T]

	// Pool and a merger-fed ring enable intra-process delivery from a
	// local writer matched via Registry. Both optional; when absent the
	// reader only consumes off-the-wire traffic via OnReceive.
	Pool     *slab.Pool
	Registry *registry.Registry

	FragmentCapacity int
	FragmentTTL      time.Duration

	Logger *slog.Logger
}

// writerState tracks what a reader has seen from one matched remote
// writer, enough to answer a HEARTBEAT with an accurate ACKNACK.
type writerState struct {
	mu        sync.Mutex
	locator   ddsid.Locator
	delivered map[ddsid.SequenceNumber]bool
	ackCount  int32
}

// Reader is one subscription's runtime: a sample cache plus the plumbing
// that feeds it from either an in-process merger or the network.
type Reader[T any] struct {
	cfg      Config[T]
	log      *slog.Logger
	topicKey ddsid.TopicKey

	cache *cache.Cache[T]
	frags *fragment.Buffer

	pool        *slab.Pool
	readerRing  *ring.Ring
	cursor      *ring.Cursor
	regToken    registry.Token
	mergerToken merger.Token
	haveMerger  bool

	mu      sync.Mutex
	writers map[ddsid.GUID]*writerState

	stop chan struct{}
	wg   sync.WaitGroup
}

// cacheDepth derives the sample cache's capacity from QoS History,
// mirroring internal/writer's needsHistoryCache derivation: KeepAll
// bounds by ResourceLimits.MaxSamples (required > 0 by Policy.Validate),
// otherwise KeepLast(n) bounds by History.Depth.
func cacheDepth(p qos.Policy) int {
	if p.History.KeepAll {
		return p.ResourceLimits.MaxSamples
	}
	return p.History.Depth
}

// Build validates cfg, constructs the sample cache and fragment buffer,
// and registers with the registry (registry.Default() when Registry is
// nil) for intra-process auto-bind. When Pool is set it also creates the
// reader ring and starts the ring-drain goroutine.
func Build[T any](ctx context.Context, cfg Config[T]) (*Reader[T], error) {
	if cfg.Decode == nil {
		return nil, ErrDecoderRequired
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("reader: invalid QoS policy: %w", err)
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.FragmentCapacity <= 0 {
		cfg.FragmentCapacity = DefaultFragmentCapacity
	}
	if cfg.FragmentTTL <= 0 {
		cfg.FragmentTTL = DefaultFragmentTTL
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "reader", "topic", cfg.TopicName, "reader_guid", cfg.ReaderGUID.String())

	r := &Reader[T]{
		cfg:      cfg,
		log:      log,
		topicKey: ddsid.NewTopicKey(cfg.TopicName, cfg.TypeName),
		cache:    cache.New[T](cacheDepth(cfg.Policy)),
		frags:    fragment.New(cfg.FragmentCapacity, cfg.FragmentTTL),
		pool:     cfg.Pool,
		writers:  make(map[ddsid.GUID]*writerState),
		stop:     make(chan struct{}),
	}

	if r.pool != nil {
		r.readerRing = ring.New(256)
		r.cursor = ring.NewCursor(r.readerRing)
	}

	ep := &registry.Endpoint{
		GUID:   cfg.ReaderGUID,
		Policy: cfg.Policy,
		Ring:   r.readerRing,
		BindCallback: func(m *merger.Merger) {
			if m == nil || r.readerRing == nil {
				return
			}
			r.mergerToken = m.RegisterReader(r.readerRing, nil)
			r.haveMerger = true
		},
	}
	r.regToken = cfg.Registry.RegisterReader(cfg.DomainID, r.topicKey, ep)

	if r.readerRing != nil {
		r.wg.Add(1)
		go r.pumpRing(ctx)
	}

	return r, nil
}

// Close unregisters from the merger and registry and stops the ring-drain
// goroutine.
func (r *Reader[T]) Close() {
	close(r.stop)
	r.wg.Wait()
	if r.haveMerger {
		r.mergerToken.Unregister()
	}
	if r.readerRing != nil && r.cursor != nil {
		r.readerRing.Unregister(r.cursor)
	}
	r.regToken.Unregister()
}

// TopicKey reports this reader's registry matching key.
func (r *Reader[T]) TopicKey() ddsid.TopicKey { return r.topicKey }

// Cache exposes the underlying sample cache for Take/Read-style draining.
func (r *Reader[T]) Cache() *cache.Cache[T] { return r.cache }

func (r *Reader[T]) pumpRing(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(ringPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			for {
				entry, ok := r.readerRing.Pop(r.cursor)
				if !ok {
					break
				}
				r.deliverRingEntry(entry)
			}
		}
	}
}

func (r *Reader[T]) deliverRingEntry(e ring.Entry) {
	buf := r.pool.GetBuffer(e.Handle)
	if buf == nil || uint32(len(buf)) < e.Len {
		r.log.Warn("ring entry referenced an unreadable slab slot", "seq", e.Seq)
		return
	}
	data, err := r.cfg.Decode(buf[:e.Len])
	if err != nil {
		r.log.Warn("failed to decode intra-process sample", "seq", e.Seq, "error", err)
		return
	}
	r.cache.Push(e.Seq, ddsid.InstanceHandle{}, e.TimestampNs, data)
}

// AddRemoteWriter records a matched remote writer and the locator ACKNACK
// replies should target (§4.15, mirrors internal/writer.AddRemoteReader).
func (r *Reader[T]) AddRemoteWriter(guid ddsid.GUID, loc ddsid.Locator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[guid] = &writerState{locator: loc, delivered: make(map[ddsid.SequenceNumber]bool)}
}

// RemoveRemoteWriter drops a writer that is no longer matched.
func (r *Reader[T]) RemoveRemoteWriter(guid ddsid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, guid)
}

func (r *Reader[T]) writerState(guid ddsid.GUID) *writerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writers[guid]
}

// OnReceive processes one packet's worth of submessages from a matched
// remote writer (§4.15). buf is the submessage stream following the RTPS
// message header — the caller (the participant-level dispatcher) strips
// the 20-byte rtps.Header and demultiplexes by destination entity before
// handing work to the matching reader, the same division of labor
// internal/reliability and internal/writer use at the Sender boundary.
func (r *Reader[T]) OnReceive(writer ddsid.GUID, buf []byte) {
	ws := r.writerState(writer)
	if ws == nil {
		return
	}

	destOK := true
	for _, sub := range rtps.WalkSubmessages(buf) {
		switch sub.Header.ID {
		case rtps.SubmsgInfoDST:
			dst, err := rtps.ParseInfoDST(sub.Body)
			if err != nil {
				continue
			}
			destOK = dst.IsZero() || dst.GUIDPrefix == r.cfg.ParticipantPrefix
		case rtps.SubmsgInfoTS:
			// Timestamp tracking is not currently surfaced to samples;
			// parsed only to stay in lock-step while walking submessages.
			_, _ = rtps.ParseInfoTS(sub.Body, sub.Header.Flags)
		case rtps.SubmsgData:
			if !destOK {
				continue
			}
			r.handleData(writer, ws, sub)
		case rtps.SubmsgDataFrag:
			if !destOK {
				continue
			}
			r.handleDataFrag(writer, ws, sub)
		case rtps.SubmsgHeartbeat:
			if !destOK {
				continue
			}
			r.handleHeartbeat(writer, ws, sub)
		}
	}
}

func (r *Reader[T]) handleData(writer ddsid.GUID, ws *writerState, sub rtps.RawSubmessage) {
	d, err := rtps.ParseData(sub.Body, sub.Header.Flags)
	if err != nil {
		r.log.Warn("dropping malformed DATA", "writer", writer.String(), "error", err)
		return
	}
	if d.ReaderEntityID != ddsid.EntityIDUnknown && d.ReaderEntityID != r.cfg.ReaderGUID.Entity {
		return
	}
	r.acceptSample(ws, d.WriterSN, d.SerializedPayload)
}

func (r *Reader[T]) handleDataFrag(writer ddsid.GUID, ws *writerState, sub rtps.RawSubmessage) {
	df, err := rtps.ParseDataFrag(sub.Body, sub.Header.Flags)
	if err != nil {
		r.log.Warn("dropping malformed DATA_FRAG", "writer", writer.String(), "error", err)
		return
	}
	if df.ReaderEntityID != ddsid.EntityIDUnknown && df.ReaderEntityID != r.cfg.ReaderGUID.Entity {
		return
	}
	totalFrags := uint16((int(df.SampleSize) + int(df.FragmentSize) - 1) / int(df.FragmentSize))
	complete, done := r.frags.Insert(writer, df.WriterSN, df.FragmentStartNum, totalFrags, df.FragmentData)
	if !done {
		return
	}
	r.acceptSample(ws, df.WriterSN, complete)
}

func (r *Reader[T]) acceptSample(ws *writerState, seq ddsid.SequenceNumber, payload []byte) {
	ws.mu.Lock()
	ws.delivered[seq] = true
	ws.mu.Unlock()

	data, err := r.cfg.Decode(payload)
	if err != nil {
		r.log.Warn("failed to decode sample", "seq", seq, "error", err)
		return
	}
	r.cache.Push(seq, ddsid.InstanceHandle{}, 0, data)
}

// handleHeartbeat answers a HEARTBEAT with an ACKNACK whenever a sequence
// number in [FirstSN, LastSN] is missing from this writer's delivered
// set, or the writer did not mark the heartbeat Final (§4.15, §4.8).
func (r *Reader[T]) handleHeartbeat(writer ddsid.GUID, ws *writerState, sub rtps.RawSubmessage) {
	hb, err := rtps.ParseHeartbeat(sub.Body, sub.Header.Flags)
	if err != nil {
		r.log.Warn("dropping malformed HEARTBEAT", "writer", writer.String(), "error", err)
		return
	}
	if r.cfg.Transport == nil {
		return
	}

	ws.mu.Lock()
	set := rtps.SequenceNumberSet{Base: hb.FirstSN}
	missing := false
	for seq := hb.FirstSN; seq <= hb.LastSN; seq++ {
		if !ws.delivered[seq] {
			set.Set(uint32(seq - hb.FirstSN))
			missing = true
		}
	}
	if !missing && hb.Final {
		ws.mu.Unlock()
		return
	}
	ws.ackCount++
	ack := rtps.AckNack{
		ReaderEntityID: r.cfg.ReaderGUID.Entity,
		WriterEntityID: writer.Entity,
		ReaderSNState:  set,
		Count:          ws.ackCount,
		Final:          true,
	}
	loc := ws.locator
	ws.mu.Unlock()

	msg := ack.MarshalSubmessage(wireOrder)
	if err := r.cfg.Transport.SendTo(loc, msg); err != nil {
		r.log.Warn("failed to send ACKNACK", "writer", writer.String(), "error", err)
	}
}

// Package writer implements the writer runtime (C14, §4.14): the
// publish-side facade that turns a single serialized sample into local
// delivery (via the topic merger), remote delivery (DATA/DATA_FRAG over a
// transport), history-cache retention, and — for Reliable writers —
// heartbeat/ACKNACK/NACK_FRAG bookkeeping through the reliability engine.
package writer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/history"
	"github.com/hdds-go/hdds/internal/merger"
	"github.com/hdds-go/hdds/internal/qos"
	"github.com/hdds-go/hdds/internal/registry"
	"github.com/hdds-go/hdds/internal/reliability"
	"github.com/hdds-go/hdds/internal/ring"
	"github.com/hdds-go/hdds/internal/rtps"
	"github.com/hdds-go/hdds/internal/slab"
)

// FragmentThreshold is the payload size above which Write splits a
// sample into DATA_FRAG packets instead of a single DATA (§4.14).
const FragmentThreshold = 8 * 1024

// DefaultFragmentSize is the per-fragment payload size once a sample
// exceeds FragmentThreshold (§4.14).
const DefaultFragmentSize = 1024

// ErrBufferTooSmall is returned when a packet (DATA or the DATA_FRAG
// set) could not be built for a sample; any reserved slab handle is
// released before this is returned (§4.14 error taxonomy).
var ErrBufferTooSmall = errors.New("writer: failed to build packet for sample")

// Sender delivers a built RTPS message to one remote locator. Satisfied
// structurally by internal/transport/udp.Transport's SendUserData.
type Sender interface {
	SendUserData(loc ddsid.Locator, payload []byte) error
}

// senderAdapter lets a Sender stand in for reliability.Sender, which
// names its method SendTo rather than SendUserData.
type senderAdapter struct{ Sender }

func (a senderAdapter) SendTo(loc ddsid.Locator, message []byte) error {
	return a.SendUserData(loc, message)
}

// Config describes one writer endpoint to build.
type Config struct {
	WriterGUID ddsid.GUID
	TopicName  string
	TypeName   string
	Policy     qos.Policy
	DomainID   uint32

	// Transport sends built RTPS packets to remote peers. A nil
	// Transport disables remote delivery (local-only writer, useful in
	// tests).
	Transport Sender

	// Pool backs intra-process delivery through the merger. A nil Pool
	// disables intra-process delivery entirely (remote-only writer).
	Pool *slab.Pool

	// Registry is the domain registry this writer's endpoint is
	// advertised through for local auto-bind. Defaults to
	// registry.Default().
	Registry *registry.Registry

	Metrics         *reliability.Metrics
	HeartbeatPeriod time.Duration
	FragmentSize    int
	Logger          *slog.Logger
}

// Writer is one built writer endpoint.
type Writer struct {
	cfg      Config
	log      *slog.Logger
	topicKey ddsid.TopicKey
	order    binary.ByteOrder

	seq atomic.Int64

	pool   *slab.Pool
	merger *merger.Merger

	history *history.Cache

	regToken registry.Token

	reliable *reliability.Engine

	mu      sync.RWMutex
	readers map[ddsid.GUID]ddsid.Locator // every matched remote reader, by GUID
}

// needsHistoryCache reports whether a writer of the given policy needs a
// history cache at all (§4.7, §4.8, builder derivation rules): Reliable
// writers always get one (for retransmission); BestEffort writers only
// need one when durability requires replaying to late joiners.
func needsHistoryCache(p qos.Policy) bool {
	if p.Reliability == qos.Reliable {
		return true
	}
	return p.Durability == qos.TransientLocal || p.Durability == qos.Persistent
}

// derivedHistoryPolicy converts a QoS History/ResourceLimits pair into
// the history package's eviction policy, after validating the QoS
// invariants (§3, §4.14).
func derivedHistoryPolicy(p qos.Policy) (history.Policy, error) {
	if err := p.Validate(); err != nil {
		return history.Policy{}, fmt.Errorf("writer: invalid qos policy: %w", err)
	}
	return history.Policy{
		KeepAll:    p.History.KeepAll,
		KeepLastN:  p.History.Depth,
		MaxSamples: p.ResourceLimits.MaxSamples,
	}, nil
}

// Build assembles a writer endpoint: derives its history policy,
// constructs a history cache and merger when needed, registers it with
// the domain registry for intra-process auto-bind, and — for Reliable
// writers — starts a reliability engine for heartbeats, ACKNACK
// retransmission, and NACK_FRAG repair.
func Build(ctx context.Context, cfg Config) (*Writer, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("writer: %w", err)
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.FragmentSize <= 0 {
		cfg.FragmentSize = DefaultFragmentSize
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = reliability.DefaultHeartbeatPeriod
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "writer", "topic", cfg.TopicName, "guid", cfg.WriterGUID.String())

	w := &Writer{
		cfg:      cfg,
		log:      log,
		topicKey: ddsid.NewTopicKey(cfg.TopicName, cfg.TypeName),
		order:    binary.LittleEndian,
		pool:     cfg.Pool,
		readers:  make(map[ddsid.GUID]ddsid.Locator),
	}

	if needsHistoryCache(cfg.Policy) {
		hp, err := derivedHistoryPolicy(cfg.Policy)
		if err != nil {
			return nil, err
		}
		w.history = history.New(hp)
	}

	if cfg.Pool != nil {
		w.merger = merger.New(cfg.Pool)
		if w.history != nil && cfg.Policy.Durability != qos.Volatile {
			w.merger.EnableHistory(w.history)
		}
	}

	if w.merger != nil {
		w.regToken = cfg.Registry.RegisterWriter(cfg.DomainID, w.topicKey, &registry.Endpoint{
			GUID:   cfg.WriterGUID,
			Kind:   ddsid.KindWriter,
			Policy: cfg.Policy,
			Merger: w.merger,
		})
	}

	if cfg.Policy.Reliability == qos.Reliable {
		var sender reliability.Sender
		if cfg.Transport != nil {
			sender = senderAdapter{cfg.Transport}
		}
		w.reliable = reliability.New(cfg.WriterGUID, w.history, sender, cfg.Metrics, cfg.HeartbeatPeriod, cfg.FragmentSize)
		if cfg.Transport != nil {
			w.reliable.Start(ctx)
		}
	}

	log.Info("writer built", "reliable", cfg.Policy.Reliability == qos.Reliable, "durability", cfg.Policy.Durability)
	return w, nil
}

// Close tears down the writer: stops the reliability engine, if any, and
// releases its domain registry slot.
func (w *Writer) Close() {
	if w.reliable != nil {
		w.reliable.Stop()
	}
	if w.merger != nil {
		w.regToken.Unregister()
	}
}

// TopicKey returns the (topic, type) key this writer was registered
// under.
func (w *Writer) TopicKey() ddsid.TopicKey { return w.topicKey }

// AddRemoteReader registers a remote reader matched to this writer by
// discovery: its locator is recorded for direct DATA/DATA_FRAG unicast
// on every subsequent Write. For a Reliable writer this additionally
// registers the reader with the reliability engine, which replays any
// transient-local history and takes over heartbeat/ACKNACK bookkeeping
// for it.
func (w *Writer) AddRemoteReader(guid ddsid.GUID, loc ddsid.Locator) {
	w.mu.Lock()
	w.readers[guid] = loc
	w.mu.Unlock()

	if w.reliable != nil {
		w.reliable.AddRemoteReader(guid, loc)
		return
	}

	if w.history == nil {
		return
	}
	for _, entry := range w.history.SnapshotPayloads() {
		pkt := w.buildData(guid.Entity, entry.Seq, entry.Payload)
		w.sendTo(loc, pkt)
	}
}

// RemoveRemoteReader drops a remote reader that is no longer matched.
func (w *Writer) RemoveRemoteReader(guid ddsid.GUID) {
	w.mu.Lock()
	delete(w.readers, guid)
	w.mu.Unlock()

	if w.reliable != nil {
		w.reliable.RemoveRemoteReader(guid)
	}
}

// HandleAckNack forwards an ACKNACK submessage to the reliability
// engine. A no-op for BestEffort writers (they have none).
func (w *Writer) HandleAckNack(reader ddsid.GUID, ack rtps.AckNack) {
	if w.reliable != nil {
		w.reliable.HandleAckNack(reader, ack)
	}
}

// HandleNackFrag forwards a NACK_FRAG submessage to the reliability
// engine. A no-op for BestEffort writers.
func (w *Writer) HandleNackFrag(reader ddsid.GUID, nf rtps.NackFrag) {
	if w.reliable != nil {
		w.reliable.HandleNackFrag(reader, nf)
	}
}

// remoteReadersSnapshot copies every matched remote reader's locator. New
// DATA is unicast to all of them on every Write regardless of
// reliability kind; a Reliable writer's reliability engine separately
// tracks them for heartbeat/ACKNACK-driven retransmission on top of this
// initial send.
func (w *Writer) remoteReadersSnapshot() map[ddsid.GUID]ddsid.Locator {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[ddsid.GUID]ddsid.Locator, len(w.readers))
	for guid, loc := range w.readers {
		out[guid] = loc
	}
	return out
}

// Write publishes one serialized sample (§4.14): reserves an
// intra-process slab slot when local readers exist, sends DATA or
// DATA_FRAG to every known remote reader, inserts into the history
// cache, and commits the merger push. Slab exhaustion only skips
// intra-process delivery — Write still proceeds with remote send and
// history retention, per the error taxonomy in §4.14.
func (w *Writer) Write(payload []byte, instance ddsid.InstanceHandle) (ddsid.SequenceNumber, error) {
	seq := ddsid.SequenceNumber(w.seq.Add(1))
	now := uint64(time.Now().UnixNano())

	var entry ring.Entry
	var slabHandle slab.Handle
	haveIntraProcess := false
	if w.merger != nil && w.pool != nil && w.merger.ReaderCount() > 0 {
		if h, buf, ok := w.pool.Reserve(len(payload)); ok {
			copy(buf, payload)
			w.pool.Commit(h, len(payload))
			slabHandle = h
			entry = ring.Entry{Seq: seq, Handle: h, Len: uint32(len(payload)), TimestampNs: now}
			haveIntraProcess = true
		} else {
			w.log.Debug("slab pool full, skipping intra-process delivery", "seq", int64(seq))
		}
	}

	if err := w.sendRemote(seq, payload); err != nil {
		if haveIntraProcess {
			w.pool.Release(slabHandle)
		}
		return 0, err
	}

	if haveIntraProcess {
		w.merger.Push(entry)
	}

	if w.history != nil {
		if err := w.history.Insert(history.Entry{Seq: seq, Payload: payload, Instance: instance, TimestampNs: now}); err != nil {
			w.log.Debug("history cache insert failed", "seq", int64(seq), "error", err)
		}
	}

	return seq, nil
}

// sendRemote builds and unicasts DATA or DATA_FRAG to every known
// remote reader, fragmenting when payload exceeds FragmentThreshold.
func (w *Writer) sendRemote(seq ddsid.SequenceNumber, payload []byte) error {
	if w.cfg.Transport == nil {
		return nil
	}

	readers := w.remoteReadersSnapshot()
	if len(readers) == 0 {
		return nil
	}

	fragment := len(payload) > FragmentThreshold

	for guid, loc := range readers {
		if fragment {
			frags := w.buildDataFrags(guid.Entity, seq, payload)
			if len(frags) == 0 {
				return ErrBufferTooSmall
			}
			for _, frag := range frags {
				w.sendTo(loc, frag)
			}
			continue
		}

		pkt := w.buildData(guid.Entity, seq, payload)
		if len(pkt) == 0 {
			return ErrBufferTooSmall
		}
		w.sendTo(loc, pkt)
	}
	return nil
}

func (w *Writer) buildData(readerEntity ddsid.EntityID, seq ddsid.SequenceNumber, payload []byte) []byte {
	d := rtps.Data{
		ReaderEntityID:    readerEntity,
		WriterEntityID:    w.cfg.WriterGUID.Entity,
		WriterSN:          seq,
		Encapsulation:     rtps.EncapsulationHeader{Kind: rtps.EncapsulationCDR_LE},
		SerializedPayload: payload,
		HasPayload:        true,
	}
	return d.MarshalSubmessage(w.order)
}

func (w *Writer) buildDataFrags(readerEntity ddsid.EntityID, seq ddsid.SequenceNumber, payload []byte) [][]byte {
	size := w.cfg.FragmentSize
	if size <= 0 {
		size = DefaultFragmentSize
	}
	total := (len(payload) + size - 1) / size
	if total == 0 || total > 0xffff {
		return nil
	}

	out := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := start + size
		if end > len(payload) {
			end = len(payload)
		}
		df := rtps.DataFrag{
			ReaderEntityID:    readerEntity,
			WriterEntityID:    w.cfg.WriterGUID.Entity,
			WriterSN:          seq,
			FragmentStartNum:  uint32(i + 1),
			FragmentsInSubmsg: 1,
			FragmentSize:      uint16(size),
			SampleSize:        uint32(len(payload)),
			Encapsulation:     rtps.EncapsulationHeader{Kind: rtps.EncapsulationCDR_LE},
			FragmentData:      payload[start:end],
		}
		out = append(out, df.MarshalSubmessage(w.order))
	}
	return out
}

func (w *Writer) sendTo(loc ddsid.Locator, payload []byte) {
	if err := w.cfg.Transport.SendUserData(loc, payload); err != nil {
		w.log.Debug("transport send failed", "error", err)
	}
}

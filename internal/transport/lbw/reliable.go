package lbw

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReliableConfig parameterizes the small-window reliable sender/receiver
// pair used for P0/CONTROL streams (§4.11).
type ReliableConfig struct {
	WindowSize uint32
	Timeout    time.Duration
	MaxRetries uint32
}

// DefaultReliableConfig matches the satellite/tactical-radio defaults:
// a small window of 2, one-second retransmit timeout, five retries.
func DefaultReliableConfig() ReliableConfig {
	return ReliableConfig{WindowSize: 2, Timeout: time.Second, MaxRetries: 5}
}

func seqLE(a, b uint32) bool {
	diff := b - a
	return diff < 0x8000_0000
}

type inFlight struct {
	seq       uint32
	streamID  uint8
	data      []byte
	lastSent  time.Time
	retries   uint32
	backoff   backoff.BackOff
	nextDelay time.Duration
}

// TransmitMessage is a unit of work handed to the caller's link send loop.
type TransmitMessage struct {
	Seq          uint32
	StreamID     uint8
	Data         []byte
	IsRetransmit bool
}

// ReliableSenderStats tracks outcomes across all streams of one sender.
type ReliableSenderStats struct {
	MessagesSent   uint64
	Retransmits    uint64
	MessagesAcked  uint64
	MessagesFailed uint64
}

// ReliableSender holds one outstanding window of unacked messages per
// stream and retransmits on a per-message timeout.
type ReliableSender struct {
	cfg      ReliableConfig
	inFlight map[uint8][]*inFlight
	nextSeq  map[uint8]uint32
	pending  []*inFlight
	stats    ReliableSenderStats
}

// NewReliableSender constructs a sender with cfg.
func NewReliableSender(cfg ReliableConfig) *ReliableSender {
	return &ReliableSender{
		cfg:      cfg,
		inFlight: make(map[uint8][]*inFlight),
		nextSeq:  make(map[uint8]uint32),
	}
}

func (s *ReliableSender) windowUsed(streamID uint8) int { return len(s.inFlight[streamID]) }

func (s *ReliableSender) windowAvailable(streamID uint8) bool {
	return s.windowUsed(streamID) < int(s.cfg.WindowSize)
}

func (s *ReliableSender) newBackOff() backoff.BackOff {
	b := backoff.NewConstantBackOff(s.cfg.Timeout)
	return b
}

// Send queues data for reliable delivery on streamID and returns the
// sequence number assigned to it.
func (s *ReliableSender) Send(streamID uint8, data []byte) uint32 {
	seq := s.nextSeq[streamID]
	s.nextSeq[streamID] = seq + 1

	msg := &inFlight{seq: seq, streamID: streamID, data: data, lastSent: time.Time{}, backoff: s.newBackOff(), nextDelay: s.cfg.Timeout}
	if s.windowAvailable(streamID) {
		s.inFlight[streamID] = append(s.inFlight[streamID], msg)
	} else {
		s.pending = append(s.pending, msg)
	}
	return seq
}

func (s *ReliableSender) promotePending() {
	var remaining []*inFlight
	for _, msg := range s.pending {
		if s.windowAvailable(msg.streamID) {
			s.inFlight[msg.streamID] = append(s.inFlight[msg.streamID], msg)
		} else {
			remaining = append(remaining, msg)
		}
	}
	s.pending = remaining
}

// PollSend returns the next message needing (re)transmission, or nil if
// none is due right now.
func (s *ReliableSender) PollSend(now time.Time) *TransmitMessage {
	s.promotePending()

	for _, queue := range s.inFlight {
		for _, msg := range queue {
			if msg.retries >= s.cfg.MaxRetries {
				continue
			}
			needsSend := msg.retries == 0 || now.Sub(msg.lastSent) >= msg.nextDelay
			if !needsSend {
				continue
			}
			isRetransmit := msg.retries > 0
			msg.lastSent = now
			msg.retries++
			msg.nextDelay = msg.backoff.NextBackOff()

			if isRetransmit {
				s.stats.Retransmits++
			} else {
				s.stats.MessagesSent++
			}
			return &TransmitMessage{Seq: msg.seq, StreamID: msg.streamID, Data: msg.data, IsRetransmit: isRetransmit}
		}
	}
	return nil
}

// OnAck removes every in-flight message on ack.StreamID with seq <= ack.LastSeq.
func (s *ReliableSender) OnAck(ack Ack) {
	queue := s.inFlight[ack.StreamID]
	i := 0
	for ; i < len(queue); i++ {
		if !seqLE(queue[i].seq, ack.LastSeq) {
			break
		}
		s.stats.MessagesAcked++
	}
	s.inFlight[ack.StreamID] = queue[i:]
	s.promotePending()
}

// Tick drops messages that exceeded MaxRetries, counting them as failed.
func (s *ReliableSender) Tick() {
	for streamID, queue := range s.inFlight {
		var kept []*inFlight
		for _, msg := range queue {
			if msg.retries >= s.cfg.MaxRetries {
				s.stats.MessagesFailed++
				continue
			}
			kept = append(kept, msg)
		}
		s.inFlight[streamID] = kept
	}
}

// HasPending reports whether any message is queued or in flight.
func (s *ReliableSender) HasPending() bool {
	if len(s.pending) > 0 {
		return true
	}
	for _, q := range s.inFlight {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

// Stats returns a snapshot of sender counters.
func (s *ReliableSender) Stats() ReliableSenderStats { return s.stats }

// ReliableReceiverStats tracks delivery outcomes across all streams.
type ReliableReceiverStats struct {
	MessagesReceived  uint64
	MessagesDelivered uint64
	DuplicatesDropped uint64
	OutOfOrderDropped uint64
}

type receiverStreamState struct {
	lastDelivered     uint32
	haveLastDelivered bool
}

// ReliableReceiver delivers messages strictly in order per stream,
// dropping duplicates and gaps (§4.11: "in-order delivery only").
type ReliableReceiver struct {
	streams map[uint8]*receiverStreamState
	stats   ReliableReceiverStats
}

// NewReliableReceiver constructs an empty receiver.
func NewReliableReceiver() *ReliableReceiver {
	return &ReliableReceiver{streams: make(map[uint8]*receiverStreamState)}
}

// OnReceive processes one received message. It returns (data, true) when
// the message is the next expected one on its stream and should be
// delivered to the application; duplicates and out-of-order messages
// return (nil, false).
func (r *ReliableReceiver) OnReceive(streamID uint8, seq uint32, data []byte) ([]byte, bool) {
	r.stats.MessagesReceived++

	state, ok := r.streams[streamID]
	if !ok {
		state = &receiverStreamState{}
		r.streams[streamID] = state
	}

	if !state.haveLastDelivered {
		state.lastDelivered = seq
		state.haveLastDelivered = true
		r.stats.MessagesDelivered++
		return data, true
	}

	expected := state.lastDelivered + 1
	switch {
	case seq == expected:
		state.lastDelivered = seq
		r.stats.MessagesDelivered++
		return data, true
	case seqLE(seq, state.lastDelivered):
		r.stats.DuplicatesDropped++
		return nil, false
	default:
		r.stats.OutOfOrderDropped++
		return nil, false
	}
}

// LastDelivered returns the last in-order sequence delivered on streamID.
func (r *ReliableReceiver) LastDelivered(streamID uint8) (uint32, bool) {
	state, ok := r.streams[streamID]
	if !ok || !state.haveLastDelivered {
		return 0, false
	}
	return state.lastDelivered, true
}

// CreateAck builds a cumulative ACK for streamID, or false if nothing has
// been delivered on it yet.
func (r *ReliableReceiver) CreateAck(streamID uint8) (Ack, bool) {
	last, ok := r.LastDelivered(streamID)
	if !ok {
		return Ack{}, false
	}
	return Ack{StreamID: streamID, LastSeq: last}, true
}

// Stats returns a snapshot of receiver counters.
func (r *ReliableReceiver) Stats() ReliableReceiverStats { return r.stats }

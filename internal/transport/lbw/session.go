package lbw

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hdds-go/hdds/internal/security"
)

// SessionConfig configures one LBW session endpoint (§4.11).
type SessionConfig struct {
	NodeID          uint8
	Features        uint8
	MTU             uint16
	HelloInterval   time.Duration
	HelloMaxRetries uint32
	SessionTimeout  time.Duration

	// PSK, if set, derives a per-handshake session key once the peer's
	// NodeID and map_epoch are known (onHello), via
	// security.DeriveSessionKey. Leave nil to run without link-layer key
	// material, e.g. when the underlying transport is already secured.
	PSK []byte
}

// DefaultSessionConfig mirrors the reference handshake budget: 500ms
// HELLO interval times 10 retries is a 5 second handshake ceiling.
func DefaultSessionConfig(nodeID uint8) SessionConfig {
	return SessionConfig{
		NodeID:          nodeID,
		Features:        FeatureDelta | FeatureCompression | FeatureFragmentation,
		MTU:             256,
		HelloInterval:   500 * time.Millisecond,
		HelloMaxRetries: 10,
		SessionTimeout:  30 * time.Second,
	}
}

// SessionState is a node in the handshake/liveness state machine (§4.11).
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateEstablished
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateEstablished:
		return "Established"
	case StateFailed:
		return "Failed"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// NegotiatedParams is the conservative intersection computed during HELLO
// exchange: the smaller MTU and only mutually supported features.
type NegotiatedParams struct {
	MTU             uint16
	Features        uint8
	RemoteNodeID    uint8
	RemoteSessionID uint16
}

// SessionStats counts handshake and traffic events for diagnostics.
type SessionStats struct {
	HellosSent     uint32
	HellosReceived uint32
	FramesSent     uint64
	FramesReceived uint64
	RetryCount     uint32
}

// Session drives the Idle -> Connecting -> Established/Failed -> Closed
// state machine for one LBW peer connection.
type Session struct {
	cfg SessionConfig

	state        SessionState
	sessionID    uint16
	mapEpoch     uint16
	frameSeq     uint32
	helloBackoff backoff.BackOff
	helloSentAt  time.Time
	helloRetries uint32
	lastActivity time.Time
	negotiated   *NegotiatedParams
	stats        SessionStats
	pendingSend  []byte
	metrics      sessionRecorder
	sessionKey   []byte
}

// sessionRecorder is the subset of *metrics.LBWMetrics a Session needs;
// kept as an interface so this package has no dependency on the metrics
// package when no recorder is attached.
type sessionRecorder interface {
	IncHelloRetries()
	IncHandshakeFail()
}

// SetMetrics attaches a recorder observing HELLO retries and handshake
// failures. Safe to call once, before Start.
func (s *Session) SetMetrics(m sessionRecorder) { s.metrics = m }

func randomSessionID() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint16(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint16(b[:])
}

// NewSession constructs a session in the Idle state.
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		cfg:          cfg,
		state:        StateIdle,
		sessionID:    randomSessionID(),
		lastActivity: time.Now(),
	}
}

func (s *Session) State() SessionState           { return s.state }
func (s *Session) IsEstablished() bool           { return s.state == StateEstablished }
func (s *Session) IsConnecting() bool            { return s.state == StateConnecting }
func (s *Session) IsFailed() bool                { return s.state == StateFailed }
func (s *Session) SessionID() uint16             { return s.sessionID }
func (s *Session) Negotiated() *NegotiatedParams { return s.negotiated }
func (s *Session) Stats() SessionStats           { return s.stats }

// SessionKey returns the key derived for the current handshake, or nil
// if cfg.PSK was unset or negotiation hasn't completed yet.
func (s *Session) SessionKey() []byte { return s.sessionKey }

// EffectiveMTU returns the negotiated MTU once established, else the
// locally configured one.
func (s *Session) EffectiveMTU() uint16 {
	if s.negotiated != nil {
		return s.negotiated.MTU
	}
	return s.cfg.MTU
}

// Start begins the handshake: Idle -> Connecting, queuing the first HELLO.
func (s *Session) Start() {
	if s.state != StateIdle {
		return
	}
	s.state = StateConnecting
	s.helloRetries = 0
	s.helloBackoff = backoff.NewConstantBackOff(s.cfg.HelloInterval)
	s.queueHello()
}

// Close ends the session; Reset is required before reuse.
func (s *Session) Close() {
	s.state = StateClosed
	s.negotiated = nil
	s.pendingSend = nil
}

// Reset returns the session to Idle with a freshly generated session ID.
func (s *Session) Reset() {
	s.state = StateIdle
	s.sessionID = randomSessionID()
	s.mapEpoch = 0
	s.frameSeq = 0
	s.helloRetries = 0
	s.lastActivity = time.Now()
	s.negotiated = nil
	s.pendingSend = nil
	s.sessionKey = nil
}

func (s *Session) queueHello() {
	hello := Hello{
		ProtoVer:  1,
		Features:  s.cfg.Features,
		MTU:       s.cfg.MTU,
		NodeID:    s.cfg.NodeID,
		SessionID: s.sessionID,
		MapEpoch:  s.mapEpoch,
	}

	var ctrlBuf [HelloSize]byte
	ctrlLen, err := hello.Encode(ctrlBuf[:])
	if err != nil {
		return
	}

	var recordBuf [RecordHeaderSize + HelloSize]byte
	recordLen, err := EncodeRecord(Record{StreamID: StreamControl, Type: CtrlTypeHello, Payload: ctrlBuf[:ctrlLen]}, recordBuf[:])
	if err != nil {
		return
	}

	frameBuf := make([]byte, FrameHeaderSize+recordLen)
	frameLen, err := EncodeFrame(FrameHeader{SessionID: s.sessionID, Seq: s.frameSeq}, recordBuf[:recordLen], frameBuf)
	if err != nil {
		return
	}
	s.frameSeq++

	s.pendingSend = frameBuf[:frameLen]
	s.helloSentAt = time.Now()
	s.stats.HellosSent++
}

// PollSend returns a pending frame to transmit, if any.
func (s *Session) PollSend() []byte {
	out := s.pendingSend
	s.pendingSend = nil
	return out
}

// Tick drives retry and timeout logic; call periodically (§5: "sleeps in
// periodic timers").
func (s *Session) Tick(now time.Time) {
	switch s.state {
	case StateConnecting:
		if s.helloSentAt.IsZero() {
			return
		}
		if now.Sub(s.helloSentAt) >= s.cfg.HelloInterval {
			s.helloRetries++
			s.stats.RetryCount = s.helloRetries
			if s.helloBackoff != nil {
				s.helloBackoff.NextBackOff()
			}
			if s.metrics != nil {
				s.metrics.IncHelloRetries()
			}
			if s.helloRetries >= s.cfg.HelloMaxRetries {
				s.state = StateFailed
				if s.metrics != nil {
					s.metrics.IncHandshakeFail()
				}
			} else {
				s.queueHello()
			}
		}
	case StateEstablished:
		if now.Sub(s.lastActivity) >= s.cfg.SessionTimeout {
			s.state = StateFailed
		}
	}
}

// OnReceive processes one decoded frame addressed to this session.
func (s *Session) OnReceive(h FrameHeader, records []Record) error {
	s.lastActivity = time.Now()
	s.stats.FramesReceived++

	for _, rec := range records {
		if rec.StreamID != StreamControl || rec.Type != CtrlTypeHello {
			continue
		}
		hello, err := DecodeHello(rec.Payload)
		if err != nil {
			return fmt.Errorf("lbw: decode HELLO: %w", err)
		}
		s.stats.HellosReceived++
		s.onHello(hello)
	}
	return nil
}

func (s *Session) onHello(hello Hello) {
	negotiated := NegotiatedParams{
		MTU:             minUint16(s.cfg.MTU, hello.MTU),
		Features:        s.cfg.Features & hello.Features,
		RemoteNodeID:    hello.NodeID,
		RemoteSessionID: hello.SessionID,
	}
	s.negotiated = &negotiated

	if len(s.cfg.PSK) > 0 {
		info := security.MapEpochInfo(s.cfg.NodeID, hello.NodeID, hello.MapEpoch)
		if key, err := security.DeriveSessionKey(s.cfg.PSK, info, 32); err == nil {
			s.sessionKey = key
		}
	}

	switch s.state {
	case StateIdle:
		// Passive open: a peer's HELLO arrived before we called Start.
		s.state = StateEstablished
	case StateConnecting:
		s.state = StateEstablished
		s.pendingSend = nil
	case StateEstablished:
		// Peer retransmitted HELLO (e.g. it never saw our reply); stay established.
	}
}

func minUint16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

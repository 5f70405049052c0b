package lbw

import (
	"encoding/binary"
	"fmt"
)

// Feature bits negotiated during HELLO (§4.11). Negotiated features are
// the bitwise AND of both peers' masks.
const (
	FeatureDelta         = 1 << 0
	FeatureCompression   = 1 << 1
	FeatureFragmentation = 1 << 2
)

// HelloSize is the encoded size of a Hello control record.
const HelloSize = 9

// Hello carries the parameters needed for session negotiation.
type Hello struct {
	ProtoVer  uint8
	Features  uint8
	MTU       uint16
	NodeID    uint8
	SessionID uint16
	MapEpoch  uint16
}

// Encode writes h into buf (caller-sized, at least HelloSize bytes).
func (h Hello) Encode(buf []byte) (int, error) {
	if len(buf) < HelloSize {
		return 0, fmt.Errorf("lbw: hello buffer too small: need %d, have %d", HelloSize, len(buf))
	}
	buf[0] = h.ProtoVer
	buf[1] = h.Features
	binary.LittleEndian.PutUint16(buf[2:4], h.MTU)
	buf[4] = h.NodeID
	binary.LittleEndian.PutUint16(buf[5:7], h.SessionID)
	binary.LittleEndian.PutUint16(buf[7:9], h.MapEpoch)
	return HelloSize, nil
}

// DecodeHello parses a Hello control record.
func DecodeHello(buf []byte) (Hello, error) {
	if len(buf) < HelloSize {
		return Hello{}, fmt.Errorf("lbw: hello truncated: %d bytes", len(buf))
	}
	return Hello{
		ProtoVer:  buf[0],
		Features:  buf[1],
		MTU:       binary.LittleEndian.Uint16(buf[2:4]),
		NodeID:    buf[4],
		SessionID: binary.LittleEndian.Uint16(buf[5:7]),
		MapEpoch:  binary.LittleEndian.Uint16(buf[7:9]),
	}, nil
}

// AckSize is the encoded size of an Ack control record.
const AckSize = 9

// Ack cumulatively acknowledges a reliable stream up to LastSeq. Bitmask
// is reserved for a future selective-ACK extension.
type Ack struct {
	StreamID uint8
	LastSeq  uint32
	Bitmask  uint32
}

// Encode writes a into buf.
func (a Ack) Encode(buf []byte) (int, error) {
	if len(buf) < AckSize {
		return 0, fmt.Errorf("lbw: ack buffer too small: need %d, have %d", AckSize, len(buf))
	}
	buf[0] = a.StreamID
	binary.LittleEndian.PutUint32(buf[1:5], a.LastSeq)
	binary.LittleEndian.PutUint32(buf[5:9], a.Bitmask)
	return AckSize, nil
}

// DecodeAck parses an Ack control record.
func DecodeAck(buf []byte) (Ack, error) {
	if len(buf) < AckSize {
		return Ack{}, fmt.Errorf("lbw: ack truncated: %d bytes", len(buf))
	}
	return Ack{
		StreamID: buf[0],
		LastSeq:  binary.LittleEndian.Uint32(buf[1:5]),
		Bitmask:  binary.LittleEndian.Uint32(buf[5:9]),
	}, nil
}

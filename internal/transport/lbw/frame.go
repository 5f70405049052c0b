// Package lbw implements the constrained-link session transport (C11,
// §4.11, §6.4): a framed protocol with a HELLO handshake and a small
// reliable window, intended for satellite/tactical-radio links where the
// RTPS UDP plane is too chatty.
package lbw

import (
	"encoding/binary"
	"fmt"
)

// FrameHeaderSize is the fixed-size prefix of every frame: session_id(2) | seq(4).
const FrameHeaderSize = 6

// FrameHeader identifies the session and the monotonically increasing
// frame sequence used for link-level diagnostics (distinct from the
// per-stream reliable sequence carried inside records).
type FrameHeader struct {
	SessionID uint16
	Seq       uint32
}

// EncodeFrame writes header and the already-encoded record bytes into buf,
// returning the number of bytes written.
func EncodeFrame(h FrameHeader, records []byte, buf []byte) (int, error) {
	total := FrameHeaderSize + len(records)
	if len(buf) < total {
		return 0, fmt.Errorf("lbw: frame buffer too small: need %d, have %d", total, len(buf))
	}
	binary.LittleEndian.PutUint16(buf[0:2], h.SessionID)
	binary.LittleEndian.PutUint32(buf[2:6], h.Seq)
	copy(buf[FrameHeaderSize:total], records)
	return total, nil
}

// DecodeFrame splits a received frame into its header and record bytes.
func DecodeFrame(data []byte) (FrameHeader, []byte, error) {
	if len(data) < FrameHeaderSize {
		return FrameHeader{}, nil, fmt.Errorf("lbw: frame truncated: %d bytes", len(data))
	}
	h := FrameHeader{
		SessionID: binary.LittleEndian.Uint16(data[0:2]),
		Seq:       binary.LittleEndian.Uint32(data[2:6]),
	}
	return h, data[FrameHeaderSize:], nil
}

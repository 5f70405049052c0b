// Package rtps implements the RTPS 2.x wire codec (C5, §4.5, §6.1):
// message/submessage headers, the parameter-list format used by SPDP/SEDP,
// the SequenceNumberSet bitmap, and DATA/DATA_FRAG/HEARTBEAT/ACKNACK/
// NACK_FRAG/INFO_TS/INFO_DST encode/decode.
package rtps

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// Errors matching the taxonomy in §7 (malformed input is dropped, never
// panicked on).
var (
	ErrTruncatedData      = errors.New("rtps: truncated data")
	ErrInvalidFormat      = errors.New("rtps: invalid format")
	ErrVersionMismatch    = errors.New("rtps: version mismatch")
	ErrInvalidEncapsulation = errors.New("rtps: invalid encapsulation")
	ErrUnknownSubmessage  = errors.New("rtps: unknown submessage")
)

// Magic is the 4-byte RTPS message identifier (§6.1).
var Magic = [4]byte{'R', 'T', 'P', 'S'}

// ProtocolVersion is the (major, minor) RTPS version carried in the
// header. The dialect table (internal/rtps/dialect) picks between 2.3 and
// 2.4 at build time (§4.5).
type ProtocolVersion struct {
	Major uint8
	Minor uint8
}

// VendorID identifies the implementation that produced a packet.
type VendorID [2]byte

// HeaderLen is the fixed size of the RTPS message header (§6.1).
const HeaderLen = 20

// Header is the 20-byte RTPS message header: magic | version | vendor id
// | guid prefix (§6.1).
type Header struct {
	Version    ProtocolVersion
	VendorID   VendorID
	GUIDPrefix ddsid.GUIDPrefix
}

// Marshal encodes the header.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderLen)
	copy(buf[0:4], Magic[:])
	buf[4] = h.Version.Major
	buf[5] = h.Version.Minor
	buf[6] = h.VendorID[0]
	buf[7] = h.VendorID[1]
	copy(buf[8:20], h.GUIDPrefix[:])
	return buf
}

// ParseHeader decodes and validates the 20-byte RTPS message header.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncatedData, HeaderLen, len(buf))
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return Header{}, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}
	var h Header
	h.Version = ProtocolVersion{Major: buf[4], Minor: buf[5]}
	if h.Version.Major != 2 {
		return Header{}, fmt.Errorf("%w: major version %d", ErrVersionMismatch, h.Version.Major)
	}
	h.VendorID = VendorID{buf[6], buf[7]}
	copy(h.GUIDPrefix[:], buf[8:20])
	return h, nil
}

// SubmessageID identifies a submessage kind (§6.1 table).
type SubmessageID byte

const (
	SubmsgACKNACK       SubmessageID = 0x06
	SubmsgHeartbeat     SubmessageID = 0x07
	SubmsgInfoTS        SubmessageID = 0x09
	SubmsgInfoDST       SubmessageID = 0x0e
	SubmsgNackFrag      SubmessageID = 0x12
	SubmsgHeartbeatFrag SubmessageID = 0x13
	SubmsgData          SubmessageID = 0x15
	SubmsgDataFrag      SubmessageID = 0x16
)

// SubmessageFlags is the single flags byte of a submessage header. Bit 0
// selects endianness for the submessage body; bit 1's meaning varies by
// submessage kind (§4.5).
type SubmessageFlags byte

const (
	FlagEndianness SubmessageFlags = 1 << 0
)

func (f SubmessageFlags) byteOrder() binary.ByteOrder {
	if f&FlagEndianness != 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// SubmessageHeader is the 4-byte header preceding every submessage body
// (§4.5, §6.1): id | flags | octets_to_next (endianness per flag bit 0).
type SubmessageHeader struct {
	ID            SubmessageID
	Flags         SubmessageFlags
	OctetsToNext  uint16
}

func (h SubmessageHeader) Marshal() []byte {
	buf := make([]byte, 4)
	buf[0] = byte(h.ID)
	buf[1] = byte(h.Flags)
	h.Flags.byteOrder().PutUint16(buf[2:4], h.OctetsToNext)
	return buf
}

func parseSubmessageHeader(buf []byte) (SubmessageHeader, error) {
	if len(buf) < 4 {
		return SubmessageHeader{}, fmt.Errorf("%w: submessage header", ErrTruncatedData)
	}
	h := SubmessageHeader{ID: SubmessageID(buf[0]), Flags: SubmessageFlags(buf[1])}
	h.OctetsToNext = h.Flags.byteOrder().Uint16(buf[2:4])
	return h, nil
}

// RawSubmessage is one parsed submessage: its header and body bytes
// (header already consumed).
type RawSubmessage struct {
	Header SubmessageHeader
	Body   []byte
}

// WalkSubmessages splits the bytes following the RTPS message header into
// individual submessages (§4.5). octets_to_next == 0 terminates walking
// immediately (the rest of the buffer, if any, belongs to the final
// submessage — per RTPS, a zero octets_to_next means "rest of message").
// Malformed lengths never panic: WalkSubmessages simply stops and returns
// what it parsed so far, since §7 requires droppable-not-fatal handling
// of TruncatedData.
func WalkSubmessages(buf []byte) []RawSubmessage {
	var out []RawSubmessage
	for len(buf) > 0 {
		hdr, err := parseSubmessageHeader(buf)
		if err != nil {
			return out
		}
		buf = buf[4:]
		if hdr.OctetsToNext == 0 {
			out = append(out, RawSubmessage{Header: hdr, Body: buf})
			return out
		}
		n := int(hdr.OctetsToNext)
		if n > len(buf) {
			// Truncated: the submessage claims more bytes than remain.
			// Saturate by taking what's there rather than panicking (§4.5).
			out = append(out, RawSubmessage{Header: hdr, Body: buf})
			return out
		}
		out = append(out, RawSubmessage{Header: hdr, Body: buf[:n]})
		buf = buf[n:]
	}
	return out
}

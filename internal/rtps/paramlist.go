package rtps

import (
	"encoding/binary"
	"fmt"
)

// ParameterID identifies one entry of a parameter list (§4.5, §6.1).
type ParameterID uint16

const (
	PIDSentinel                    ParameterID = 0x0001
	PIDParticipantLeaseDuration    ParameterID = 0x0002
	PIDDomainID                    ParameterID = 0x000f
	PIDProtocolVersion             ParameterID = 0x0015
	PIDVendorID                    ParameterID = 0x0016
	PIDDefaultUnicastLocator       ParameterID = 0x0031
	PIDMetatrafficUnicastLocator   ParameterID = 0x0032
	PIDMetatrafficMulticastLocator ParameterID = 0x0033
	PIDDefaultMulticastLocator     ParameterID = 0x0048
	PIDParticipantGUID             ParameterID = 0x0050
	PIDBuiltinEndpointSet          ParameterID = 0x0058
	PIDEndpointGUID                ParameterID = 0x005a
	PIDTopicName                   ParameterID = 0x0005
	PIDTypeName                    ParameterID = 0x0007
	PIDEntityName                  ParameterID = 0x0062

	// PIDQosHash carries the 8-byte QoS compatibility hash of an
	// advertised endpoint (SEDP, §4.12). It is a vendor-private extension
	// (no standard PID covers a precomputed QoS digest), hence its
	// placement in the vendor-private range.
	PIDQosHash ParameterID = 0x8010

	// PIDIdentityToken carries a participant's optional serialized
	// security identity token (§3), matching the DDS-Security
	// PID_IDENTITY_TOKEN assignment. Its internal structure is opaque to
	// SPDP; only internal/security interprets the bytes.
	PIDIdentityToken ParameterID = 0x1061

	// pidVendorRangeMin marks the start of the vendor-private PID range;
	// unknown PIDs at or above this are logged when skipped, below it
	// they're skipped silently (§4.5).
	pidVendorRangeMin ParameterID = 0x8000
)

// EncapsulationKind identifies the payload's CDR dialect and byte order
// (§6.1).
type EncapsulationKind uint16

const (
	EncapsulationCDR_BE  EncapsulationKind = 0x0002
	EncapsulationCDR_LE  EncapsulationKind = 0x0003
	EncapsulationCDR2_BE EncapsulationKind = 0x0102
	EncapsulationCDR2_LE EncapsulationKind = 0x0103
	EncapsulationVendor1 EncapsulationKind = 0x8001
	EncapsulationVendor2 EncapsulationKind = 0x8002
)

// EncapsulationHeaderLen is the fixed 4-byte header preceding a serialized
// payload (§6.1).
const EncapsulationHeaderLen = 4

// EncapsulationHeader is the 4-byte header at the start of a
// serialized_payload: encapsulation_kind(2, BE) | options(2) (§6.1).
type EncapsulationHeader struct {
	Kind    EncapsulationKind
	Options uint16
}

// IsCDR2 reports whether this encapsulation uses the CDR2 parameter
// alignment rules (4-byte padding per parameter, §4.5).
func (h EncapsulationHeader) IsCDR2() bool {
	return h.Kind == EncapsulationCDR2_BE || h.Kind == EncapsulationCDR2_LE
}

// ByteOrder returns the byte order the encapsulation kind selects for the
// payload body that follows the header.
func (h EncapsulationHeader) ByteOrder() binary.ByteOrder {
	switch h.Kind {
	case EncapsulationCDR_LE, EncapsulationCDR2_LE, EncapsulationVendor2:
		return binary.LittleEndian
	default:
		return binary.BigEndian
	}
}

// Marshal encodes the encapsulation header. The kind field is always
// big-endian regardless of the payload byte order it selects (§6.1).
func (h EncapsulationHeader) Marshal() []byte {
	buf := make([]byte, EncapsulationHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.Kind))
	binary.BigEndian.PutUint16(buf[2:4], h.Options)
	return buf
}

// ParseEncapsulationHeader decodes the 4-byte encapsulation header.
func ParseEncapsulationHeader(buf []byte) (EncapsulationHeader, error) {
	if len(buf) < EncapsulationHeaderLen {
		return EncapsulationHeader{}, fmt.Errorf("%w: encapsulation header", ErrTruncatedData)
	}
	kind := EncapsulationKind(binary.BigEndian.Uint16(buf[0:2]))
	switch kind {
	case EncapsulationCDR_BE, EncapsulationCDR_LE, EncapsulationCDR2_BE, EncapsulationCDR2_LE,
		EncapsulationVendor1, EncapsulationVendor2:
	default:
		return EncapsulationHeader{}, fmt.Errorf("%w: unknown kind 0x%04x", ErrInvalidEncapsulation, kind)
	}
	return EncapsulationHeader{Kind: kind, Options: binary.BigEndian.Uint16(buf[2:4])}, nil
}

// Parameter is one (pid, value) entry of a parameter list.
type Parameter struct {
	PID   ParameterID
	Value []byte
}

// ParameterList is a sequence of parameters terminated by PID_SENTINEL on
// the wire, used for inline QoS and SPDP/SEDP discovery data (§4.5).
type ParameterList struct {
	Params []Parameter
}

// Get returns the first parameter matching pid, if any.
func (pl ParameterList) Get(pid ParameterID) ([]byte, bool) {
	for _, p := range pl.Params {
		if p.PID == pid {
			return p.Value, true
		}
	}
	return nil, false
}

// Add appends a parameter.
func (pl *ParameterList) Add(pid ParameterID, value []byte) {
	pl.Params = append(pl.Params, Parameter{PID: pid, Value: value})
}

// pad4 rounds n up to the next multiple of 4.
func pad4(n int) int {
	return (n + 3) &^ 3
}

// Marshal encodes the parameter list, appending PID_SENTINEL with a
// zero-length value. When cdr2 is set, each parameter's value is padded
// to a 4-byte boundary (§4.5); CDR1 lists are already naturally aligned
// because length itself is what's encoded, with no extra padding beyond
// what the value requires.
func (pl ParameterList) Marshal(order binary.ByteOrder, cdr2 bool) []byte {
	var buf []byte
	for _, p := range pl.Params {
		length := len(p.Value)
		if cdr2 {
			length = pad4(length)
		}
		hdr := make([]byte, 4)
		order.PutUint16(hdr[0:2], uint16(p.PID))
		order.PutUint16(hdr[2:4], uint16(length))
		buf = append(buf, hdr...)
		buf = append(buf, p.Value...)
		if pad := length - len(p.Value); pad > 0 {
			buf = append(buf, make([]byte, pad)...)
		}
	}
	sentinel := make([]byte, 4)
	order.PutUint16(sentinel[0:2], uint16(PIDSentinel))
	buf = append(buf, sentinel...)
	return buf
}

// UnknownPIDHook is an optional hook invoked when ParseParameterList skips a
// parameter in the vendor-private PID range, so callers can log it
// per §4.5 ("logged if in vendor range"). nil means no logging.
type UnknownPIDHook func(pid ParameterID, value []byte)

// ParseParameterList decodes a parameter list from buf, stopping at
// PID_SENTINEL, and returns the number of bytes consumed (including the
// sentinel). Unknown PIDs are retained in the returned list (callers
// dispatch by PID themselves) — onUnknown, if non-nil, is additionally
// invoked for PIDs in the vendor-private range.
func ParseParameterList(buf []byte, order binary.ByteOrder, onUnknown UnknownPIDHook) (ParameterList, int, error) {
	var pl ParameterList
	offset := 0
	for {
		if len(buf)-offset < 4 {
			return ParameterList{}, 0, fmt.Errorf("%w: parameter header", ErrTruncatedData)
		}
		pid := ParameterID(order.Uint16(buf[offset : offset+2]))
		length := int(order.Uint16(buf[offset+2 : offset+4]))
		offset += 4
		if pid == PIDSentinel {
			return pl, offset, nil
		}
		if len(buf)-offset < length {
			return ParameterList{}, 0, fmt.Errorf("%w: parameter value (pid=0x%04x, len=%d)", ErrTruncatedData, pid, length)
		}
		value := make([]byte, length)
		copy(value, buf[offset:offset+length])
		offset += length
		pl.Params = append(pl.Params, Parameter{PID: pid, Value: value})
		if pid >= pidVendorRangeMin && onUnknown != nil {
			onUnknown(pid, value)
		}
	}
}

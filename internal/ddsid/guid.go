// Package ddsid defines the wire-level identity and addressing types shared
// by every subsystem: GUIDs, entity kinds, locators, and sequence numbers.
package ddsid

import (
	"encoding/binary"
	"fmt"
)

// GUIDPrefixLen is the size in bytes of the participant-identifying prefix
// of a GUID (§3).
const GUIDPrefixLen = 12

// EntityIDLen is the size in bytes of the entity id portion of a GUID.
const EntityIDLen = 4

// GUIDPrefix identifies a participant. It is shared by every entity the
// participant owns.
type GUIDPrefix [GUIDPrefixLen]byte

func (p GUIDPrefix) String() string {
	return fmt.Sprintf("%x", [GUIDPrefixLen]byte(p))
}

// EntityKind is the low byte of an EntityID; it encodes both the entity
// category (participant/reader/writer) and whether it is builtin
// (discovery) or user-defined.
type EntityKind byte

const (
	EntityKindParticipant    EntityKind = 0x01
	EntityKindWriterWithKey  EntityKind = 0x02
	EntityKindWriterNoKey    EntityKind = 0x03
	EntityKindReaderNoKey    EntityKind = 0x04
	EntityKindReaderWithKey  EntityKind = 0x07
	EntityKindWriterBuiltin  EntityKind = 0xC2
	EntityKindReaderBuiltin  EntityKind = 0xC7
	EntityKindParticipantBI  EntityKind = 0xC1
)

// IsBuiltin reports whether the entity kind belongs to a builtin
// (discovery) endpoint rather than a user endpoint.
func (k EntityKind) IsBuiltin() bool {
	return k&0xC0 == 0xC0
}

// EntityID identifies an endpoint within its owning participant. The final
// byte is the EntityKind.
type EntityID [EntityIDLen]byte

// Kind returns the entity kind encoded in the low byte of the id.
func (e EntityID) Kind() EntityKind { return EntityKind(e[3]) }

// Well-known builtin entity ids (RTPS spec, reused by SPDP/SEDP).
var (
	EntityIDUnknown          = EntityID{0x00, 0x00, 0x00, 0x00}
	EntityIDParticipant      = EntityID{0x00, 0x00, 0x01, byte(EntityKindParticipantBI)}
	EntityIDSPDPWriter       = EntityID{0x00, 0x01, 0x00, byte(EntityKindWriterBuiltin)}
	EntityIDSPDPReader       = EntityID{0x00, 0x01, 0x00, byte(EntityKindReaderBuiltin)}
	EntityIDSEDPPubWriter    = EntityID{0x00, 0x00, 0x03, byte(EntityKindWriterBuiltin)}
	EntityIDSEDPPubReader    = EntityID{0x00, 0x00, 0x03, byte(EntityKindReaderBuiltin)}
	EntityIDSEDPSubWriter    = EntityID{0x00, 0x00, 0x04, byte(EntityKindWriterBuiltin)}
	EntityIDSEDPSubReader    = EntityID{0x00, 0x00, 0x04, byte(EntityKindReaderBuiltin)}
)

// GUID is the 16-byte global identifier of a participant or endpoint (§3).
type GUID struct {
	Prefix GUIDPrefix
	Entity EntityID
}

func (g GUID) String() string {
	return fmt.Sprintf("%s:%x", g.Prefix, [EntityIDLen]byte(g.Entity))
}

// Bytes returns the 16-byte wire representation.
func (g GUID) Bytes() [16]byte {
	var out [16]byte
	copy(out[:12], g.Prefix[:])
	copy(out[12:], g.Entity[:])
	return out
}

// GUIDFromBytes parses a 16-byte wire GUID.
func GUIDFromBytes(b [16]byte) GUID {
	var g GUID
	copy(g.Prefix[:], b[:12])
	copy(g.Entity[:], b[12:])
	return g
}

// Kind enumerates whether an endpoint GUID belongs to a reader or writer;
// used by EndpointRecord (§3).
type Kind uint8

const (
	KindUnknown Kind = iota
	KindWriter
	KindReader
)

func (k Kind) String() string {
	switch k {
	case KindWriter:
		return "writer"
	case KindReader:
		return "reader"
	default:
		return "unknown"
	}
}

// LocatorKind identifies the transport of a Locator (§3/§6.1).
type LocatorKind int32

const (
	LocatorKindInvalid  LocatorKind = -1
	LocatorKindReserved LocatorKind = 0
	LocatorKindUDPv4    LocatorKind = 1
	LocatorKindUDPv6    LocatorKind = 2
	LocatorKindSHMem    LocatorKind = 0x10000001 // vendor extension for the SHM ring (C10)
)

// Locator is a transport address: kind, port, and a 16-byte address field
// (§3, §6.1). IPv4 addresses occupy the last four bytes.
type Locator struct {
	Kind    LocatorKind
	Port    uint32
	Address [16]byte
}

// NewUDPv4Locator builds a Locator for an IPv4 address/port pair.
func NewUDPv4Locator(a, b, c, d byte, port uint32) Locator {
	var loc Locator
	loc.Kind = LocatorKindUDPv4
	loc.Port = port
	loc.Address[12] = a
	loc.Address[13] = b
	loc.Address[14] = c
	loc.Address[15] = d
	return loc
}

// IPv4 returns the four address octets and true if this locator is UDPv4.
func (l Locator) IPv4() (a, b, c, d byte, ok bool) {
	if l.Kind != LocatorKindUDPv4 {
		return 0, 0, 0, 0, false
	}
	return l.Address[12], l.Address[13], l.Address[14], l.Address[15], true
}

func (l Locator) String() string {
	if a, b, c, d, ok := l.IPv4(); ok {
		return fmt.Sprintf("%d.%d.%d.%d:%d", a, b, c, d, l.Port)
	}
	return fmt.Sprintf("locator(kind=%d,port=%d)", l.Kind, l.Port)
}

// MarshalBinary encodes the locator in the 24-byte wire form (§6.1):
// kind(i32,LE) | port(u32,LE) | address(16 bytes).
func (l Locator) MarshalBinary() []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(l.Kind))
	binary.LittleEndian.PutUint32(buf[4:8], l.Port)
	copy(buf[8:24], l.Address[:])
	return buf
}

// UnmarshalLocator decodes a 24-byte wire locator.
func UnmarshalLocator(buf []byte) (Locator, error) {
	if len(buf) < 24 {
		return Locator{}, fmt.Errorf("locator: truncated input: %d bytes", len(buf))
	}
	var l Locator
	l.Kind = LocatorKind(int32(binary.LittleEndian.Uint32(buf[0:4])))
	l.Port = binary.LittleEndian.Uint32(buf[4:8])
	copy(l.Address[:], buf[8:24])
	return l, nil
}

// SequenceNumber is a 64-bit per-writer monotonic counter (§3). The wire
// form splits it into independent high/low 32-bit words; internally it is
// carried as a plain int64 throughout, per the Open Question in §9 (the
// 32-bit IndexEntry.Seq truncation in the original implementation is a
// latent bug this port deliberately does not reproduce).
type SequenceNumber int64

// SequenceNumberUnknown is the RTPS sentinel for "no sequence number".
const SequenceNumberUnknown SequenceNumber = 0

// Before returns true if a precedes b, correctly handling 64-bit
// wraparound per §3: (b - a) < 2^63.
func (a SequenceNumber) Before(b SequenceNumber) bool {
	return uint64(b-a) < (uint64(1) << 63)
}

// MarshalBinary encodes the sequence number as (high:i32,low:u32) in the
// given byte order (§3, §6.1).
func (s SequenceNumber) MarshalBinary(order binary.ByteOrder) []byte {
	buf := make([]byte, 8)
	v := uint64(s)
	order.PutUint32(buf[0:4], uint32(v>>32))
	order.PutUint32(buf[4:8], uint32(v))
	return buf
}

// UnmarshalSequenceNumber decodes an 8-byte (high,low) sequence number.
func UnmarshalSequenceNumber(buf []byte, order binary.ByteOrder) (SequenceNumber, error) {
	if len(buf) < 8 {
		return 0, fmt.Errorf("sequence number: truncated input: %d bytes", len(buf))
	}
	high := order.Uint32(buf[0:4])
	low := order.Uint32(buf[4:8])
	return SequenceNumber(int64(high)<<32 | int64(low)), nil
}

// InstanceHandle is a 16-byte identifier for a keyed data-object instance.
type InstanceHandle [16]byte

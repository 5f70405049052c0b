package lbw

import (
	"encoding/binary"
	"fmt"
)

// RecordHeaderSize is the fixed-size prefix of every record: stream_id(1) | type(1) | length(2).
const RecordHeaderSize = 4

// StreamControl is the reserved stream carrying HELLO/ACK control records.
// Streams 0-15 are reserved per §4.11; application data uses stream IDs 16+.
const StreamControl = 0

// Record control types.
const (
	CtrlTypeHello = 0x01
	CtrlTypeAck   = 0x02
)

// Record is one frame-level unit: a stream tag, a type byte, and a payload.
type Record struct {
	StreamID uint8
	Type     uint8
	Payload  []byte
}

// EncodeRecord writes r into buf and returns the bytes written.
func EncodeRecord(r Record, buf []byte) (int, error) {
	total := RecordHeaderSize + len(r.Payload)
	if len(buf) < total {
		return 0, fmt.Errorf("lbw: record buffer too small: need %d, have %d", total, len(buf))
	}
	if len(r.Payload) > 0xffff {
		return 0, fmt.Errorf("lbw: record payload %d bytes exceeds u16 length field", len(r.Payload))
	}
	buf[0] = r.StreamID
	buf[1] = r.Type
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(r.Payload)))
	copy(buf[RecordHeaderSize:total], r.Payload)
	return total, nil
}

// DecodeRecord parses the first record from buf and returns it along with
// the number of bytes consumed, so callers can walk a frame carrying
// several back-to-back records.
func DecodeRecord(buf []byte) (Record, int, error) {
	if len(buf) < RecordHeaderSize {
		return Record{}, 0, fmt.Errorf("lbw: record header truncated: %d bytes", len(buf))
	}
	length := int(binary.LittleEndian.Uint16(buf[2:4]))
	total := RecordHeaderSize + length
	if len(buf) < total {
		return Record{}, 0, fmt.Errorf("lbw: record payload truncated: need %d, have %d", total, len(buf))
	}
	r := Record{
		StreamID: buf[0],
		Type:     buf[1],
		Payload:  append([]byte(nil), buf[RecordHeaderSize:total]...),
	}
	return r, total, nil
}

// WalkRecords decodes every record packed into a frame's payload.
func WalkRecords(buf []byte) ([]Record, error) {
	var records []Record
	for len(buf) > 0 {
		r, n, err := DecodeRecord(buf)
		if err != nil {
			return records, err
		}
		records = append(records, r)
		buf = buf[n:]
	}
	return records, nil
}

// Package recording implements the on-disk ".hdds" capture format (C19,
// §6.3): a sequence of CRC-checked segments of timestamped samples,
// followed by a topic index and a JSON metadata trailer. The package only
// implements the wire encoding — opening files, rotating segments across
// multiple files, and deciding when to start/stop a capture belong to the
// caller, the same external-collaborator split the recording subsystem
// draws around file I/O.
package recording

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// Magic identifies an HDDS recording file: "HDDSREC\0".
var Magic = [8]byte{0x48, 0x44, 0x44, 0x53, 0x52, 0x45, 0x43, 0x00}

// FormatVersion is the current on-disk format version.
const FormatVersion uint32 = 1

// DefaultSegmentSize is the number of messages buffered per segment before
// it is flushed (roughly five seconds of traffic at 1000 msg/s).
const DefaultSegmentSize = 5000

var order = binary.LittleEndian

// FileHeader is the fixed 64-byte header at offset 0 of an .hdds file.
type FileHeader struct {
	Magic          [8]byte
	Version        uint32
	Flags          uint32
	MetadataOffset uint64
	MetadataSize   uint32
	IndexOffset    uint64
	IndexCount     uint32
	MessageCount   uint64
	DurationNanos  uint64
	Reserved       uint64
}

// FileHeaderSize is the encoded size of FileHeader in bytes.
const FileHeaderSize = 64

// NewFileHeader returns a zeroed header stamped with the current magic and
// format version.
func NewFileHeader() FileHeader {
	return FileHeader{Magic: Magic, Version: FormatVersion}
}

// Write encodes the header to w.
func (h FileHeader) Write(w io.Writer) error {
	buf := make([]byte, FileHeaderSize)
	copy(buf[0:8], h.Magic[:])
	order.PutUint32(buf[8:12], h.Version)
	order.PutUint32(buf[12:16], h.Flags)
	order.PutUint64(buf[16:24], h.MetadataOffset)
	order.PutUint32(buf[24:28], h.MetadataSize)
	order.PutUint64(buf[28:36], h.IndexOffset)
	order.PutUint32(buf[36:40], h.IndexCount)
	order.PutUint64(buf[40:48], h.MessageCount)
	order.PutUint64(buf[48:56], h.DurationNanos)
	order.PutUint64(buf[56:64], h.Reserved)
	_, err := w.Write(buf)
	return err
}

// ReadFileHeader decodes a FileHeader from r, validating the magic bytes.
func ReadFileHeader(r io.Reader) (FileHeader, error) {
	buf := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return FileHeader{}, fmt.Errorf("recording: read file header: %w", err)
	}
	var h FileHeader
	copy(h.Magic[:], buf[0:8])
	if h.Magic != Magic {
		return FileHeader{}, fmt.Errorf("recording: invalid file magic %x", h.Magic)
	}
	h.Version = order.Uint32(buf[8:12])
	h.Flags = order.Uint32(buf[12:16])
	h.MetadataOffset = order.Uint64(buf[16:24])
	h.MetadataSize = order.Uint32(buf[24:28])
	h.IndexOffset = order.Uint64(buf[28:36])
	h.IndexCount = order.Uint32(buf[36:40])
	h.MessageCount = order.Uint64(buf[40:48])
	h.DurationNanos = order.Uint64(buf[48:56])
	h.Reserved = order.Uint64(buf[56:64])
	return h, nil
}

// SegmentHeader precedes each segment's message bytes and trailing CRC32.
type SegmentHeader struct {
	SegmentID      uint32
	MessageCount   uint32
	DataSize       uint32
	FirstTimestamp uint64
	LastTimestamp  uint64
	Reserved       uint32
}

// SegmentHeaderSize is the encoded size of SegmentHeader in bytes.
const SegmentHeaderSize = 32

func (h SegmentHeader) Write(w io.Writer) error {
	buf := make([]byte, SegmentHeaderSize)
	order.PutUint32(buf[0:4], h.SegmentID)
	order.PutUint32(buf[4:8], h.MessageCount)
	order.PutUint32(buf[8:12], h.DataSize)
	order.PutUint64(buf[12:20], h.FirstTimestamp)
	order.PutUint64(buf[20:28], h.LastTimestamp)
	order.PutUint32(buf[28:32], h.Reserved)
	_, err := w.Write(buf)
	return err
}

func ReadSegmentHeader(r io.Reader) (SegmentHeader, error) {
	buf := make([]byte, SegmentHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return SegmentHeader{}, fmt.Errorf("recording: read segment header: %w", err)
	}
	return SegmentHeader{
		SegmentID:      order.Uint32(buf[0:4]),
		MessageCount:   order.Uint32(buf[4:8]),
		DataSize:       order.Uint32(buf[8:12]),
		FirstTimestamp: order.Uint64(buf[12:20]),
		LastTimestamp:  order.Uint64(buf[20:28]),
		Reserved:       order.Uint32(buf[28:32]),
	}, nil
}

// IndexEntry is one row of the topic index, keyed by an FNV-1a hash of
// the topic name for fast lookup. Writer emits one row per topic, with
// Count the topic's total across all segments; it leaves SegmentID and
// Offset at zero.
type IndexEntry struct {
	TopicHash uint32
	SegmentID uint32
	Offset    uint32
	Count     uint32
}

// IndexEntrySize is the encoded size of IndexEntry in bytes.
const IndexEntrySize = 16

func (e IndexEntry) Write(w io.Writer) error {
	buf := make([]byte, IndexEntrySize)
	order.PutUint32(buf[0:4], e.TopicHash)
	order.PutUint32(buf[4:8], e.SegmentID)
	order.PutUint32(buf[8:12], e.Offset)
	order.PutUint32(buf[12:16], e.Count)
	_, err := w.Write(buf)
	return err
}

func ReadIndexEntry(r io.Reader) (IndexEntry, error) {
	buf := make([]byte, IndexEntrySize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return IndexEntry{}, fmt.Errorf("recording: read index entry: %w", err)
	}
	return IndexEntry{
		TopicHash: order.Uint32(buf[0:4]),
		SegmentID: order.Uint32(buf[4:8]),
		Offset:    order.Uint32(buf[8:12]),
		Count:     order.Uint32(buf[12:16]),
	}, nil
}

// Message is one recorded sample: the minimum a replay or analysis tool
// needs to reconstruct what a writer sent and when.
type Message struct {
	TimestampNanos uint64
	TopicName      string
	TypeName       string
	WriterGUID     ddsid.GUID
	SequenceNumber uint64
	QoSHash        uint32
	Payload        []byte
}

// encodedSize returns the byte length writeMessage will produce for msg,
// without allocating.
func (m Message) encodedSize() int {
	return 8 + 2 + 2 + 16 + 8 + 4 + 4 + len(m.TopicName) + len(m.TypeName) + len(m.Payload)
}

// writeMessage appends msg's wire encoding to buf and returns the result.
func writeMessage(buf []byte, m Message) ([]byte, error) {
	if len(m.TopicName) > 0xFFFF || len(m.TypeName) > 0xFFFF {
		return nil, fmt.Errorf("recording: topic or type name exceeds 65535 bytes")
	}
	var hdr [8 + 2 + 2]byte
	order.PutUint64(hdr[0:8], m.TimestampNanos)
	order.PutUint16(hdr[8:10], uint16(len(m.TopicName)))
	order.PutUint16(hdr[10:12], uint16(len(m.TypeName)))
	buf = append(buf, hdr[:]...)

	guid := m.WriterGUID.Bytes()
	buf = append(buf, guid[:]...)

	var rest [8 + 4 + 4]byte
	order.PutUint64(rest[0:8], m.SequenceNumber)
	order.PutUint32(rest[8:12], m.QoSHash)
	order.PutUint32(rest[12:16], uint32(len(m.Payload)))
	buf = append(buf, rest[:]...)

	buf = append(buf, m.TopicName...)
	buf = append(buf, m.TypeName...)
	buf = append(buf, m.Payload...)
	return buf, nil
}

// readMessage decodes one Message from r.
func readMessage(r io.Reader) (Message, error) {
	var hdr [8 + 2 + 2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	timestamp := order.Uint64(hdr[0:8])
	topicLen := int(order.Uint16(hdr[8:10]))
	typeLen := int(order.Uint16(hdr[10:12]))

	var guidBytes [16]byte
	if _, err := io.ReadFull(r, guidBytes[:]); err != nil {
		return Message{}, err
	}

	var rest [8 + 4 + 4]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return Message{}, err
	}
	seq := order.Uint64(rest[0:8])
	qosHash := order.Uint32(rest[8:12])
	payloadLen := int(order.Uint32(rest[12:16]))

	topicBuf := make([]byte, topicLen)
	if _, err := io.ReadFull(r, topicBuf); err != nil {
		return Message{}, err
	}
	typeBuf := make([]byte, typeLen)
	if _, err := io.ReadFull(r, typeBuf); err != nil {
		return Message{}, err
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, err
	}

	return Message{
		TimestampNanos: timestamp,
		TopicName:      string(topicBuf),
		TypeName:       string(typeBuf),
		WriterGUID:     ddsid.GUIDFromBytes(guidBytes),
		SequenceNumber: seq,
		QoSHash:        qosHash,
		Payload:        payload,
	}, nil
}

// TopicInfo summarizes one recorded topic for the metadata trailer.
type TopicInfo struct {
	Name         string `json:"name"`
	TypeName     string `json:"type_name"`
	MessageCount uint64 `json:"message_count"`
	Reliability  string `json:"reliability"`
	Durability   string `json:"durability"`
}

// Metadata is the JSON trailer describing the whole recording.
type Metadata struct {
	DomainID    uint32      `json:"domain_id"`
	Description string      `json:"description,omitempty"`
	Topics      []TopicInfo `json:"topics"`
}

// FNV1aHash hashes a topic name the same way the index table does, so a
// caller can look up IndexEntry rows for a topic of interest.
func FNV1aHash(s string) uint32 {
	const (
		offsetBasis = 0x811c9dc5
		prime       = 0x01000193
	)
	hash := uint32(offsetBasis)
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= prime
	}
	return hash
}

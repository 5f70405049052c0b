package recording

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
)

type topicStats struct {
	typeName string
	count    uint64
}

// Writer encodes an .hdds recording to an io.WriteSeeker. It buffers
// messages into segments of DefaultSegmentSize and flushes each as a
// length-prefixed, CRC32-checked block; Finalize writes the index and JSON
// metadata trailer and backpatches the file header.
//
// Writer does not open or own the underlying file — the caller supplies
// an io.WriteSeeker (e.g. an *os.File) and is responsible for its
// lifecycle, consistent with treating file I/O as an external collaborator.
type Writer struct {
	w    io.WriteSeeker
	meta Metadata

	segmentSize int
	segment     []Message
	segmentID   uint32

	topics         map[string]*topicStats
	firstTimestamp uint64
	haveFirst      bool
	lastTimestamp  uint64
	messageCount   uint64
}

// NewWriter writes a placeholder file header to w (backpatched by
// Finalize) and returns a Writer ready to accept messages.
func NewWriter(w io.WriteSeeker, meta Metadata) (*Writer, error) {
	if err := NewFileHeader().Write(w); err != nil {
		return nil, fmt.Errorf("recording: write placeholder header: %w", err)
	}
	return &Writer{
		w:           w,
		meta:        meta,
		segmentSize: DefaultSegmentSize,
		topics:      make(map[string]*topicStats),
	}, nil
}

// SetSegmentSize overrides the default message-per-segment threshold.
// Must be called before the first WriteMessage.
func (wr *Writer) SetSegmentSize(n int) {
	if n > 0 {
		wr.segmentSize = n
	}
}

// WriteMessage buffers msg, flushing the current segment if it is full.
func (wr *Writer) WriteMessage(msg Message) error {
	if !wr.haveFirst {
		wr.firstTimestamp = msg.TimestampNanos
		wr.haveFirst = true
	}
	wr.lastTimestamp = msg.TimestampNanos
	wr.messageCount++

	wr.segment = append(wr.segment, msg)
	if len(wr.segment) >= wr.segmentSize {
		return wr.flushSegment()
	}
	return nil
}

func (wr *Writer) flushSegment() error {
	if len(wr.segment) == 0 {
		return nil
	}

	size := 0
	for _, m := range wr.segment {
		size += m.encodedSize()
	}
	data := make([]byte, 0, size)
	var err error
	for _, m := range wr.segment {
		data, err = writeMessage(data, m)
		if err != nil {
			return err
		}
	}

	hdr := SegmentHeader{
		SegmentID:      wr.segmentID,
		MessageCount:   uint32(len(wr.segment)),
		DataSize:       uint32(len(data)),
		FirstTimestamp: wr.segment[0].TimestampNanos,
		LastTimestamp:  wr.segment[len(wr.segment)-1].TimestampNanos,
	}
	if err := hdr.Write(wr.w); err != nil {
		return err
	}
	if _, err := wr.w.Write(data); err != nil {
		return err
	}

	crc := crc32.ChecksumIEEE(data)
	var crcBuf [4]byte
	order.PutUint32(crcBuf[:], crc)
	if _, err := wr.w.Write(crcBuf[:]); err != nil {
		return err
	}

	for _, m := range wr.segment {
		st, ok := wr.topics[m.TopicName]
		if !ok {
			st = &topicStats{}
			wr.topics[m.TopicName] = st
		}
		st.typeName = m.TypeName
		st.count++
	}

	wr.segment = wr.segment[:0]
	wr.segmentID++
	return nil
}

// Finalize flushes any buffered messages, writes the index table and JSON
// metadata trailer, and backpatches the file header with final offsets.
// The Writer must not be used afterward.
func (wr *Writer) Finalize() error {
	if err := wr.flushSegment(); err != nil {
		return err
	}

	indexOffset, err := wr.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("recording: locate index offset: %w", err)
	}

	entries := make([]IndexEntry, 0, len(wr.topics))
	topics := make([]TopicInfo, 0, len(wr.topics))
	for name, st := range wr.topics {
		entries = append(entries, IndexEntry{
			TopicHash: FNV1aHash(name),
			Count:     uint32(st.count),
		})
		topics = append(topics, TopicInfo{
			Name:         name,
			TypeName:     st.typeName,
			MessageCount: st.count,
			Reliability:  "RELIABLE",
			Durability:   "VOLATILE",
		})
	}
	for _, e := range entries {
		if err := e.Write(wr.w); err != nil {
			return err
		}
	}

	wr.meta.Topics = topics
	metaJSON, err := json.Marshal(wr.meta)
	if err != nil {
		return fmt.Errorf("recording: marshal metadata: %w", err)
	}
	metadataOffset, err := wr.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("recording: locate metadata offset: %w", err)
	}
	if _, err := wr.w.Write(metaJSON); err != nil {
		return err
	}

	duration := uint64(0)
	if wr.haveFirst && wr.lastTimestamp > wr.firstTimestamp {
		duration = wr.lastTimestamp - wr.firstTimestamp
	}
	header := FileHeader{
		Magic:          Magic,
		Version:        FormatVersion,
		MetadataOffset: uint64(metadataOffset),
		MetadataSize:   uint32(len(metaJSON)),
		IndexOffset:    uint64(indexOffset),
		IndexCount:     uint32(len(entries)),
		MessageCount:   wr.messageCount,
		DurationNanos:  duration,
	}

	if _, err := wr.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("recording: seek to header: %w", err)
	}
	return header.Write(wr.w)
}

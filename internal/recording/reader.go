package recording

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
)

// Reader decodes an .hdds recording from an io.ReadSeeker. It reads the
// file header and metadata trailer up front, then replays messages
// segment by segment via ReadMessage.
//
// Reader does not open or own the underlying file; the caller supplies an
// io.ReadSeeker (e.g. an *os.File) and is responsible for its lifecycle.
type Reader struct {
	r      io.ReadSeeker
	Header FileHeader
	Meta   Metadata

	segmentRemaining uint32
	segmentData      io.Reader
	atEOF            bool
}

// NewReader reads the file header and JSON metadata trailer from r and
// positions it to replay the first segment.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	header, err := ReadFileHeader(r)
	if err != nil {
		return nil, err
	}

	meta := Metadata{}
	if header.MetadataSize > 0 {
		if _, err := r.Seek(int64(header.MetadataOffset), io.SeekStart); err != nil {
			return nil, fmt.Errorf("recording: seek to metadata: %w", err)
		}
		buf := make([]byte, header.MetadataSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("recording: read metadata: %w", err)
		}
		if err := json.Unmarshal(buf, &meta); err != nil {
			return nil, fmt.Errorf("recording: decode metadata: %w", err)
		}
	}

	if _, err := r.Seek(FileHeaderSize, io.SeekStart); err != nil {
		return nil, fmt.Errorf("recording: seek to first segment: %w", err)
	}

	return &Reader{r: r, Header: header, Meta: meta}, nil
}

// IndexEntries reads and returns the topic index table.
func (rd *Reader) IndexEntries() ([]IndexEntry, error) {
	if _, err := rd.r.Seek(int64(rd.Header.IndexOffset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("recording: seek to index: %w", err)
	}
	entries := make([]IndexEntry, 0, rd.Header.IndexCount)
	for i := uint32(0); i < rd.Header.IndexCount; i++ {
		e, err := ReadIndexEntry(rd.r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ReadMessage returns the next recorded Message, advancing across segment
// boundaries and verifying each segment's trailing CRC32 as it is
// consumed. It returns io.EOF once the index table is reached.
func (rd *Reader) ReadMessage() (Message, error) {
	if rd.atEOF {
		return Message{}, io.EOF
	}

	if rd.segmentRemaining == 0 {
		pos, err := rd.r.Seek(0, io.SeekCurrent)
		if err != nil {
			return Message{}, fmt.Errorf("recording: locate read position: %w", err)
		}
		if uint64(pos) >= rd.Header.IndexOffset {
			rd.atEOF = true
			return Message{}, io.EOF
		}

		segHdr, err := ReadSegmentHeader(rd.r)
		if err != nil {
			return Message{}, fmt.Errorf("recording: read segment header: %w", err)
		}
		if segHdr.MessageCount == 0 {
			rd.atEOF = true
			return Message{}, io.EOF
		}

		data := make([]byte, segHdr.DataSize)
		if _, err := io.ReadFull(rd.r, data); err != nil {
			return Message{}, fmt.Errorf("recording: read segment data: %w", err)
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(rd.r, crcBuf[:]); err != nil {
			return Message{}, fmt.Errorf("recording: read segment crc: %w", err)
		}
		if got, want := crc32.ChecksumIEEE(data), order.Uint32(crcBuf[:]); got != want {
			return Message{}, fmt.Errorf("recording: segment %d crc mismatch: got %x want %x", segHdr.SegmentID, got, want)
		}

		rd.segmentData = bytes.NewReader(data)
		rd.segmentRemaining = segHdr.MessageCount
	}

	msg, err := readMessage(rd.segmentData)
	if err != nil {
		return Message{}, fmt.Errorf("recording: decode message: %w", err)
	}
	rd.segmentRemaining--
	return msg, nil
}

// Messages calls fn for every message in the recording, stopping at the
// first error fn returns or at end of file.
func (rd *Reader) Messages(fn func(Message) error) error {
	for {
		msg, err := rd.ReadMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

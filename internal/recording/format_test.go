package recording

import (
	"bytes"
	"testing"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHeaderRoundtrip(t *testing.T) {
	h := FileHeader{
		Magic:          Magic,
		Version:        FormatVersion,
		MetadataOffset: 1024,
		MetadataSize:   128,
		IndexOffset:    900,
		IndexCount:     3,
		MessageCount:   42,
		DurationNanos:  123456789,
	}

	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))
	assert.Equal(t, FileHeaderSize, buf.Len())

	got, err := ReadFileHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestReadFileHeaderRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, FileHeaderSize))

	_, err := ReadFileHeader(&buf)
	assert.Error(t, err)
}

func TestSegmentHeaderRoundtrip(t *testing.T) {
	h := SegmentHeader{
		SegmentID:      7,
		MessageCount:   100,
		DataSize:       4096,
		FirstTimestamp: 1000,
		LastTimestamp:  2000,
	}

	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))
	assert.Equal(t, SegmentHeaderSize, buf.Len())

	got, err := ReadSegmentHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestIndexEntryRoundtrip(t *testing.T) {
	e := IndexEntry{TopicHash: 0xdeadbeef, SegmentID: 2, Offset: 5, Count: 10}

	var buf bytes.Buffer
	require.NoError(t, e.Write(&buf))
	assert.Equal(t, IndexEntrySize, buf.Len())

	got, err := ReadIndexEntry(&buf)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestWriteAndReadMessageRoundtrip(t *testing.T) {
	guid := ddsid.GUIDFromBytes([16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	msg := Message{
		TimestampNanos: 123456789,
		TopicName:      "sensors/temperature",
		TypeName:       "SensorSample",
		WriterGUID:     guid,
		SequenceNumber: 99,
		QoSHash:        0xabcdef01,
		Payload:        []byte("hello world"),
	}

	buf, err := writeMessage(nil, msg)
	require.NoError(t, err)
	assert.Equal(t, msg.encodedSize(), len(buf))

	got, err := readMessage(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestWriteMessageRejectsOversizedNames(t *testing.T) {
	huge := make([]byte, 0x10000)
	msg := Message{TopicName: string(huge)}

	_, err := writeMessage(nil, msg)
	assert.Error(t, err)
}

func TestFNV1aHash(t *testing.T) {
	assert.NotZero(t, FNV1aHash("topic/one"))
	assert.Equal(t, FNV1aHash("topic/one"), FNV1aHash("topic/one"))
	assert.NotEqual(t, FNV1aHash("topic/one"), FNV1aHash("topic/two"))
}

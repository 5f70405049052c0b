package recording

import (
	"bytes"
	"io"
	"testing"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seekBuffer struct {
	bytes.Buffer
	pos int64
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		s.pos = offset
	case 1:
		s.pos += offset
	case 2:
		s.pos = int64(s.Len()) + offset
	}
	return s.pos, nil
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	data := s.Buffer.Bytes()
	end := s.pos + int64(len(p))
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		s.Buffer.Reset()
		s.Buffer.Write(grown)
		data = s.Buffer.Bytes()
	}
	copy(data[s.pos:end], p)
	s.pos = end
	return len(p), nil
}

func testMessage(topic string, seq uint64) Message {
	return Message{
		TimestampNanos: 1000 + seq,
		TopicName:      topic,
		TypeName:       "Sample",
		WriterGUID:     ddsid.GUIDFromBytes([16]byte{byte(seq)}),
		SequenceNumber: seq,
		QoSHash:        0x1,
		Payload:        []byte("payload"),
	}
}

func TestWriterFinalizeProducesReadableFile(t *testing.T) {
	buf := &seekBuffer{}
	w, err := NewWriter(buf, Metadata{DomainID: 0, Description: "test capture"})
	require.NoError(t, err)
	w.SetSegmentSize(2)

	for i := uint64(0); i < 5; i++ {
		require.NoError(t, w.WriteMessage(testMessage("topic/a", i)))
	}
	require.NoError(t, w.Finalize())

	rd, err := NewReader(buf)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, rd.Header.Version)
	assert.Equal(t, uint64(5), rd.Header.MessageCount)
	assert.Equal(t, "test capture", rd.Meta.Description)
	require.Len(t, rd.Meta.Topics, 1)
	assert.Equal(t, "topic/a", rd.Meta.Topics[0].Name)
	assert.Equal(t, uint64(5), rd.Meta.Topics[0].MessageCount)

	var got []Message
	require.NoError(t, rd.Messages(func(m Message) error {
		got = append(got, m)
		return nil
	}))
	require.Len(t, got, 5)
	for i, m := range got {
		assert.Equal(t, uint64(i), m.SequenceNumber)
	}
}

func TestWriterTracksMultipleTopics(t *testing.T) {
	buf := &seekBuffer{}
	w, err := NewWriter(buf, Metadata{})
	require.NoError(t, err)

	require.NoError(t, w.WriteMessage(testMessage("topic/a", 1)))
	require.NoError(t, w.WriteMessage(testMessage("topic/b", 2)))
	require.NoError(t, w.WriteMessage(testMessage("topic/a", 3)))
	require.NoError(t, w.Finalize())

	rd, err := NewReader(buf)
	require.NoError(t, err)
	require.Len(t, rd.Meta.Topics, 2)

	entries, err := rd.IndexEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriterEmptyRecordingFinalizes(t *testing.T) {
	buf := &seekBuffer{}
	w, err := NewWriter(buf, Metadata{})
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	rd, err := NewReader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rd.Header.MessageCount)

	_, err = rd.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderDetectsSegmentCRCMismatch(t *testing.T) {
	buf := &seekBuffer{}
	w, err := NewWriter(buf, Metadata{})
	require.NoError(t, err)
	require.NoError(t, w.WriteMessage(testMessage("topic/a", 1)))
	require.NoError(t, w.Finalize())

	corrupted := buf.Bytes()
	corrupted[FileHeaderSize+SegmentHeaderSize] ^= 0xFF

	fresh := &seekBuffer{}
	fresh.Write(corrupted)
	fresh.pos = 0

	rd, err := NewReader(fresh)
	require.NoError(t, err)

	_, err = rd.ReadMessage()
	assert.Error(t, err)
}

func TestReaderIndexEntriesMatchesWrittenTopics(t *testing.T) {
	buf := &seekBuffer{}
	w, err := NewWriter(buf, Metadata{})
	require.NoError(t, err)
	require.NoError(t, w.WriteMessage(testMessage("topic/a", 1)))
	require.NoError(t, w.WriteMessage(testMessage("topic/a", 2)))
	require.NoError(t, w.Finalize())

	rd, err := NewReader(buf)
	require.NoError(t, err)

	entries, err := rd.IndexEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FNV1aHash("topic/a"), entries[0].TopicHash)
	assert.Equal(t, uint32(2), entries[0].Count)
}

func TestReaderMessagesStopsOnCallbackError(t *testing.T) {
	buf := &seekBuffer{}
	w, err := NewWriter(buf, Metadata{})
	require.NoError(t, err)
	for i := uint64(0); i < 3; i++ {
		require.NoError(t, w.WriteMessage(testMessage("topic/a", i)))
	}
	require.NoError(t, w.Finalize())

	rd, err := NewReader(buf)
	require.NoError(t, err)

	count := 0
	errBoom := assert.AnError
	err = rd.Messages(func(m Message) error {
		count++
		if count == 2 {
			return errBoom
		}
		return nil
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, count)
}

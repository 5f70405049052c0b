package rtps

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncapsulationHeaderRoundTrip(t *testing.T) {
	for _, kind := range []EncapsulationKind{EncapsulationCDR_BE, EncapsulationCDR_LE, EncapsulationCDR2_BE, EncapsulationCDR2_LE} {
		h := EncapsulationHeader{Kind: kind, Options: 0}
		buf := h.Marshal()
		got, err := ParseEncapsulationHeader(buf)
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestParseEncapsulationHeaderRejectsUnknownKind(t *testing.T) {
	buf := []byte{0xff, 0xff, 0x00, 0x00}
	_, err := ParseEncapsulationHeader(buf)
	assert.ErrorIs(t, err, ErrInvalidEncapsulation)
}

func TestParameterListRoundTripCDR1(t *testing.T) {
	var pl ParameterList
	pl.Add(PIDDomainID, []byte{0x00, 0x00, 0x00, 0x2a})
	pl.Add(PIDEntityName, []byte("temp\x00"))

	buf := pl.Marshal(binary.BigEndian, false)
	got, n, err := ParseParameterList(buf, binary.BigEndian, nil)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	require.Len(t, got.Params, 2)

	v, ok := got.Get(PIDDomainID)
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x2a}, v)
}

func TestParameterListRoundTripCDR2Padding(t *testing.T) {
	var pl ParameterList
	pl.Add(PIDVendorID, []byte{0x01, 0xAA, 0x00}) // 3 bytes, needs padding to 4

	buf := pl.Marshal(binary.LittleEndian, true)
	got, _, err := ParseParameterList(buf, binary.LittleEndian, nil)
	require.NoError(t, err)
	v, ok := got.Get(PIDVendorID)
	require.True(t, ok)
	assert.Len(t, v, 4, "CDR2 parameters are padded to a 4-byte boundary")
}

func TestParameterListUnknownVendorPIDHook(t *testing.T) {
	var pl ParameterList
	pl.Add(PIDDomainID, []byte{0, 0, 0, 1})
	pl.Add(ParameterID(0x8010), []byte("vendor-data"))

	buf := pl.Marshal(binary.BigEndian, false)

	var hooked []ParameterID
	_, _, err := ParseParameterList(buf, binary.BigEndian, func(pid ParameterID, value []byte) {
		hooked = append(hooked, pid)
	})
	require.NoError(t, err)
	assert.Equal(t, []ParameterID{0x8010}, hooked)
}

func TestParseParameterListTruncated(t *testing.T) {
	_, _, err := ParseParameterList([]byte{0x00}, binary.BigEndian, nil)
	assert.ErrorIs(t, err, ErrTruncatedData)
}

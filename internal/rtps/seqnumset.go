package rtps

import (
	"encoding/binary"
	"fmt"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// MaxSeqNumSetBits caps the number of bits a SequenceNumberSet may carry.
// The wire format allows up to 256; capping here bounds the memory a
// single ACKNACK/NACK_FRAG can make a peer allocate, per the
// fragment-buffer DoS-resistance note in §9.
const MaxSeqNumSetBits = 256

// SequenceNumberSet is a bitmap of sequence numbers relative to a base,
// used by ACKNACK (missing samples) and NACK_FRAG (missing fragments)
// (§4.5). Bit i (0-indexed from Base) set means "Base+i is in the set"
// (for ACKNACK, "not yet received"; absent bits below NumBits are
// implicitly "received").
type SequenceNumberSet struct {
	Base    ddsid.SequenceNumber
	NumBits uint32
	Bitmap  []uint32 // MSB-first within each 32-bit word, per RTPS (§4.5)
}

// Set marks offset i (0-indexed from Base) as present in the set.
func (s *SequenceNumberSet) Set(i uint32) {
	word := i / 32
	for uint32(len(s.Bitmap)) <= word {
		s.Bitmap = append(s.Bitmap, 0)
	}
	bit := i % 32
	s.Bitmap[word] |= 1 << (31 - bit)
	if i+1 > s.NumBits {
		s.NumBits = i + 1
	}
}

// Test reports whether offset i (0-indexed from Base) is present.
func (s SequenceNumberSet) Test(i uint32) bool {
	if i >= s.NumBits {
		return false
	}
	word := i / 32
	if word >= uint32(len(s.Bitmap)) {
		return false
	}
	bit := i % 32
	return s.Bitmap[word]&(1<<(31-bit)) != 0
}

// Marshal encodes the set: base(8) | numBits(4) | ceil(numBits/32) words(4
// each), per §4.5. NumBits is saturated to MaxSeqNumSetBits.
func (s SequenceNumberSet) Marshal(order binary.ByteOrder) []byte {
	numBits := s.NumBits
	if numBits > MaxSeqNumSetBits {
		numBits = MaxSeqNumSetBits
	}
	numWords := (numBits + 31) / 32
	buf := make([]byte, 8+4+4*numWords)
	copy(buf[0:8], s.Base.MarshalBinary(order))
	order.PutUint32(buf[8:12], numBits)
	for i := uint32(0); i < numWords; i++ {
		var w uint32
		if i < uint32(len(s.Bitmap)) {
			w = s.Bitmap[i]
		}
		order.PutUint32(buf[12+4*i:16+4*i], w)
	}
	return buf
}

// ParseSequenceNumberSet decodes a SequenceNumberSet, returning the number
// of bytes consumed. NumBits above MaxSeqNumSetBits is rejected rather
// than allocating an attacker-controlled amount of memory (§9).
func ParseSequenceNumberSet(buf []byte, order binary.ByteOrder) (SequenceNumberSet, int, error) {
	if len(buf) < 12 {
		return SequenceNumberSet{}, 0, fmt.Errorf("%w: sequence number set", ErrTruncatedData)
	}
	base, err := ddsid.UnmarshalSequenceNumber(buf[0:8], order)
	if err != nil {
		return SequenceNumberSet{}, 0, err
	}
	numBits := order.Uint32(buf[8:12])
	if numBits > MaxSeqNumSetBits {
		return SequenceNumberSet{}, 0, fmt.Errorf("%w: numBits %d exceeds cap %d", ErrInvalidFormat, numBits, MaxSeqNumSetBits)
	}
	numWords := (numBits + 31) / 32
	need := 12 + 4*int(numWords)
	if len(buf) < need {
		return SequenceNumberSet{}, 0, fmt.Errorf("%w: sequence number set bitmap", ErrTruncatedData)
	}
	words := make([]uint32, numWords)
	for i := uint32(0); i < numWords; i++ {
		words[i] = order.Uint32(buf[12+4*i : 16+4*i])
	}
	return SequenceNumberSet{Base: base, NumBits: numBits, Bitmap: words}, need, nil
}

// Missing returns the list of absolute sequence numbers marked present in
// the set (i.e. Base+i for every set bit i < NumBits).
func (s SequenceNumberSet) Missing() []ddsid.SequenceNumber {
	var out []ddsid.SequenceNumber
	for i := uint32(0); i < s.NumBits; i++ {
		if s.Test(i) {
			out = append(out, s.Base+ddsid.SequenceNumber(i))
		}
	}
	return out
}

// FragmentNumberSet is the fragment-index analogue of SequenceNumberSet,
// used by NACK_FRAG (§4.5, §6.1). Fragment numbers are 1-indexed per RTPS.
type FragmentNumberSet struct {
	Base    uint32
	NumBits uint32
	Bitmap  []uint32
}

// Marshal encodes the set in the same layout as SequenceNumberSet but with
// a 4-byte base instead of 8.
func (s FragmentNumberSet) Marshal(order binary.ByteOrder) []byte {
	numBits := s.NumBits
	if numBits > MaxSeqNumSetBits {
		numBits = MaxSeqNumSetBits
	}
	numWords := (numBits + 31) / 32
	buf := make([]byte, 4+4+4*numWords)
	order.PutUint32(buf[0:4], s.Base)
	order.PutUint32(buf[4:8], numBits)
	for i := uint32(0); i < numWords; i++ {
		var w uint32
		if i < uint32(len(s.Bitmap)) {
			w = s.Bitmap[i]
		}
		order.PutUint32(buf[8+4*i:12+4*i], w)
	}
	return buf
}

// ParseFragmentNumberSet decodes a FragmentNumberSet, returning bytes
// consumed.
func ParseFragmentNumberSet(buf []byte, order binary.ByteOrder) (FragmentNumberSet, int, error) {
	if len(buf) < 8 {
		return FragmentNumberSet{}, 0, fmt.Errorf("%w: fragment number set", ErrTruncatedData)
	}
	base := order.Uint32(buf[0:4])
	numBits := order.Uint32(buf[4:8])
	if numBits > MaxSeqNumSetBits {
		return FragmentNumberSet{}, 0, fmt.Errorf("%w: numBits %d exceeds cap %d", ErrInvalidFormat, numBits, MaxSeqNumSetBits)
	}
	numWords := (numBits + 31) / 32
	need := 8 + 4*int(numWords)
	if len(buf) < need {
		return FragmentNumberSet{}, 0, fmt.Errorf("%w: fragment number set bitmap", ErrTruncatedData)
	}
	words := make([]uint32, numWords)
	for i := uint32(0); i < numWords; i++ {
		words[i] = order.Uint32(buf[8+4*i : 12+4*i])
	}
	return FragmentNumberSet{Base: base, NumBits: numBits, Bitmap: words}, need, nil
}

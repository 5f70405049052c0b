package lbw

import "fmt"

// fragHeaderSize: frag_index(u16) | frag_count(u16), prefixed to every
// fragment's payload so the reassembler can place it without a side
// channel (§4.11: "Fragmentation for payloads exceeding negotiated MTU").
const fragHeaderSize = 4

// SplitForMTU splits data into chunks that, once wrapped in a Record and
// Frame, fit within mtu. It is a no-op (single chunk, no fragment header)
// when data already fits.
func SplitForMTU(data []byte, mtu uint16) ([][]byte, error) {
	overhead := FrameHeaderSize + RecordHeaderSize
	if int(mtu) <= overhead {
		return nil, fmt.Errorf("lbw: mtu %d too small for frame+record overhead %d", mtu, overhead)
	}
	if len(data)+overhead <= int(mtu) {
		return [][]byte{data}, nil
	}

	chunkSize := int(mtu) - overhead - fragHeaderSize
	if chunkSize <= 0 {
		return nil, fmt.Errorf("lbw: mtu %d too small to carry any fragment payload", mtu)
	}

	count := (len(data) + chunkSize - 1) / chunkSize
	if count > 0xffff {
		return nil, fmt.Errorf("lbw: payload requires %d fragments, exceeds u16 index", count)
	}

	chunks := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		frag := make([]byte, fragHeaderSize+(end-start))
		putUint16(frag[0:2], uint16(i))
		putUint16(frag[2:4], uint16(count))
		copy(frag[fragHeaderSize:], data[start:end])
		chunks = append(chunks, frag)
	}
	return chunks, nil
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// Reassembler accumulates fragments for one in-flight message on a
// stream and returns the complete payload once every fragment has
// arrived.
type Reassembler struct {
	parts [][]byte
	want  int
	have  int
}

// NewReassembler creates an empty reassembler.
func NewReassembler() *Reassembler { return &Reassembler{} }

// Add ingests one fragment (as produced by SplitForMTU) and returns the
// reassembled payload once complete.
func (r *Reassembler) Add(frag []byte) ([]byte, bool, error) {
	if len(frag) < fragHeaderSize {
		return nil, false, fmt.Errorf("lbw: fragment truncated: %d bytes", len(frag))
	}
	index := int(getUint16(frag[0:2]))
	count := int(getUint16(frag[2:4]))

	if r.parts == nil {
		r.parts = make([][]byte, count)
		r.want = count
	}
	if count != r.want {
		return nil, false, fmt.Errorf("lbw: fragment count mismatch: got %d, want %d", count, r.want)
	}
	if index < 0 || index >= r.want {
		return nil, false, fmt.Errorf("lbw: fragment index %d out of range [0,%d)", index, r.want)
	}
	if r.parts[index] == nil {
		r.parts[index] = append([]byte(nil), frag[fragHeaderSize:]...)
		r.have++
	}

	if r.have < r.want {
		return nil, false, nil
	}

	var total int
	for _, p := range r.parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range r.parts {
		out = append(out, p...)
	}
	return out, true, nil
}

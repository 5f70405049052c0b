package lbw

import (
	"bytes"
	"testing"
)

func TestSplitForMTUNoOpWhenFits(t *testing.T) {
	data := []byte("small")
	chunks, err := SplitForMTU(data, 256)
	if err != nil {
		t.Fatalf("SplitForMTU: %v", err)
	}
	if len(chunks) != 1 || !bytes.Equal(chunks[0], data) {
		t.Fatalf("expected single unwrapped chunk, got %v", chunks)
	}
}

func TestSplitAndReassembleRoundTrip(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}

	chunks, err := SplitForMTU(data, 64)
	if err != nil {
		t.Fatalf("SplitForMTU: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple fragments for 1000 bytes at mtu 64, got %d", len(chunks))
	}

	reasm := NewReassembler()
	var out []byte
	var done bool
	for _, c := range chunks {
		out, done, err = reasm.Add(c)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if !done {
		t.Fatal("expected reassembly to complete after all fragments")
	}
	if !bytes.Equal(out, data) {
		t.Fatal("reassembled payload does not match original")
	}
}

func TestReassembleOutOfOrder(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to pad this out")
	chunks, err := SplitForMTU(data, 32)
	if err != nil {
		t.Fatalf("SplitForMTU: %v", err)
	}

	reasm := NewReassembler()
	for i := len(chunks) - 1; i >= 0; i-- {
		out, done, err := reasm.Add(chunks[i])
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if i == 0 {
			if !done || !bytes.Equal(out, data) {
				t.Fatalf("expected completed reassembly on last fragment, done=%v", done)
			}
		} else if done {
			t.Fatal("should not complete before all fragments arrive")
		}
	}
}

func TestSplitForMTURejectsTooSmall(t *testing.T) {
	if _, err := SplitForMTU([]byte("x"), 4); err == nil {
		t.Fatal("expected error for mtu smaller than overhead")
	}
}

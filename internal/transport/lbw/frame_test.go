package lbw

import "testing"

func TestFrameRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	n, err := EncodeFrame(FrameHeader{SessionID: 42, Seq: 7}, []byte("payload"), buf)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	h, rest, err := DecodeFrame(buf[:n])
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if h.SessionID != 42 || h.Seq != 7 {
		t.Fatalf("got header %+v", h)
	}
	if string(rest) != "payload" {
		t.Fatalf("got %q", rest)
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	if _, _, err := DecodeFrame([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on truncated frame")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	n, err := EncodeRecord(Record{StreamID: 3, Type: CtrlTypeAck, Payload: []byte("abc")}, buf)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	r, consumed, err := DecodeRecord(buf[:n])
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if consumed != n || r.StreamID != 3 || r.Type != CtrlTypeAck || string(r.Payload) != "abc" {
		t.Fatalf("got %+v consumed=%d", r, consumed)
	}
}

func TestWalkRecordsMultiple(t *testing.T) {
	buf := make([]byte, 64)
	n1, _ := EncodeRecord(Record{StreamID: 0, Type: CtrlTypeHello, Payload: []byte("h")}, buf)
	n2, _ := EncodeRecord(Record{StreamID: 16, Type: 0, Payload: []byte("data")}, buf[n1:])

	records, err := WalkRecords(buf[:n1+n2])
	if err != nil {
		t.Fatalf("WalkRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if string(records[0].Payload) != "h" || string(records[1].Payload) != "data" {
		t.Fatalf("got %+v", records)
	}
}

package lbw

import (
	"testing"
	"time"
)

func TestSenderBasicSend(t *testing.T) {
	s := NewReliableSender(DefaultReliableConfig())
	seq := s.Send(1, []byte{1, 2, 3})
	if seq != 0 {
		t.Fatalf("got seq %d, want 0", seq)
	}
	msg := s.PollSend(time.Now())
	if msg == nil || msg.Seq != 0 || msg.StreamID != 1 || msg.IsRetransmit {
		t.Fatalf("got %+v", msg)
	}
}

func TestSenderSequenceIncrementsPerStream(t *testing.T) {
	s := NewReliableSender(DefaultReliableConfig())
	a1 := s.Send(1, []byte{1})
	a2 := s.Send(1, []byte{2})
	b1 := s.Send(2, []byte{3})
	if a1 != 0 || a2 != 1 || b1 != 0 {
		t.Fatalf("got %d %d %d", a1, a2, b1)
	}
}

func TestSenderWindowLimitAndPromotion(t *testing.T) {
	cfg := DefaultReliableConfig()
	cfg.WindowSize = 2
	s := NewReliableSender(cfg)

	s.Send(1, []byte{1})
	s.Send(1, []byte{2})
	s.Send(1, []byte{3}) // window-blocked

	now := time.Now()
	if m := s.PollSend(now); m == nil || m.Seq != 0 {
		t.Fatalf("expected seq 0, got %+v", m)
	}
	if m := s.PollSend(now); m == nil || m.Seq != 1 {
		t.Fatalf("expected seq 1, got %+v", m)
	}
	if m := s.PollSend(now); m != nil {
		t.Fatalf("expected window full, got %+v", m)
	}

	s.OnAck(Ack{StreamID: 1, LastSeq: 0})

	if m := s.PollSend(now); m == nil || m.Seq != 2 {
		t.Fatalf("expected seq 2 promoted after ack, got %+v", m)
	}
}

func TestSenderRetransmitAfterTimeout(t *testing.T) {
	cfg := DefaultReliableConfig()
	cfg.Timeout = 10 * time.Millisecond
	s := NewReliableSender(cfg)

	s.Send(1, []byte{9})
	t0 := time.Now()
	first := s.PollSend(t0)
	if first == nil || first.IsRetransmit {
		t.Fatalf("expected initial send, got %+v", first)
	}

	if m := s.PollSend(t0); m != nil {
		t.Fatalf("expected no retransmit before timeout, got %+v", m)
	}

	retransmit := s.PollSend(t0.Add(20 * time.Millisecond))
	if retransmit == nil || !retransmit.IsRetransmit || retransmit.Seq != 0 {
		t.Fatalf("expected retransmit of seq 0, got %+v", retransmit)
	}
}

func TestSenderGivesUpAfterMaxRetries(t *testing.T) {
	cfg := ReliableConfig{WindowSize: 1, Timeout: time.Millisecond, MaxRetries: 2}
	s := NewReliableSender(cfg)
	s.Send(1, []byte{1})

	now := time.Now()
	s.PollSend(now)
	s.PollSend(now.Add(5 * time.Millisecond))
	if m := s.PollSend(now.Add(10 * time.Millisecond)); m != nil {
		t.Fatalf("expected no further sends after max retries, got %+v", m)
	}
	s.Tick()
	if s.Stats().MessagesFailed != 1 {
		t.Fatalf("expected 1 failed message, got %d", s.Stats().MessagesFailed)
	}
}

func TestReceiverDeliversInOrderAndDropsDuplicatesAndGaps(t *testing.T) {
	r := NewReliableReceiver()

	data, ok := r.OnReceive(1, 0, []byte("a"))
	if !ok || string(data) != "a" {
		t.Fatalf("expected first message delivered, got %v %v", data, ok)
	}

	if _, ok := r.OnReceive(1, 0, []byte("a")); ok {
		t.Fatal("expected duplicate to be dropped")
	}

	if _, ok := r.OnReceive(1, 2, []byte("c")); ok {
		t.Fatal("expected out-of-order gap to be dropped")
	}

	data, ok = r.OnReceive(1, 1, []byte("b"))
	if !ok || string(data) != "b" {
		t.Fatalf("expected seq 1 delivered, got %v %v", data, ok)
	}

	stats := r.Stats()
	if stats.MessagesDelivered != 2 || stats.DuplicatesDropped != 1 || stats.OutOfOrderDropped != 1 {
		t.Fatalf("got %+v", stats)
	}
}

func TestReceiverCreateAck(t *testing.T) {
	r := NewReliableReceiver()
	if _, ok := r.CreateAck(1); ok {
		t.Fatal("expected no ack before any delivery")
	}
	r.OnReceive(1, 5, []byte("x"))
	ack, ok := r.CreateAck(1)
	if !ok || ack.LastSeq != 5 || ack.StreamID != 1 {
		t.Fatalf("got %+v %v", ack, ok)
	}
}

package shm

import (
	"testing"
	"time"
)

func TestNotifierWakeUnblocksWaiter(t *testing.T) {
	name := uniqueName(t)
	n, err := CreateNotifier(name)
	if err != nil {
		t.Skipf("shm unavailable in this environment: %v", err)
	}
	defer n.Close()
	defer UnlinkNotifier(name)

	done := make(chan uint32, 1)
	go func() {
		seen, _ := n.Wait(3, 0, 2*time.Second)
		done <- seen
	}()

	time.Sleep(20 * time.Millisecond)
	n.Wake(3)

	select {
	case seen := <-done:
		if seen == 0 {
			t.Fatal("expected generation counter to advance past 0")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Wake to unblock Wait")
	}
}

func TestNotifierWaitTimesOutWithoutWake(t *testing.T) {
	name := uniqueName(t)
	n, err := CreateNotifier(name)
	if err != nil {
		t.Skipf("shm unavailable in this environment: %v", err)
	}
	defer n.Close()
	defer UnlinkNotifier(name)

	start := time.Now()
	_, woke := n.Wait(1, 0, 50*time.Millisecond)
	if woke {
		t.Fatal("expected Wait to time out, not report a wake")
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("Wait returned suspiciously early")
	}
}

func TestNotifierBucketsAreIndependent(t *testing.T) {
	name := uniqueName(t)
	n, err := CreateNotifier(name)
	if err != nil {
		t.Skipf("shm unavailable in this environment: %v", err)
	}
	defer n.Close()
	defer UnlinkNotifier(name)

	n.Wake(5)
	_, woke := n.Wait(0, 0, 30*time.Millisecond)
	if woke {
		t.Fatal("waking bucket 5 should not wake a waiter on bucket 0")
	}
}

package attendance

import (
	"sync"
	"testing"
)

func TestRecordThenConsume(t *testing.T) {
	slot := NewScanSlot()
	slot.Record(" ab12 ")
	scan, ok := slot.Consume()
	if !ok {
		t.Fatalf("expected a pending scan")
	}
	if scan.UID != "AB12" {
		t.Fatalf("uid must be trimmed and uppercased, got %q", scan.UID)
	}
	if scan.Timestamp.IsZero() {
		t.Fatalf("scan timestamp must be set")
	}
	if _, ok := slot.Consume(); ok {
		t.Fatalf("second consume must find the slot empty")
	}
}

func TestConsumeEmptySlot(t *testing.T) {
	slot := NewScanSlot()
	if _, ok := slot.Consume(); ok {
		t.Fatalf("fresh slot must be empty")
	}
}

func TestSecondScanOverwritesFirst(t *testing.T) {
	slot := NewScanSlot()
	slot.Record("FIRST")
	slot.Record("SECOND")
	scan, ok := slot.Consume()
	if !ok || scan.UID != "SECOND" {
		t.Fatalf("last writer must win, got %q (ok=%v)", scan.UID, ok)
	}
	if _, ok := slot.Consume(); ok {
		t.Fatalf("overwritten scan must not linger")
	}
}

func TestConcurrentConsumersGetAtMostOne(t *testing.T) {
	for i := 0; i < 100; i++ {
		slot := NewScanSlot()
		slot.Record("AABBCC")
		var wg sync.WaitGroup
		hits := make(chan struct{}, 2)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := slot.Consume(); ok {
					hits <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(hits)
		n := 0
		for range hits {
			n++
		}
		if n != 1 {
			t.Fatalf("exactly one consumer must see the scan, got %d", n)
		}
	}
}

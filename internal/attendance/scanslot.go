package attendance

import (
	"strings"
	"sync"
	"time"

	"classmon/internal/model"
)

// ScanSlot is a single-slot rendezvous between a badge reader posting
// scans and a passive consumer polling for the next tap. It holds at
// most one scan, is last-writer-wins, and does not survive restarts.
type ScanSlot struct {
	mu      sync.Mutex
	pending *model.PendingScan
}

func NewScanSlot() *ScanSlot {
	return &ScanSlot{}
}

// Record overwrites the slot with the given uid and the current time.
func (s *ScanSlot) Record(uid string) model.PendingScan {
	scan := model.PendingScan{
		UID:       strings.ToUpper(strings.TrimSpace(uid)),
		Timestamp: time.Now().UTC(),
	}
	s.mu.Lock()
	s.pending = &scan
	s.mu.Unlock()
	return scan
}

// Consume returns the pending scan and clears the slot in one step.
// Two concurrent consumers can never both observe the same scan.
func (s *ScanSlot) Consume() (model.PendingScan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return model.PendingScan{}, false
	}
	scan := *s.pending
	s.pending = nil
	return scan, true
}

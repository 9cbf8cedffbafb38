package memtable

import "go.uber.org/zap"

// evict runs the clock sweep and returns the slot of the frame to reuse.
// It returns false when every frame is leased.
// An unleased frame passed over decays in two steps (to 1, then to 0) rather than
// resetting to 1 each time, since a frame held at 1 could never be selected and the
// sweep would not end.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) evict() (int, bool) {
	poolSize := len(bpm.frames)
	consecutivePinned := 0
	for {
		slot := bpm.nextVictim
		f := bpm.frames[slot]
		if f.usageCount == 0 && f.isEvictable() {
			bpm.nextVictim = bpm.incrementSlot(slot)
			bpm.logger.Debug("Clock sweep picked victim",
				zap.Int("frame", slot), zap.Stringer("old_page_id", f.pageID))
			return slot, true
		}
		if f.isEvictable() {
			f.decay()
			consecutivePinned = 0
		} else {
			consecutivePinned++
			if consecutivePinned >= poolSize {
				return -1, false
			}
		}
		bpm.nextVictim = bpm.incrementSlot(slot)
	}
}

// decay drops a hot frame straight to its last chance (1) and a last-chance frame to 0,
// so an unleased frame is selected within three passes whatever its usage count was.
func (f *frame) decay() {
	if f.usageCount > 1 {
		f.usageCount = 1
		return
	}
	f.usageCount = 0
}

func (bpm *BufferPoolManager) incrementSlot(slot int) int {
	return (slot + 1) % len(bpm.frames)
}

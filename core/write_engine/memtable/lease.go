package memtable

import (
	"fmt"

	flushmanager "github.com/sushant-115/gojodb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb/core/write_engine/page_manager"
)

// PageLease is a pin on one resident page. The frame behind it cannot be
// evicted until Release is called. Changes made through Data must be
// reported with MarkDirty, or made inside Write, or they may be lost.
type PageLease struct {
	bpm      *BufferPoolManager
	slot     int
	pageID   pagemanager.PageID
	released bool
}

func newPageLease(bpm *BufferPoolManager, slot int, pageID pagemanager.PageID) *PageLease {
	return &PageLease{bpm: bpm, slot: slot, pageID: pageID}
}

func (l *PageLease) PageID() pagemanager.PageID { return l.pageID }

// Data returns the cached page content, or nil once the lease is released.
func (l *PageLease) Data() *pagemanager.Page {
	l.bpm.mu.Lock()
	defer l.bpm.mu.Unlock()
	if l.released {
		return nil
	}
	return l.bpm.frames[l.slot].page
}

// MarkDirty records that the page content diverged from disk.
func (l *PageLease) MarkDirty() error {
	l.bpm.mu.Lock()
	defer l.bpm.mu.Unlock()
	if l.released {
		return l.releasedErr()
	}
	l.bpm.frames[l.slot].dirty = true
	return nil
}

// Write runs fn on the page content and marks the page dirty.
func (l *PageLease) Write(fn func(p *pagemanager.Page)) error {
	page := l.Data()
	if page == nil {
		return l.releasedErr()
	}
	fn(page)
	return l.MarkDirty()
}

func (l *PageLease) IsDirty() bool {
	l.bpm.mu.Lock()
	defer l.bpm.mu.Unlock()
	return !l.released && l.bpm.frames[l.slot].dirty
}

// Release returns the pin. Releasing twice returns ErrLeaseReleased.
func (l *PageLease) Release() error {
	l.bpm.mu.Lock()
	defer l.bpm.mu.Unlock()
	if l.released {
		return l.releasedErr()
	}
	l.released = true
	return l.bpm.releaseLocked(l.slot)
}

func (l *PageLease) releasedErr() error {
	return fmt.Errorf("%w: page %s", flushmanager.ErrLeaseReleased, l.pageID)
}

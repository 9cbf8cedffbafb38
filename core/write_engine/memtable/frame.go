package memtable

import (
	pagemanager "github.com/sushant-115/gojodb/core/write_engine/page_manager"
)

// MaxUsageCount caps a frame's usage counter. The counter only biases the
// clock sweep, so it saturates instead of counting every access.
const MaxUsageCount = 5

// frame is one pool slot. Frames are allocated once and recycled by eviction, never destroyed.
type frame struct {
	page       *pagemanager.Page
	pageID     pagemanager.PageID
	dirty      bool
	usageCount uint32
	pinCount   uint32
}

func newFrame() *frame {
	return &frame{
		page:   new(pagemanager.Page),
		pageID: pagemanager.InvalidPageID,
	}
}

// isEvictable reports whether the pool exclusively owns the frame, i.e. no lease is outstanding.
func (f *frame) isEvictable() bool { return f.pinCount == 0 }

func (f *frame) touch() {
	if f.usageCount < MaxUsageCount {
		f.usageCount++
	}
}

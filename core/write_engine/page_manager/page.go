package pagemanager

import (
	"fmt"
	"math"
)

// --- Page Management ---

// PageSize is the size of every page on disk and in the buffer pool.
const PageSize = 4096

// PageID identifies a page by its position in the heap file.
type PageID uint64

// InvalidPageID marks a frame that does not cache any page yet.
// Page 0 is a real page (the heap file has no header), so the sentinel sits at the top of the range.
const InvalidPageID PageID = math.MaxUint64

// Page is the unit of disk I/O and of caching.
type Page [PageSize]byte

func (id PageID) IsValid() bool { return id != InvalidPageID }

// Offset returns the byte offset of the page inside the heap file.
func (id PageID) Offset() (int64, error) {
	if !id.IsValid() || uint64(id) > uint64(math.MaxInt64/PageSize) {
		return 0, fmt.Errorf("page %d has no addressable offset", uint64(id))
	}
	return int64(id) * PageSize, nil
}

func (id PageID) String() string {
	if !id.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d", uint64(id))
}

// Reset zeroes the page content.
func (p *Page) Reset() {
	*p = Page{}
}

// Fill sets every byte of the page to b.
func (p *Page) Fill(b byte) {
	for i := range p {
		p[i] = b
	}
}

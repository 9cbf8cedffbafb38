package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrNoFreeBuffer    = errors.New("no free buffer: every frame in the pool is leased")
	ErrIO              = errors.New("i/o error")
	ErrInvalidHeapFile = errors.New("heap file length is not a multiple of the page size")
	ErrDiskClosed      = errors.New("disk manager is closed")
	ErrPageNotFound    = errors.New("page not found in buffer pool")
	ErrPageNotPinned   = errors.New("page is not pinned")
	ErrLeaseReleased   = errors.New("page lease already released")
	ErrInvalidPageID   = errors.New("invalid page id")
	ErrInvalidPoolSize = errors.New("buffer pool size must be at least 1")
	ErrBackupOverwrite = errors.New("backup destination is the heap file itself")
)

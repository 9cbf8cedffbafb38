package memtable

import (
	"context"
	"errors"
	"fmt"
	"sync"

	flushmanager "github.com/sushant-115/gojodb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb/internal/telemetry"
	"go.uber.org/zap"
)

// PageStore is the disk layer the pool reads pages from and flushes them to.
// *flushmanager.DiskManager implements it.
type PageStore interface {
	AllocatePage() pagemanager.PageID
	ReadPageData(pageID pagemanager.PageID, data *pagemanager.Page) error
	WritePageData(pageID pagemanager.PageID, data *pagemanager.Page) error
}

// Syncer is implemented by page stores that can make written pages durable.
type Syncer interface {
	Sync() error
}

// BufferPoolManager caches a fixed number of pages in memory and hands them
// out as leases. Victims are chosen by a clock sweep over the frames; a
// frame with an outstanding lease is never chosen.
type BufferPoolManager struct {
	disk       PageStore
	frames     []*frame
	pageTable  map[pagemanager.PageID]int // PageID to frame index
	nextVictim int                        // clock hand, advanced only by evict
	scratch    *pagemanager.Page          // receives page loads so a failed read leaves the victim intact
	logger     *zap.Logger
	metrics    *internaltelemetry.BufferPoolMetrics
	stats      BufferPoolStats
	mu         sync.Mutex
}

// BufferPoolStats is a point-in-time view of the pool.
type BufferPoolStats struct {
	Capacity  int
	Resident  int
	Pinned    int
	Dirty     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
	Exhausted uint64
}

// Option configures a BufferPoolManager.
type Option func(*BufferPoolManager)

func WithLogger(logger *zap.Logger) Option {
	return func(bpm *BufferPoolManager) {
		if logger != nil {
			bpm.logger = logger
		}
	}
}

func WithMetrics(metrics *internaltelemetry.BufferPoolMetrics) Option {
	return func(bpm *BufferPoolManager) { bpm.metrics = metrics }
}

// NewBufferPoolManager creates a pool of poolSize frames over disk.
func NewBufferPoolManager(poolSize int, disk PageStore, opts ...Option) (*BufferPoolManager, error) {
	if poolSize < 1 {
		return nil, fmt.Errorf("%w: got %d", flushmanager.ErrInvalidPoolSize, poolSize)
	}
	if disk == nil {
		return nil, errors.New("buffer pool needs a page store")
	}
	bpm := &BufferPoolManager{
		disk:      disk,
		frames:    make([]*frame, poolSize),
		pageTable: make(map[pagemanager.PageID]int, poolSize),
		scratch:   new(pagemanager.Page),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(bpm)
	}
	for i := range bpm.frames {
		bpm.frames[i] = newFrame()
	}
	bpm.stats.Capacity = poolSize
	bpm.logger.Info("BufferPoolManager initialized",
		zap.Int("pool_size", poolSize), zap.Int("page_size", pagemanager.PageSize))
	return bpm, nil
}

// FetchPage returns a lease on pageID, loading the page from disk if it is not resident.
// It fails with ErrNoFreeBuffer when the page is not resident and every frame is leased;
// the caller may release leases and retry.
// Disk errors from flushing the victim or loading the page are returned wrapped with
// context; match them with errors.Is (for example flushmanager.ErrIO).
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID) (*PageLease, error) {
	if !pageID.IsValid() {
		return nil, flushmanager.ErrInvalidPageID
	}
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	ctx := context.Background()

	// 1. Check if page is already in the buffer pool
	if slot, ok := bpm.pageTable[pageID]; ok {
		f := bpm.frames[slot]
		f.touch()
		bpm.pinLocked(ctx, f)
		bpm.stats.Hits++
		bpm.metrics.RecordHit(ctx)
		bpm.logger.Debug("Page found in buffer pool",
			zap.Stringer("page_id", pageID), zap.Int("frame", slot), zap.Uint32("pin_count", f.pinCount))
		return newPageLease(bpm, slot, pageID), nil
	}

	// 2. Page not in pool, find a victim frame to replace
	bpm.stats.Misses++
	bpm.metrics.RecordMiss(ctx)
	slot, err := bpm.victimLocked(ctx, pageID)
	if err != nil {
		return nil, err
	}
	f := bpm.frames[slot]

	// 3. Load new page data from disk. The read lands in the scratch page, so a failed read
	// leaves the victim (already clean) resident under its old identity.
	if err := bpm.disk.ReadPageData(pageID, bpm.scratch); err != nil {
		bpm.logger.Warn("Failed to read page from disk",
			zap.Stringer("page_id", pageID), zap.Int("frame", slot), zap.Error(err))
		return nil, fmt.Errorf("failed to read page %d from disk: %w", uint64(pageID), err)
	}
	f.page, bpm.scratch = bpm.scratch, f.page

	// 4. Repoint the frame and the page table in one step
	bpm.installLocked(ctx, slot, pageID)
	bpm.logger.Debug("Page loaded into frame", zap.Stringer("page_id", pageID), zap.Int("frame", slot))
	return newPageLease(bpm, slot, pageID), nil
}

// NewPage allocates a fresh page identity and returns a lease on a zeroed, dirty frame for it.
// Nothing is read from disk; the page gets storage when it is first flushed.
func (bpm *BufferPoolManager) NewPage() (*PageLease, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	ctx := context.Background()

	// Find the frame before allocating so exhaustion does not burn an identity.
	slot, err := bpm.victimLocked(ctx, pagemanager.InvalidPageID)
	if err != nil {
		return nil, err
	}
	pageID := bpm.disk.AllocatePage()
	f := bpm.frames[slot]
	f.page.Reset()
	bpm.installLocked(ctx, slot, pageID)
	f.dirty = true
	bpm.logger.Debug("New page created in frame", zap.Stringer("page_id", pageID), zap.Int("frame", slot))
	return newPageLease(bpm, slot, pageID), nil
}

// victimLocked picks a frame with the clock sweep and writes it back if dirty.
// On a failed write the frame keeps its content and identity.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) victimLocked(ctx context.Context, forPage pagemanager.PageID) (int, error) {
	slot, ok := bpm.evict()
	if !ok {
		bpm.stats.Exhausted++
		bpm.metrics.RecordExhausted(ctx)
		bpm.logger.Warn("Buffer pool exhausted, every frame is leased",
			zap.Stringer("page_id", forPage), zap.Int("pool_size", len(bpm.frames)))
		return -1, fmt.Errorf("%w: cannot load page %s", flushmanager.ErrNoFreeBuffer, forPage)
	}
	f := bpm.frames[slot]
	if f.dirty && f.pageID.IsValid() {
		bpm.logger.Debug("Flushing dirty victim page",
			zap.Stringer("victim_page_id", f.pageID), zap.Int("frame", slot))
		if err := bpm.disk.WritePageData(f.pageID, f.page); err != nil {
			return -1, fmt.Errorf("failed to flush dirty victim page %d: %w", uint64(f.pageID), err)
		}
		f.dirty = false
		bpm.stats.Flushes++
		bpm.metrics.RecordDirtyFlush(ctx)
	}
	return slot, nil
}

// installLocked makes slot cache pageID with a single pin.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) installLocked(ctx context.Context, slot int, pageID pagemanager.PageID) {
	f := bpm.frames[slot]
	oldID := f.pageID
	f.pageID = pageID
	f.dirty = false
	// The lease about to be returned is the first reference.
	f.usageCount = 1
	bpm.pinLocked(ctx, f)
	if oldID.IsValid() {
		delete(bpm.pageTable, oldID)
		bpm.stats.Evictions++
		bpm.metrics.RecordEviction(ctx)
	}
	bpm.pageTable[pageID] = slot
}

func (bpm *BufferPoolManager) pinLocked(ctx context.Context, f *frame) {
	if f.pinCount == 0 {
		bpm.metrics.RecordPinnedDelta(ctx, 1)
	}
	f.pinCount++
}

// releaseLocked drops one pin from slot.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) releaseLocked(slot int) error {
	f := bpm.frames[slot]
	if f.pinCount == 0 {
		return fmt.Errorf("%w: page %s in frame %d", flushmanager.ErrPageNotPinned, f.pageID, slot)
	}
	f.pinCount--
	if f.pinCount == 0 {
		bpm.metrics.RecordPinnedDelta(context.Background(), -1)
	}
	bpm.logger.Debug("Released page lease",
		zap.Stringer("page_id", f.pageID), zap.Int("frame", slot), zap.Uint32("pin_count", f.pinCount), zap.Bool("dirty", f.dirty))
	return nil
}

// FlushPage writes pageID back to disk if it is dirty. The page stays resident.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	slot, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %s not found to flush", flushmanager.ErrPageNotFound, pageID)
	}
	f := bpm.frames[slot]
	if !f.dirty {
		bpm.logger.Debug("Page is clean, no flush needed", zap.Stringer("page_id", pageID), zap.Int("frame", slot))
		return nil
	}
	if err := bpm.disk.WritePageData(f.pageID, f.page); err != nil {
		return fmt.Errorf("failed to flush page %d: %w", uint64(pageID), err)
	}
	f.dirty = false
	bpm.stats.Flushes++
	bpm.metrics.RecordDirtyFlush(context.Background())
	return nil
}

// FlushAllPages writes every dirty resident page and then syncs the store.
// It keeps going after a failed write and returns the first error.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	var firstErr error

	for slot, f := range bpm.frames {
		if !f.pageID.IsValid() || !f.dirty {
			continue
		}
		if err := bpm.disk.WritePageData(f.pageID, f.page); err != nil {
			bpm.logger.Error("Error flushing page",
				zap.Stringer("page_id", f.pageID), zap.Int("frame", slot), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to flush page %d: %w", uint64(f.pageID), err)
			}
			continue
		}
		f.dirty = false
		bpm.stats.Flushes++
		bpm.metrics.RecordDirtyFlush(context.Background())
	}
	if syncer, ok := bpm.disk.(Syncer); ok {
		if err := syncer.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to sync page store: %w", err)
		}
	}
	return firstErr
}

// Stats returns current buffer pool statistics.
func (bpm *BufferPoolManager) Stats() BufferPoolStats {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	stats := bpm.stats
	stats.Resident = len(bpm.pageTable)
	for _, f := range bpm.frames {
		if f.pinCount > 0 {
			stats.Pinned++
		}
		if f.dirty {
			stats.Dirty++
		}
	}
	return stats
}

func (bpm *BufferPoolManager) PoolSize() int { return len(bpm.frames) }

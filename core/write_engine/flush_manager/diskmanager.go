package flushmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	pagemanager "github.com/sushant-115/gojodb/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb/internal/telemetry"
	"go.uber.org/zap"
)

// --- DiskManager ---

// DiskManager owns the heap file: a flat sequence of PageSize blocks with no header,
// where page i lives at [i*PageSize, (i+1)*PageSize).
type DiskManager struct {
	filePath   string
	file       *os.File
	nextPageID pagemanager.PageID // next identity to hand out; starts at file size / page size
	logger     *zap.Logger
	metrics    *internaltelemetry.BufferPoolMetrics
	mu         sync.Mutex
}

// DiskOption configures a DiskManager.
type DiskOption func(*DiskManager)

func WithDiskLogger(logger *zap.Logger) DiskOption {
	return func(dm *DiskManager) {
		if logger != nil {
			dm.logger = logger
		}
	}
}

func WithDiskMetrics(metrics *internaltelemetry.BufferPoolMetrics) DiskOption {
	return func(dm *DiskManager) { dm.metrics = metrics }
}

// OpenDiskManager opens the heap file for read and write, creating it if absent.
// Allocation resumes after the last page already on disk.
func OpenDiskManager(filePath string, opts ...DiskOption) (*DiskManager, error) {
	dm := &DiskManager{filePath: filePath, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(dm)
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening heap file %s: %v", ErrIO, filePath, err)
	}
	fi, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: getting file info for %s: %v", ErrIO, filePath, err)
	}
	if fi.Size()%pagemanager.PageSize != 0 {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, page size %d", ErrInvalidHeapFile, filePath, fi.Size(), pagemanager.PageSize)
	}

	dm.file = file
	dm.nextPageID = pagemanager.PageID(fi.Size() / pagemanager.PageSize)
	dm.logger.Info("Opened heap file",
		zap.String("path", filePath),
		zap.Uint64("num_pages", uint64(dm.nextPageID)),
	)
	return dm, nil
}

// AllocatePage hands out the next page identity. The file is not touched:
// the page gets storage on its first write.
func (dm *DiskManager) AllocatePage() pagemanager.PageID {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	pageID := dm.nextPageID
	dm.nextPageID++
	return pageID
}

// NumPages returns the identity the next AllocatePage call will return.
func (dm *DiskManager) NumPages() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return uint64(dm.nextPageID)
}

func (dm *DiskManager) Path() string { return dm.filePath }

// ReadPageData fills data with the page stored at pageID. Anything short of a full page is an I/O error.
func (dm *DiskManager) ReadPageData(pageID pagemanager.PageID, data *pagemanager.Page) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrDiskClosed
	}
	offset, err := pageID.Offset()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	n, err := dm.file.ReadAt(data[:], offset)
	if n == pagemanager.PageSize {
		// ReadAt may report io.EOF together with a full read at the end of the file.
		dm.metrics.RecordDiskRead(context.Background(), n)
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: short read for page %d at offset %d, got %d of %d bytes: %w",
		ErrIO, uint64(pageID), offset, n, pagemanager.PageSize, err)
}

// WritePageData writes data at pageID's location, extending the file if necessary.
func (dm *DiskManager) WritePageData(pageID pagemanager.PageID, data *pagemanager.Page) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrDiskClosed
	}
	offset, err := pageID.Offset()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	n, err := dm.file.WriteAt(data[:], offset)
	if err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %w", ErrIO, uint64(pageID), offset, err)
	}
	if n != pagemanager.PageSize {
		return fmt.Errorf("%w: short write for page %d, wrote %d of %d bytes", ErrIO, uint64(pageID), n, pagemanager.PageSize)
	}
	// A page written past the allocation counter (ids handed out by another
	// process or chosen by the caller) must not be handed out again.
	if pageID >= dm.nextPageID {
		dm.nextPageID = pageID + 1
	}
	dm.metrics.RecordDiskWrite(context.Background(), n)
	// Note: no Sync() per page write. Durability points are Sync and Close.
	return nil
}

// Sync flushes all buffered data to disk.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrDiskClosed
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %w", ErrIO, dm.filePath, err)
	}
	return nil
}

// Close syncs and closes the heap file. Closing twice is a no-op.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	syncErr := dm.file.Sync()
	if syncErr != nil {
		dm.logger.Warn("Sync before close failed", zap.String("path", dm.filePath), zap.Error(syncErr))
	}
	closeErr := dm.file.Close()
	dm.file = nil
	if closeErr != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrIO, dm.filePath, closeErr)
	}
	if syncErr != nil {
		return fmt.Errorf("%w: syncing %s: %w", ErrIO, dm.filePath, syncErr)
	}
	return nil
}

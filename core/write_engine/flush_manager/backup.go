package flushmanager

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	pagemanager "github.com/sushant-115/gojodb/core/write_engine/page_manager"
	"golang.org/x/time/rate"
)

// chunkSize: size of each read/write chunk, a whole number of pages
const chunkSize = 256 * pagemanager.PageSize // 1 MiB

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// CopyHeapFileThrottled copies the heap file at srcPath to dstPath at no more than
// bytesPerSec (unlimited when <= 0) and returns the SHA-256 of the copied bytes.
// Flush the buffer pool first; pages still dirty in memory are not part of the copy.
// The copy is written next to dstPath and renamed into place, so dstPath is either
// the previous file or a complete copy. A destination that is the source file is
// rejected with ErrBackupOverwrite.
func CopyHeapFileThrottled(ctx context.Context, srcPath, dstPath string, bytesPerSec int64) ([]byte, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open src: %w", ErrIO, err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat src: %w", ErrIO, err)
	}
	tmpPath := dstPath + ".tmp"
	for _, p := range []string{dstPath, tmpPath} {
		if fi, err := os.Stat(p); err == nil && os.SameFile(srcInfo, fi) {
			return nil, fmt.Errorf("%w: %s", ErrBackupOverwrite, p)
		}
	}

	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open dst: %w", ErrIO, err)
	}
	sum, err := copyThrottled(ctx, src, dst, bytesPerSec)
	if closeErr := dst.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: close dst: %w", ErrIO, closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: rename dst: %w", ErrIO, err)
	}
	return sum, nil
}

// copyThrottled streams src into dst through the limiter and syncs dst.
func copyThrottled(ctx context.Context, src io.ReaderAt, dst *os.File, bytesPerSec int64) ([]byte, error) {
	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		burst := chunkSize
		if bytesPerSec < int64(burst) {
			// WaitN rejects n larger than the burst, so shrink chunks instead.
			burst = int(bytesPerSec)
		}
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}

	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)
	step := chunkSize
	if limiter != nil && limiter.Burst() < step {
		step = limiter.Burst()
	}

	sum := sha256.New()
	var readOff int64
	for {
		n, rerr := src.ReadAt(buf[:step], readOff)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return nil, fmt.Errorf("rate limiter error: %w", err)
				}
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("%w: write error: %w", ErrIO, err)
			}
			sum.Write(buf[:n])
			readOff += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: read error: %w", ErrIO, rerr)
		}
	}

	if err := dst.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync error: %w", ErrIO, err)
	}
	return sum.Sum(nil), nil
}

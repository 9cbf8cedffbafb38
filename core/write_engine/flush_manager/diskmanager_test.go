package flushmanager

import (
	"context"
	"crypto/sha256"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	pagemanager "github.com/sushant-115/gojodb/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- Test Helpers ---

func setupDiskManager(t *testing.T) (*DiskManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.heap")
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	dm, err := OpenDiskManager(path, WithDiskLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return dm, path
}

func filledPage(b byte) *pagemanager.Page {
	p := new(pagemanager.Page)
	p.Fill(b)
	return p
}

// --- Test Cases ---

func TestDiskManager_RoundTrip(t *testing.T) {
	dm, _ := setupDiskManager(t)

	random := new(pagemanager.Page)
	rand.New(rand.NewSource(7)).Read(random[:])

	cases := map[string]*pagemanager.Page{
		"all_zero": filledPage(0x00),
		"all_ff":   filledPage(0xFF),
		"random":   random,
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			id := dm.AllocatePage()
			require.NoError(t, dm.WritePageData(id, want))

			got := filledPage(0x42)
			require.NoError(t, dm.ReadPageData(id, got))
			require.Equal(t, *want, *got)
		})
	}
}

func TestDiskManager_PagesArePositional(t *testing.T) {
	dm, path := setupDiskManager(t)

	require.NoError(t, dm.WritePageData(2, filledPage(0xC3)))
	require.NoError(t, dm.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 3*pagemanager.PageSize, "writing page 2 extends the file to three pages")
	require.Equal(t, byte(0), raw[2*pagemanager.PageSize-1])
	require.Equal(t, byte(0xC3), raw[2*pagemanager.PageSize])
	require.Equal(t, uint64(3), dm.NumPages())
}

func TestDiskManager_AllocateIsMonotonicAndDoesNotTouchFile(t *testing.T) {
	dm, path := setupDiskManager(t)

	var prev pagemanager.PageID
	for i := 0; i < 10; i++ {
		id := dm.AllocatePage()
		require.Equal(t, pagemanager.PageID(i), id)
		if i > 0 {
			require.Greater(t, id, prev)
		}
		prev = id
	}
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, fi.Size())
}

func TestDiskManager_ReopenResumesAllocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.heap")

	dm, err := OpenDiskManager(path)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		id := dm.AllocatePage()
		require.NoError(t, dm.WritePageData(id, filledPage(byte(i+1))))
	}
	require.NoError(t, dm.Close())

	dm2, err := OpenDiskManager(path)
	require.NoError(t, err)
	defer dm2.Close()

	require.Equal(t, uint64(4), dm2.NumPages())
	require.Equal(t, pagemanager.PageID(4), dm2.AllocatePage())

	got := new(pagemanager.Page)
	for i := 0; i < 4; i++ {
		require.NoError(t, dm2.ReadPageData(pagemanager.PageID(i), got))
		require.Equal(t, *filledPage(byte(i + 1)), *got, "page %d survives reopen", i)
	}
}

func TestDiskManager_ShortReadIsIOError(t *testing.T) {
	dm, _ := setupDiskManager(t)

	id := dm.AllocatePage()
	err := dm.ReadPageData(id, new(pagemanager.Page))
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDiskManager_RejectsTornHeapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.heap")
	require.NoError(t, os.WriteFile(path, make([]byte, pagemanager.PageSize+10), 0644))

	_, err := OpenDiskManager(path)
	require.ErrorIs(t, err, ErrInvalidHeapFile)
}

func TestDiskManager_OpenFailureIsIOError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing_dir", "x.heap")
	_, err := OpenDiskManager(path)
	require.ErrorIs(t, err, ErrIO)
}

func TestDiskManager_Closed(t *testing.T) {
	dm, _ := setupDiskManager(t)
	require.NoError(t, dm.Close())
	require.NoError(t, dm.Close(), "closing twice is a no-op")

	require.ErrorIs(t, dm.WritePageData(0, filledPage(1)), ErrDiskClosed)
	require.ErrorIs(t, dm.ReadPageData(0, new(pagemanager.Page)), ErrDiskClosed)
	require.ErrorIs(t, dm.Sync(), ErrDiskClosed)
}

func TestDiskManager_InvalidPageID(t *testing.T) {
	dm, _ := setupDiskManager(t)
	require.ErrorIs(t, dm.WritePageData(pagemanager.InvalidPageID, filledPage(1)), ErrIO)
	require.ErrorIs(t, dm.ReadPageData(pagemanager.InvalidPageID, new(pagemanager.Page)), ErrIO)
}

func TestCopyHeapFileThrottled(t *testing.T) {
	dm, src := setupDiskManager(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, dm.WritePageData(dm.AllocatePage(), filledPage(byte(0x10+i))))
	}
	require.NoError(t, dm.Sync())

	dst := filepath.Join(t.TempDir(), "backup.heap")
	// The rate is below one chunk, so the copy is split into limiter-sized steps.
	sum, err := CopyHeapFileThrottled(context.Background(), src, dst, 64*pagemanager.PageSize)
	require.NoError(t, err)

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, want, got)
	expected := sha256.Sum256(want)
	require.Equal(t, expected[:], sum)

	backup, err := OpenDiskManager(dst)
	require.NoError(t, err)
	defer backup.Close()
	require.Equal(t, uint64(3), backup.NumPages())
}

func TestCopyHeapFileThrottled_Cancelled(t *testing.T) {
	dm, src := setupDiskManager(t)
	require.NoError(t, dm.WritePageData(dm.AllocatePage(), filledPage(1)))
	require.NoError(t, dm.Sync())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := filepath.Join(t.TempDir(), "b.heap")
	_, err := CopyHeapFileThrottled(ctx, src, dst, pagemanager.PageSize)
	require.Error(t, err)
	require.NoFileExists(t, dst)
	require.NoFileExists(t, dst+".tmp", "a failed copy leaves no partial file behind")
}

func TestCopyHeapFileThrottled_RejectsSourceAsDestination(t *testing.T) {
	dm, src := setupDiskManager(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, dm.WritePageData(dm.AllocatePage(), filledPage(byte(0x20+i))))
	}
	require.NoError(t, dm.Sync())
	before, err := os.ReadFile(src)
	require.NoError(t, err)

	_, err = CopyHeapFileThrottled(context.Background(), src, src, 0)
	require.ErrorIs(t, err, ErrBackupOverwrite)

	// The same file reached through a different path is rejected too.
	alias := filepath.Dir(src) + string(filepath.Separator) + "." + string(filepath.Separator) + filepath.Base(src)
	_, err = CopyHeapFileThrottled(context.Background(), src, alias, 0)
	require.ErrorIs(t, err, ErrBackupOverwrite)

	after, err := os.ReadFile(src)
	require.NoError(t, err)
	require.Equal(t, before, after, "the heap file is untouched")
	require.NoFileExists(t, src+".tmp")
}

func TestCopyHeapFileThrottled_ReplacesExistingBackup(t *testing.T) {
	dm, src := setupDiskManager(t)
	require.NoError(t, dm.WritePageData(dm.AllocatePage(), filledPage(0x5A)))
	require.NoError(t, dm.Sync())

	dst := filepath.Join(t.TempDir(), "backup.heap")
	require.NoError(t, os.WriteFile(dst, []byte("stale"), 0644))

	_, err := CopyHeapFileThrottled(context.Background(), src, dst, 0)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Len(t, got, pagemanager.PageSize)
	require.NoFileExists(t, dst+".tmp")
}

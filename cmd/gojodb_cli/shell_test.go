package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojodb/core/write_engine/flush_manager"
	"github.com/sushant-115/gojodb/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojodb/core/write_engine/page_manager"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func newTestShell(t *testing.T, poolSize int) (*shell, *bytes.Buffer) {
	t.Helper()
	disk, err := flushmanager.OpenDiskManager(filepath.Join(t.TempDir(), "shell.heap"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })

	bpm, err := memtable.NewBufferPoolManager(poolSize, disk)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return newShell(bpm, disk, out, zap.NewNop(), nooptrace.NewTracerProvider().Tracer("test"), 0), out
}

func execLine(t *testing.T, sh *shell, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, sh.exec(context.Background(), line))
	return out.String()
}

func TestShell_WriteFlushAndReload(t *testing.T) {
	sh, out := newTestShell(t, 2)

	require.Contains(t, execLine(t, sh, out, "new"), "new page 0")
	require.Contains(t, execLine(t, sh, out, "write 0 16 hello   world"), "wrote 13 bytes")
	require.Contains(t, execLine(t, sh, out, "read 0 32"), "hello   world")
	require.Contains(t, execLine(t, sh, out, "flush 0"), "flushed page 0")
	require.Contains(t, execLine(t, sh, out, "release 0"), "released page 0")

	// Push page 0 out of the two-frame pool.
	for _, line := range []string{"new", "release 1", "new", "release 2"} {
		execLine(t, sh, out, line)
	}
	require.Contains(t, execLine(t, sh, out, "stats"), "evictions=1")

	execLine(t, sh, out, "fetch 0")
	require.Contains(t, execLine(t, sh, out, "read 0 32"), "hello   world")
	require.NoError(t, sh.close())
	require.Empty(t, sh.leases)
}

func TestShell_Exhaustion(t *testing.T) {
	sh, out := newTestShell(t, 1)

	execLine(t, sh, out, "new")
	err := sh.exec(context.Background(), "fetch 7")
	require.ErrorIs(t, err, flushmanager.ErrNoFreeBuffer)

	execLine(t, sh, out, "release 0")
	require.Contains(t, execLine(t, sh, out, "new"), "new page 1")
}

func TestShell_Errors(t *testing.T) {
	sh, _ := newTestShell(t, 2)
	ctx := context.Background()

	require.Error(t, sh.exec(ctx, "bogus"))
	require.Error(t, sh.exec(ctx, "fetch abc"))
	require.Error(t, sh.exec(ctx, "read 3"), "page 3 is not held")
	require.Error(t, sh.exec(ctx, "write 0 1"))
	require.ErrorIs(t, sh.exec(ctx, "flush 9"), flushmanager.ErrPageNotFound)
	require.ErrorIs(t, sh.exec(ctx, "quit"), errExit)
	require.NoError(t, sh.exec(ctx, "   "))
}

func TestShell_WriteOutOfBounds(t *testing.T) {
	sh, out := newTestShell(t, 1)
	execLine(t, sh, out, "new")
	require.Error(t, sh.exec(context.Background(), "write 0 4095 ab"))
	require.NoError(t, sh.exec(context.Background(), "write 0 4094 ab"))
}

func TestShell_Backup(t *testing.T) {
	sh, out := newTestShell(t, 2)
	execLine(t, sh, out, "new")
	execLine(t, sh, out, "write 0 0 payload")

	dst := filepath.Join(t.TempDir(), "copy.heap")
	require.Contains(t, execLine(t, sh, out, "backup "+dst), "sha256=")

	copyDisk, err := flushmanager.OpenDiskManager(dst)
	require.NoError(t, err)
	defer copyDisk.Close()
	page := new(pagemanager.Page)
	require.NoError(t, copyDisk.ReadPageData(0, page))
	require.Equal(t, "payload", string(page[:7]))
}

func TestAfterFields(t *testing.T) {
	require.Equal(t, "a  b", afterFields("write 1 2 a  b", 3))
	require.Equal(t, "x", afterFields("  write\t1 2   x", 3))
	require.Equal(t, "", afterFields("write 1", 3))
}

func TestShell_BackupOntoHeapFileFails(t *testing.T) {
	sh, out := newTestShell(t, 2)
	execLine(t, sh, out, "new")
	execLine(t, sh, out, "write 0 0 payload")

	err := sh.exec(context.Background(), "backup "+sh.disk.Path())
	require.ErrorIs(t, err, flushmanager.ErrBackupOverwrite)

	page := new(pagemanager.Page)
	require.NoError(t, sh.disk.ReadPageData(0, page))
	require.Equal(t, "payload", string(page[:7]), "the heap file keeps its pages")
}

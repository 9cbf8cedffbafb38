package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	flushmanager "github.com/sushant-115/gojodb/core/write_engine/flush_manager"
	"github.com/sushant-115/gojodb/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojodb/core/write_engine/page_manager"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultReadBytes = 64

var errExit = errors.New("exit requested")

// shell executes operator commands against one buffer pool. Leases taken by
// "new" and "fetch" stay held until "release".
type shell struct {
	bpm        *memtable.BufferPoolManager
	disk       *flushmanager.DiskManager
	out        io.Writer
	logger     *zap.Logger
	tracer     trace.Tracer
	backupRate int64
	leases     map[pagemanager.PageID][]*memtable.PageLease
}

func newShell(bpm *memtable.BufferPoolManager, disk *flushmanager.DiskManager, out io.Writer, logger *zap.Logger, tracer trace.Tracer, backupRate int64) *shell {
	return &shell{
		bpm:        bpm,
		disk:       disk,
		out:        out,
		logger:     logger,
		tracer:     tracer,
		backupRate: backupRate,
		leases:     make(map[pagemanager.PageID][]*memtable.PageLease),
	}
}

// exec runs one command line. It returns errExit for "exit".
func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	ctx, span := s.tracer.Start(ctx, "shell."+cmd, trace.WithAttributes(attribute.String("command", line)))
	defer span.End()

	err := s.dispatch(ctx, cmd, args, line)
	if err != nil && !errors.Is(err, errExit) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *shell) dispatch(ctx context.Context, cmd string, args []string, line string) error {
	switch cmd {
	case "help":
		s.help()
		return nil
	case "new":
		return s.newPage()
	case "fetch":
		return s.withPageID(args, 1, s.fetch)
	case "read":
		return s.withPageID(args, 1, func(id pagemanager.PageID) error { return s.read(id, args[1:]) })
	case "write":
		if len(args) < 3 {
			return errors.New("usage: write <page_id> <offset> <text>")
		}
		return s.withPageID(args, 3, func(id pagemanager.PageID) error {
			return s.write(id, args[1], afterFields(line, 3))
		})
	case "release":
		return s.withPageID(args, 1, s.release)
	case "flush":
		if len(args) == 0 {
			if err := s.bpm.FlushAllPages(); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "OK: flushed all dirty pages")
			return nil
		}
		return s.withPageID(args, 1, func(id pagemanager.PageID) error {
			if err := s.bpm.FlushPage(id); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "OK: flushed page %s\n", id)
			return nil
		})
	case "stats":
		s.stats()
		return nil
	case "backup":
		if len(args) != 1 {
			return errors.New("usage: backup <dst_path>")
		}
		return s.backup(ctx, args[0])
	case "exit", "quit":
		return errExit
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
}

// afterFields returns line with its first n fields and the following blanks cut off,
// keeping the remaining text verbatim.
func afterFields(line string, n int) string {
	rest := strings.TrimLeft(line, " \t")
	for i := 0; i < n; i++ {
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			return ""
		}
		rest = strings.TrimLeft(rest[end:], " \t")
	}
	return rest
}

func (s *shell) withPageID(args []string, minArgs int, fn func(pagemanager.PageID) error) error {
	if len(args) < minArgs {
		return fmt.Errorf("expected at least %d argument(s)", minArgs)
	}
	raw, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad page id %q: %w", args[0], err)
	}
	return fn(pagemanager.PageID(raw))
}

func (s *shell) newPage() error {
	lease, err := s.bpm.NewPage()
	if err != nil {
		return err
	}
	s.leases[lease.PageID()] = append(s.leases[lease.PageID()], lease)
	fmt.Fprintf(s.out, "OK: new page %s (held)\n", lease.PageID())
	return nil
}

func (s *shell) fetch(id pagemanager.PageID) error {
	lease, err := s.bpm.FetchPage(id)
	if err != nil {
		if errors.Is(err, flushmanager.ErrNoFreeBuffer) {
			return fmt.Errorf("%w (release a page and retry)", err)
		}
		return err
	}
	s.leases[id] = append(s.leases[id], lease)
	fmt.Fprintf(s.out, "OK: page %s held (%d lease(s))\n", id, len(s.leases[id]))
	return nil
}

func (s *shell) held(id pagemanager.PageID) (*memtable.PageLease, error) {
	held := s.leases[id]
	if len(held) == 0 {
		return nil, fmt.Errorf("page %s is not held, fetch it first", id)
	}
	return held[len(held)-1], nil
}

func (s *shell) read(id pagemanager.PageID, rest []string) error {
	lease, err := s.held(id)
	if err != nil {
		return err
	}
	n := defaultReadBytes
	if len(rest) > 0 {
		if n, err = strconv.Atoi(rest[0]); err != nil || n < 0 || n > pagemanager.PageSize {
			return fmt.Errorf("bad byte count %q", rest[0])
		}
	}
	page := lease.Data()
	fmt.Fprint(s.out, hex.Dump(page[:n]))
	return nil
}

func (s *shell) write(id pagemanager.PageID, rawOffset, text string) error {
	lease, err := s.held(id)
	if err != nil {
		return err
	}
	offset, err := strconv.Atoi(rawOffset)
	if err != nil || offset < 0 || offset+len(text) > pagemanager.PageSize {
		return fmt.Errorf("offset %q with %d bytes does not fit in a page", rawOffset, len(text))
	}
	if err := lease.Write(func(p *pagemanager.Page) { copy(p[offset:], text) }); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "OK: wrote %d bytes to page %s at offset %d\n", len(text), id, offset)
	return nil
}

func (s *shell) release(id pagemanager.PageID) error {
	lease, err := s.held(id)
	if err != nil {
		return err
	}
	if err := lease.Release(); err != nil {
		return err
	}
	held := s.leases[id]
	if len(held) == 1 {
		delete(s.leases, id)
	} else {
		s.leases[id] = held[:len(held)-1]
	}
	fmt.Fprintf(s.out, "OK: released page %s\n", id)
	return nil
}

func (s *shell) stats() {
	st := s.bpm.Stats()
	fmt.Fprintf(s.out, "capacity=%d resident=%d pinned=%d dirty=%d\n", st.Capacity, st.Resident, st.Pinned, st.Dirty)
	fmt.Fprintf(s.out, "hits=%d misses=%d evictions=%d flushes=%d exhausted=%d\n",
		st.Hits, st.Misses, st.Evictions, st.Flushes, st.Exhausted)
	fmt.Fprintf(s.out, "heap_file=%s next_page_id=%d\n", s.disk.Path(), s.disk.NumPages())

	ids := make([]pagemanager.PageID, 0, len(s.leases))
	for id := range s.leases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(s.out, "held page=%s leases=%d\n", id, len(s.leases[id]))
	}
}

func (s *shell) backup(ctx context.Context, dst string) error {
	if err := s.bpm.FlushAllPages(); err != nil {
		return fmt.Errorf("flush before backup: %w", err)
	}
	sum, err := flushmanager.CopyHeapFileThrottled(ctx, s.disk.Path(), dst, s.backupRate)
	if err != nil {
		return err
	}
	s.logger.Info("Heap file backed up", zap.String("dst", dst), zap.String("sha256", hex.EncodeToString(sum)))
	fmt.Fprintf(s.out, "OK: backup written to %s sha256=%x\n", dst, sum)
	return nil
}

// close releases every held lease and flushes, so pages written in the session reach the heap file.
func (s *shell) close() error {
	for id, held := range s.leases {
		for _, lease := range held {
			if err := lease.Release(); err != nil {
				s.logger.Warn("Failed to release lease on exit", zap.Stringer("page_id", id), zap.Error(err))
			}
		}
		delete(s.leases, id)
	}
	return s.bpm.FlushAllPages()
}

func (s *shell) help() {
	fmt.Fprint(s.out, `Commands:
  new                              allocate a page and hold it
  fetch <page_id>                  hold a page, loading it from disk if needed
  read <page_id> [n]               hex dump the first n bytes of a held page
  write <page_id> <offset> <text>  write text into a held page
  release <page_id>                drop one hold on a page
  flush [page_id]                  write dirty pages back to the heap file
  stats                            buffer pool statistics
  backup <dst_path>                flush and copy the heap file
  exit                             release holds, flush and quit
`)
}

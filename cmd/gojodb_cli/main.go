package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	flushmanager "github.com/sushant-115/gojodb/core/write_engine/flush_manager"
	"github.com/sushant-115/gojodb/core/write_engine/memtable"
	internaltelemetry "github.com/sushant-115/gojodb/internal/telemetry"
	"github.com/sushant-115/gojodb/pkg/config"
	"github.com/sushant-115/gojodb/pkg/logger"
	"github.com/sushant-115/gojodb/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	heapFile   = flag.String("heap_file", "", "Heap file path (overrides config)")
	poolSize   = flag.Int("pool_size", 0, "Number of frames in the buffer pool (overrides config)")
	logLevel   = flag.String("log_level", "", "Log level (overrides config)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatalf("gojodb_cli: %v", err)
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return config.Config{}, err
		}
	}
	if *heapFile != "" {
		cfg.Storage.HeapFile = *heapFile
	}
	if *poolSize != 0 {
		cfg.Storage.PoolSize = *poolSize
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	return cfg, cfg.Validate()
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	zlogger, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()
	defer zlogger.Sync()
	zlogger = zlogger.With(zap.String("session_id", uuid.NewString()))

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			zlogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	metrics, err := internaltelemetry.NewBufferPoolMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("failed to register buffer pool metrics: %w", err)
	}

	if dir := filepath.Dir(cfg.Storage.HeapFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}
	disk, err := flushmanager.OpenDiskManager(cfg.Storage.HeapFile,
		flushmanager.WithDiskLogger(zlogger), flushmanager.WithDiskMetrics(metrics))
	if err != nil {
		return err
	}
	defer func() {
		if err := disk.Close(); err != nil {
			zlogger.Error("Failed to close heap file", zap.Error(err))
		}
	}()

	bpm, err := memtable.NewBufferPoolManager(cfg.Storage.PoolSize, disk,
		memtable.WithLogger(zlogger), memtable.WithMetrics(metrics))
	if err != nil {
		return err
	}

	sh := newShell(bpm, disk, os.Stdout, zlogger, tel.Tracer, cfg.Backup.BytesPerSec)
	defer func() {
		if err := sh.close(); err != nil {
			zlogger.Error("Failed to flush on exit", zap.Error(err))
		}
	}()
	return repl(sh)
}

func repl(sh *shell) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojodb> ",
		HistoryFile:     filepath.Join(os.TempDir(), "gojodb_cli.history"),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(sh.out, "gojodb page cache shell. Type help for commands.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if err := sh.exec(context.Background(), line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintf(sh.out, "ERROR: %v\n", err)
		}
	}
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("new"),
	readline.PcItem("fetch"),
	readline.PcItem("read"),
	readline.PcItem("write"),
	readline.PcItem("release"),
	readline.PcItem("flush"),
	readline.PcItem("stats"),
	readline.PcItem("backup"),
	readline.PcItem("exit"),
)

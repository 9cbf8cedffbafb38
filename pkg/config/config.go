// Package config loads the YAML configuration of the page cache shell.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/sushant-115/gojodb/pkg/logger"
	"github.com/sushant-115/gojodb/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// StorageConfig describes the heap file and the buffer pool in front of it.
type StorageConfig struct {
	HeapFile string `yaml:"heap_file"`
	PoolSize int    `yaml:"pool_size"`
}

// BackupConfig throttles heap file backups. BytesPerSec <= 0 means unlimited.
type BackupConfig struct {
	BytesPerSec int64 `yaml:"bytes_per_sec"`
}

type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Backup    BackupConfig     `yaml:"backup"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			HeapFile: "data/gojodb.heap",
			PoolSize: 64,
		},
		Backup: BackupConfig{BytesPerSec: 16 * 1024 * 1024},
		Logger: logger.Config{Level: "info", Format: "console", OutputFile: "stderr"},
		Telemetry: telemetry.Config{
			Enabled:     false,
			ServiceName: "gojodb",
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Storage.HeapFile == "" {
		errs = append(errs, errors.New("storage.heap_file must be set"))
	}
	if c.Storage.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("storage.pool_size must be at least 1, got %d", c.Storage.PoolSize))
	}
	if c.Telemetry.PrometheusPort < 0 || c.Telemetry.PrometheusPort > 65535 {
		errs = append(errs, fmt.Errorf("telemetry.prometheus_port out of range: %d", c.Telemetry.PrometheusPort))
	}
	return errors.Join(errs...)
}

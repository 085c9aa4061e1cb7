package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/INLOpen/nexusms/core"
	"gopkg.in/yaml.v3"
)

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stderr", "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol    string `yaml:"protocol"` // "grpc" or "http"
	ServiceName string `yaml:"service_name"`
}

// DebugConfig controls the debug HTTP server.
type DebugConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	PProfEnabled     bool   `yaml:"pprof_enabled"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled bool   `yaml:"monitor_ui_enabled"`
}

// WriterConfig tunes container builds.
type WriterConfig struct {
	OutputDir         string `yaml:"output_dir"`
	FallbackDir       string `yaml:"fallback_dir"` // empty: os.TempDir()
	FormatVersion     int32  `yaml:"format_version"`
	BucketPeaks       int    `yaml:"bucket_peaks"`
	MaxResidentPeaks  int    `yaml:"max_resident_peaks"`
	MinAllotment      int    `yaml:"min_allotment"`
	MemoryBudgetBytes uint64 `yaml:"memory_budget_bytes"` // 0: probe available memory
	Preallocate       bool   `yaml:"preallocate"`
	LockTimeout       string `yaml:"lock_timeout"`
	Parallelism       int    `yaml:"parallelism"` // concurrent builds in the CLI
}

// ReaderConfig tunes opened containers.
type ReaderConfig struct {
	LowerCacheRecords        int `yaml:"lower_cache_records"`
	HigherCacheRecords       int `yaml:"higher_cache_records"`
	CacheActivationThreshold int `yaml:"cache_activation_threshold"`
	DIAWindowThreshold       int `yaml:"dia_window_threshold"`
	SpectrumCacheCapacity    int `yaml:"spectrum_cache_capacity"`
}

// ScanLogConfig controls scan journals written by the CLI.
type ScanLogConfig struct {
	Compression string `yaml:"compression"` // none, snappy, lz4, zstd
}

// Config is the top-level configuration struct.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Debug   DebugConfig   `yaml:"debug"`
	Writer  WriterConfig  `yaml:"writer"`
	Reader  ReaderConfig  `yaml:"reader"`
	ScanLog ScanLogConfig `yaml:"scanlog"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			File:   "nexusms.log",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "nexusms",
		},
		Debug: DebugConfig{
			Enabled:          false,
			ListenAddress:    "127.0.0.1:6060",
			PProfEnabled:     true,
			MetricsEnabled:   true,
			MonitorUIEnabled: true,
		},
		Writer: WriterConfig{
			OutputDir:        "",
			FormatVersion:    core.FormatVersion,
			BucketPeaks:      1_000_000,
			MaxResidentPeaks: 25_000_000,
			MinAllotment:     5,
			Preallocate:      true,
			LockTimeout:      "5s",
			Parallelism:      2,
		},
		Reader: ReaderConfig{
			LowerCacheRecords:        0,
			HigherCacheRecords:       0,
			CacheActivationThreshold: 20,
			DIAWindowThreshold:       1000,
			SpectrumCacheCapacity:    256,
		},
		ScanLog: ScanLogConfig{
			Compression: "zstd",
		},
	}
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Validate rejects settings the writer or reader cannot honour.
func (c *Config) Validate() error {
	var errs []error
	w := c.Writer
	if w.FormatVersion < core.EarliestFormatVersion || w.FormatVersion > core.FormatVersion {
		errs = append(errs, fmt.Errorf("writer.format_version %d outside [%d, %d]", w.FormatVersion, core.EarliestFormatVersion, core.FormatVersion))
	}
	if w.BucketPeaks <= 0 {
		errs = append(errs, fmt.Errorf("writer.bucket_peaks must be positive, got %d", w.BucketPeaks))
	}
	if w.MaxResidentPeaks <= 0 {
		errs = append(errs, fmt.Errorf("writer.max_resident_peaks must be positive, got %d", w.MaxResidentPeaks))
	}
	if w.MinAllotment <= 0 {
		errs = append(errs, fmt.Errorf("writer.min_allotment must be positive, got %d", w.MinAllotment))
	}
	r := c.Reader
	if r.LowerCacheRecords < 0 || r.HigherCacheRecords < 0 {
		errs = append(errs, errors.New("reader cache record counts must not be negative"))
	}
	if r.DIAWindowThreshold <= 0 {
		errs = append(errs, fmt.Errorf("reader.dia_window_threshold must be positive, got %d", r.DIAWindowThreshold))
	}
	if _, err := core.ParseCompressionType(c.ScanLog.Compression); err != nil {
		errs = append(errs, fmt.Errorf("scanlog.compression: %w", err))
	}
	switch c.Tracing.Protocol {
	case "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("tracing.protocol must be grpc or http, got %q", c.Tracing.Protocol))
	}
	return errors.Join(errs...)
}

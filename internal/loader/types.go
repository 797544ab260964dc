// Package loader - Configuration Types
//
// Defines the YAML configuration shared by tracelens and tracelensd.
//
//	parser:      reset marker handling, line limits
//	histogram:   LBA bin table
//	percentile:  P99 quantile, DDSketch summaries
//	export:      Parquet output for the SQL shell
//	share:       share service client and local blob store
//	server:      daemon listener and limits
//	logging:     level, format, rotated file
package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/analysis"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure.
type Config struct {
	Parser     ParserConfig      `yaml:"parser"`
	Histogram  analysis.BinTable `yaml:"histogram"`
	Percentile PercentileConfig  `yaml:"percentile"`
	Export     ExportConfig      `yaml:"export"`
	Share      ShareConfig       `yaml:"share"`
	Server     ServerConfig      `yaml:"server"`
	Logging    LoggingConfig     `yaml:"logging"`

	// Workers bounds concurrent file analyses.
	// Default: 4
	Workers int `yaml:"workers"`
}

// =============================================================================
// Analysis
// =============================================================================

// ParserConfig configures trace parsing.
type ParserConfig struct {
	// ResetMarker enables "#0x" reset lines. When false they are comments.
	// Default: true
	ResetMarker bool `yaml:"reset_marker"`

	// ResetPrefix starts a reset line.
	// Default: "#0x"
	ResetPrefix string `yaml:"reset_prefix"`

	// MaxLineLength is the number of leading bytes of a line that are parsed.
	MaxLineLength ByteSize `yaml:"max_line_length"`
}

// PercentileConfig configures inter-arrival percentiles.
type PercentileConfig struct {
	// Quantile is the inter-arrival quantile reported as P99.
	// Default: 0.99
	Quantile float64 `yaml:"quantile"`

	// Sketch enables DDSketch summaries.
	Sketch analysis.PercentileConfig `yaml:"sketch"`
}

// ExportConfig configures Parquet export.
type ExportConfig struct {
	// Dir receives exported files. Empty disables export unless requested
	// on the command line.
	Dir string `yaml:"dir"`

	// Compression: none, snappy, zstd, lz4, gzip.
	// Default: zstd
	Compression string `yaml:"compression"`

	RowGroupSize int      `yaml:"row_group_size"`
	PageSize     ByteSize `yaml:"page_size"`

	// MemoryLimit for the SQL engine, e.g. "1GB". Empty uses its default.
	MemoryLimit string `yaml:"memory_limit"`
}

// =============================================================================
// Sharing
// =============================================================================

// ShareConfig configures the share client and the daemon's store.
type ShareConfig struct {
	// URL is the share service root used by the CLI.
	URL string `yaml:"url"`

	// AuthKey authorizes uploads and deletes. Usually "${TRACELENS_AUTH_KEY}".
	AuthKey string `yaml:"auth_key"`

	// PageURL is the viewer page that share links point to.
	PageURL string `yaml:"page_url"`

	// Timeout bounds a single client request.
	Timeout Duration `yaml:"timeout"`

	// DataDir holds the daemon's blobs and index.
	DataDir string `yaml:"data_dir"`

	// TTL is how long shared traces are kept. 0 keeps them forever.
	// Default: 30 days
	TTL Duration `yaml:"ttl"`

	// SweepInterval is how often expired traces are removed.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// =============================================================================
// Server Configuration
// =============================================================================

// ServerConfig configures tracelensd.
type ServerConfig struct {
	// Listen is the HTTP listen address.
	// Default: "0.0.0.0:9180"
	Listen string `yaml:"listen"`

	// BaseURL is the public root used in share URLs.
	BaseURL string `yaml:"base_url"`

	MaxUploadSize ByteSize `yaml:"max_upload_size"`

	// Failed auth attempts allowed per client IP per window.
	AuthFailureLimit  int      `yaml:"auth_failure_limit"`
	AuthFailureWindow Duration `yaml:"auth_failure_window"`

	ReadTimeout     Duration `yaml:"read_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// CacheSize bounds cached analyses of stored traces.
	CacheSize int `yaml:"cache_size"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`

	// File enables logging to a rotated file instead of stderr.
	File     string         `yaml:"file"`
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Parser: ParserConfig{
			ResetMarker:   true,
			ResetPrefix:   config.DefaultResetPrefix,
			MaxLineLength: ByteSize(config.MaxLineLength),
		},
		Histogram: analysis.DefaultBinTable(),
		Percentile: PercentileConfig{
			Quantile: config.DefaultP99Quantile,
			Sketch: analysis.PercentileConfig{
				Enabled:  true,
				Accuracy: config.DefaultSketchAccuracy,
			},
		},
		Export: ExportConfig{
			Compression:  "zstd",
			RowGroupSize: 100000,
			PageSize:     ByteSize(1024 * 1024),
		},
		Share: ShareConfig{
			Timeout:       Duration(config.DefaultClientTimeout),
			DataDir:       "data",
			TTL:           Duration(config.DefaultShareTTL),
			SweepInterval: Duration(config.DefaultSweepInterval),
		},
		Server: ServerConfig{
			Listen:            config.DefaultListenAddress,
			MaxUploadSize:     ByteSize(config.DefaultMaxUploadSize),
			AuthFailureLimit:  config.DefaultAuthFailureLimit,
			AuthFailureWindow: Duration(config.DefaultAuthFailureWindow),
			ReadTimeout:       Duration(config.DefaultReadTimeout),
			ShutdownTimeout:   Duration(config.DefaultShutdownTimeout),
			CacheSize:         64,
		},
		Logging: LoggingConfig{
			Level: "info",
			Rotation: RotationConfig{
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		Workers: config.DefaultWorkers,
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// parseDuration extends time.ParseDuration with a "d" (day) suffix, so
// retention can be written as "30d".
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes that can be unmarshaled from YAML.
// Supports: "100MB", "1GB", "500KB", or plain bytes.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int64
		var i int64
		if err := unmarshal(&i); err != nil {
			return err
		}
		*b = ByteSize(i)
		return nil
	}
	size, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// byteUnits is ordered longest suffix first so "MB" is not read as "B".
var byteUnits = []struct {
	suffix string
	mult   int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseByteSize parses a size string like "100MB" or "1GB".
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	for _, u := range byteUnits {
		if numStr, ok := strings.CutSuffix(s, u.suffix); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse byte size %q: %w", s, err)
			}
			return n * u.mult, nil
		}
	}

	// Try as plain number
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return n, nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

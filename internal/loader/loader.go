// Package loader handles configuration file loading, validation, and
// conversion.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Converting the YAML representation into package options
//   - Watching the file for changes
package loader

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/export"
	"github.com/xtxerr/tracelens/internal/logging"
	"github.com/xtxerr/tracelens/internal/pipeline"
	"github.com/xtxerr/tracelens/internal/query"
	"github.com/xtxerr/tracelens/internal/server"
	"github.com/xtxerr/tracelens/internal/share"
	"github.com/xtxerr/tracelens/internal/share/store"
	"github.com/xtxerr/tracelens/internal/trace"
	"gopkg.in/yaml.v3"
)

var log = logging.Component("loader")

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. Values missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, errors.Join(errors.ErrInvalidConfig, fmt.Errorf("parse config: %w", err))
	}

	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration. The share auth key is checked by
// the daemon only, since the CLI can run without it.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if cfg.Parser.ResetMarker && strings.TrimSpace(cfg.Parser.ResetPrefix) == "" {
		errs.AddField("parser.reset_prefix", "cannot be empty when reset_marker is set")
	}
	if cfg.Parser.MaxLineLength <= 0 {
		errs.AddField("parser.max_line_length", "must be positive")
	}

	ac := cfg.ToAnalysisConfig()
	if err := ac.Validate(); err != nil {
		errs.Add(err)
	}

	switch cfg.Export.Compression {
	case "", "none", "snappy", "zstd", "lz4", "gzip":
	default:
		errs.AddField("export.compression", fmt.Sprintf("unknown algorithm %q", cfg.Export.Compression))
	}
	if cfg.Export.RowGroupSize <= 0 {
		errs.AddField("export.row_group_size", "must be positive")
	}

	if cfg.Share.TTL < 0 {
		errs.AddField("share.ttl", "cannot be negative")
	}
	if cfg.Share.TTL > 0 && cfg.Share.SweepInterval <= 0 {
		errs.AddField("share.sweep_interval", "must be positive when ttl is set")
	}

	if cfg.Server.Listen == "" {
		errs.AddField("server.listen", "cannot be empty")
	}
	if cfg.Server.MaxUploadSize <= 0 {
		errs.AddField("server.max_upload_size", "must be positive")
	}

	if cfg.Workers <= 0 {
		errs.AddField("workers", "must be positive")
	}

	return errs.Err()
}

// =============================================================================
// Conversion
// =============================================================================

// ToParserOptions converts the parser section.
func (c *Config) ToParserOptions() trace.Options {
	return trace.Options{
		ResetMarker:   c.Parser.ResetMarker,
		ResetPrefix:   c.Parser.ResetPrefix,
		MaxLineLength: int(c.Parser.MaxLineLength.Bytes()),
	}
}

// ToAnalysisConfig converts the histogram and percentile sections.
func (c *Config) ToAnalysisConfig() analysis.Config {
	return analysis.Config{
		Bins:       c.Histogram,
		Quantile:   c.Percentile.Quantile,
		Percentile: c.Percentile.Sketch,
	}
}

// ToPipelineOptions converts everything the pipeline needs.
func (c *Config) ToPipelineOptions() pipeline.Options {
	return pipeline.Options{
		Parser:   c.ToParserOptions(),
		Analysis: c.ToAnalysisConfig(),
	}
}

// ToExportOptions converts the export section.
func (c *Config) ToExportOptions() export.Options {
	return export.Options{
		Compression:  export.ParseCompressionType(c.Export.Compression),
		RowGroupSize: c.Export.RowGroupSize,
		PageSize:     int(c.Export.PageSize.Bytes()),
	}
}

// ToQueryConfig returns the SQL engine configuration for dir.
func (c *Config) ToQueryConfig(dir string) query.Config {
	return query.Config{
		Dir:         dir,
		MemoryLimit: c.Export.MemoryLimit,
	}
}

// ToStoreOptions converts the daemon's store settings.
func (c *Config) ToStoreOptions() store.Options {
	return store.Options{
		Dir:           c.Share.DataDir,
		TTL:           c.Share.TTL.Duration(),
		SweepInterval: c.Share.SweepInterval.Duration(),
		MaxSize:       c.Server.MaxUploadSize.Bytes(),
	}
}

// ToServerConfig converts the server section.
func (c *Config) ToServerConfig() server.Config {
	return server.Config{
		Listen:            c.Server.Listen,
		BaseURL:           c.Server.BaseURL,
		AuthKey:           c.Share.AuthKey,
		MaxUploadSize:     c.Server.MaxUploadSize.Bytes(),
		AuthFailureLimit:  c.Server.AuthFailureLimit,
		AuthFailureWindow: c.Server.AuthFailureWindow.Duration(),
		ReadTimeout:       c.Server.ReadTimeout.Duration(),
		ShutdownTimeout:   c.Server.ShutdownTimeout.Duration(),
		CacheSize:         c.Server.CacheSize,
	}
}

// ToShareConfig converts the share client settings.
func (c *Config) ToShareConfig() share.Config {
	return share.Config{
		BaseURL: c.Share.URL,
		AuthKey: c.Share.AuthKey,
		Timeout: c.Share.Timeout.Duration(),
	}
}

// =============================================================================
// Logging
// =============================================================================

// InitLogging initializes the global logger from the logging section.
// The returned closer is non-nil when logging to a file.
func InitLogging(cfg LoggingConfig) io.Closer {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File == "" {
		logging.Init(level, cfg.JSON)
		return nil
	}
	return logging.InitFile(logging.FileOptions{
		Path:       cfg.File,
		MaxSizeMB:  cfg.Rotation.MaxSizeMB,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAgeDays: cfg.Rotation.MaxAgeDays,
		Compress:   cfg.Rotation.Compress,
	}, level, cfg.JSON)
}

// =============================================================================
// Config Watcher
// =============================================================================

// Watcher polls a config file and hands every valid new version to a
// callback. Invalid versions are logged and skipped.
type Watcher struct {
	path     string
	interval time.Duration
	callback func(*Config)
	done     chan struct{}
	stopOnce sync.Once
	modTime  time.Time
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, interval time.Duration, callback func(*Config)) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching the config file.
func (w *Watcher) Start() {
	// Get initial mod time
	if info, err := os.Stat(w.path); err == nil {
		w.modTime = info.ModTime()
	}

	go w.watch()
}

// Stop stops watching.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) watch() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file when its modification time moved forward.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	if !info.ModTime().After(w.modTime) {
		return
	}
	w.modTime = info.ModTime()
	w.reload()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		err = Validate(cfg)
	}
	if err != nil {
		log.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}

	log.Info("config reloaded", "path", w.path)
	if w.callback != nil {
		w.callback(cfg)
	}
}

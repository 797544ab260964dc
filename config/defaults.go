// Package config provides configuration defaults and utilities
// for the tracelens application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import "time"

// =============================================================================
// Trace Format Defaults
// =============================================================================

const (
	// SectorSize is the byte size of one LBA unit. Offsets and request sizes
	// in a trace are expressed in sectors of this size.
	SectorSize = 512

	// DefaultResetPrefix marks a reset line. Everything up to and including
	// the last reset line of a trace is discarded.
	// Override via config: parser.reset_prefix
	DefaultResetPrefix = "#0x"

	// CommentPrefix starts a comment line. Reset lines are comments too.
	CommentPrefix = "#"

	// MinFields is the number of whitespace separated tokens a data line
	// must carry: time, device, offset, size, rw flag.
	MinFields = 5

	// MaxLineLength is the number of leading bytes of a trace line that are
	// parsed. The rest of a longer line is ignored.
	// Override via config: parser.max_line_length
	MaxLineLength = 1024 * 1024

	// MaxReportedDrops caps the dropped-line diagnostics kept per parse.
	// Dropped lines beyond the cap are still counted.
	MaxReportedDrops = 100
)

// =============================================================================
// Histogram Defaults
// =============================================================================

const (
	// DefaultBinSizeLBA is the smallest histogram bin (64 sectors = 32 KiB).
	// Override via config: histogram.default_bin_lba
	DefaultBinSizeLBA = 64

	// DefaultTargetBins is the bin count aimed for on small traces.
	// Override via config: histogram.target_bins
	DefaultTargetBins = 400

	// DefaultAdaptiveBelowMB is the offset range (MiB) under which bins are
	// scaled to DefaultTargetBins instead of taken from the tier table.
	// Override via config: histogram.adaptive_below_mb
	DefaultAdaptiveBelowMB = 100

	// DefaultFallbackBinLBA is used past the last tier (32 MiB).
	// Override via config: histogram.fallback_bin_lba
	DefaultFallbackBinLBA = (32 * 1024 * 1024) / SectorSize
)

// =============================================================================
// Percentile Defaults
// =============================================================================

const (
	// DefaultP99Quantile is the quantile reported as "P99".
	DefaultP99Quantile = 0.99

	// DefaultSketchAccuracy is the DDSketch relative accuracy (1%).
	// Override via config: percentile.accuracy
	DefaultSketchAccuracy = 0.01
)

// =============================================================================
// Presentation Defaults
// =============================================================================

const (
	// DefaultPageTitle is shown when no trace is loaded.
	DefaultPageTitle = "IO Trace Analyzer"

	// TraceExtension is the expected extension of trace files.
	TraceExtension = ".trace"

	// DefaultSharedFileName is used when a download carries no file name.
	DefaultSharedFileName = "shared_trace.trace"

	// DefaultReceivedFileName names traces that arrive without a name.
	DefaultReceivedFileName = "received_trace.trace"
)

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default daemon listen address.
	// Override via config: server.listen
	DefaultListenAddress = "0.0.0.0:9180"

	// DefaultMaxMessageSize limits protobuf message size to prevent OOM.
	// Override via config: server.max_message_size
	DefaultMaxMessageSize = 64 * 1024 * 1024

	// DefaultMaxUploadSize limits an uploaded trace body.
	// Override via config: server.max_upload_size
	DefaultMaxUploadSize = 256 * 1024 * 1024

	// DefaultReadTimeout bounds reading a full request including the body.
	DefaultReadTimeout = 2 * time.Minute

	// DefaultShutdownTimeout is how long in-flight requests may run on shutdown.
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultClientTimeout bounds a single share client request.
	DefaultClientTimeout = 2 * time.Minute
)

// =============================================================================
// Share Store Defaults
// =============================================================================

const (
	// DefaultShareTTL is how long a shared trace is kept.
	// Override via config: share.ttl
	DefaultShareTTL = 30 * 24 * time.Hour

	// DefaultSweepInterval is how often orphaned blobs are removed.
	// Override via config: share.sweep_interval
	DefaultSweepInterval = 10 * time.Minute
)

// =============================================================================
// Rate Limiting Defaults
// =============================================================================

const (
	// DefaultAuthFailureLimit is the max FAILED auth attempts per IP per window.
	// Only failed attempts are counted. A successful request resets the counter.
	// Override via config: server.auth_failure_limit
	DefaultAuthFailureLimit = 5

	// DefaultAuthFailureWindow is the window for counting failed attempts.
	DefaultAuthFailureWindow = time.Minute
)

// =============================================================================
// Worker Defaults
// =============================================================================

const (
	// DefaultWorkers is the number of trace files analyzed in parallel.
	// Override via flag: -workers
	DefaultWorkers = 4
)

// Package analysis derives statistics from parsed trace records.
//
// Every aggregate is a pure function of the record slice: read/write counts,
// the P99 inter-arrival time per request type, per-type scatter series and
// an offset histogram split by type. Analyze bundles them into a Result.
package analysis

import (
	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/logging"
	"github.com/xtxerr/tracelens/internal/trace"
)

var log = logging.Component("analysis")

// PercentileConfig controls the approximate distribution summary.
type PercentileConfig struct {
	Enabled  bool    `yaml:"enabled" json:"enabled"`
	Accuracy float64 `yaml:"accuracy" json:"accuracy"`
}

// Config controls Analyze.
type Config struct {
	Bins       BinTable
	Quantile   float64
	Percentile PercentileConfig
}

// DefaultConfig returns the default analysis configuration.
func DefaultConfig() Config {
	return Config{
		Bins:     DefaultBinTable(),
		Quantile: config.DefaultP99Quantile,
		Percentile: PercentileConfig{
			Enabled:  true,
			Accuracy: config.DefaultSketchAccuracy,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if err := c.Bins.Validate(); err != nil {
		v.Add(err)
	}
	if c.Quantile <= 0 || c.Quantile > 1 {
		v.AddField("quantile", "must be in (0, 1]")
	}
	if c.Percentile.Enabled && (c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy >= 1) {
		v.AddField("percentile.accuracy", "must be in (0, 1)")
	}

	return v.Err()
}

// Result holds every aggregate of one trace.
type Result struct {
	Records   int          `json:"records"`
	Counts    Counts       `json:"counts"`
	P99       InterArrival `json:"p99_inter_arrival_us"`
	Scatter   Scatter      `json:"scatter"`
	Histogram Histogram    `json:"histogram"`

	// Summary is nil when percentile sketches are disabled.
	Summary *Summary `json:"summary,omitempty"`
}

// IsEmpty returns true if the result was computed from no records.
func (r *Result) IsEmpty() bool {
	return r == nil || r.Records == 0
}

// Analyzer computes results with a fixed configuration.
// It holds no state between calls and is safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// New creates an Analyzer after validating cfg.
func New(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "analysis config")
	}
	return &Analyzer{cfg: cfg}, nil
}

// Config returns the analyzer configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze computes all aggregates of events.
func (a *Analyzer) Analyze(events []trace.IoEvent) *Result {
	res := &Result{
		Records:   len(events),
		Counts:    CountReadWrite(events),
		P99:       InterArrivalPercentiles(events, a.cfg.Quantile),
		Scatter:   ScatterSeries(events),
		Histogram: OffsetHistogram(events, a.cfg.Bins),
	}

	if a.cfg.Percentile.Enabled {
		summary, err := Summarize(events, a.cfg.Percentile.Accuracy)
		if err != nil {
			log.Warn("percentile summary unavailable", "error", err)
		} else {
			res.Summary = summary
		}
	}

	log.Debug("trace analyzed",
		"records", res.Records,
		"reads", res.Counts.Read,
		"writes", res.Counts.Write,
		"bin_size_lba", res.Histogram.BinSizeLBA,
		"bins", len(res.Histogram.Bins))

	return res
}

// Analyze computes all aggregates of events with cfg.
// An invalid cfg falls back to DefaultConfig.
func Analyze(events []trace.IoEvent, cfg Config) *Result {
	a, err := New(cfg)
	if err != nil {
		log.Warn("invalid analysis config, using defaults", "error", err)
		a = &Analyzer{cfg: DefaultConfig()}
	}
	return a.Analyze(events)
}

// Package pipeline connects trace inputs, the parser and the aggregator.
//
// A run ends in one of three ways:
//   - ok: the Outcome carries a Result.
//   - no data: the Outcome is returned together with errors.ErrNoData.
//     Callers present this as information, not as a failure.
//   - hard failure: the input could not be read or decoded (ErrRead,
//     ErrDecode). No Outcome is returned and aggregation never runs.
package pipeline

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/logging"
	"github.com/xtxerr/tracelens/internal/trace"
	"golang.org/x/sync/errgroup"
)

var log = logging.Component("pipeline")

// Options configures a Runner.
type Options struct {
	Parser   trace.Options
	Analysis analysis.Config
}

// DefaultOptions returns the default parser and analysis options.
func DefaultOptions() Options {
	return Options{
		Parser:   trace.DefaultOptions(),
		Analysis: analysis.DefaultConfig(),
	}
}

// Outcome is the result of one run.
type Outcome struct {
	// Name is the display name of the trace, usually its file name.
	Name string

	Compression trace.Compression
	Stats       trace.ParseStats
	Drops       []trace.LineError

	// Events are the parsed records; Result is nil when there are none.
	Events []trace.IoEvent
	Result *analysis.Result

	Duration time.Duration
}

// HasData returns true if the run produced a result.
func (o *Outcome) HasData() bool {
	return o != nil && o.Result != nil && !o.Result.IsEmpty()
}

// Title returns the page title for the outcome.
func (o *Outcome) Title() string {
	if !o.HasData() || strings.TrimSpace(o.Name) == "" {
		return config.DefaultPageTitle
	}
	return o.Name
}

// Runner runs the pipeline with fixed options.
// It holds no state between runs and is safe for concurrent use.
type Runner struct {
	parser   *trace.Parser
	analyzer *analysis.Analyzer
}

// New creates a Runner.
func New(opts Options) (*Runner, error) {
	a, err := analysis.New(opts.Analysis)
	if err != nil {
		return nil, err
	}
	return &Runner{
		parser:   trace.NewParser(opts.Parser),
		analyzer: a,
	}, nil
}

// Parser returns the runner's parser.
func (r *Runner) Parser() *trace.Parser {
	return r.parser
}

// Analyzer returns the runner's analyzer.
func (r *Runner) Analyzer() *analysis.Analyzer {
	return r.analyzer
}

// Run reads a trace from src, decompressing it if needed.
func (r *Runner) Run(name string, src io.Reader) (*Outcome, error) {
	in, err := trace.NewInput(src)
	if err != nil {
		return nil, errors.Wrapf(err, "trace %s", name)
	}
	defer in.Close()

	start := time.Now()
	rs, err := r.parser.ParseReader(in)
	if err != nil {
		log.Error("trace input failed", "trace", name, "error", err)
		return nil, errors.Wrapf(err, "trace %s", name)
	}

	out := r.finish(name, rs, start)
	out.Compression = in.Compression
	if !out.HasData() {
		return out, errors.Wrapf(errors.ErrNoData, "trace %s", name)
	}
	return out, nil
}

// RunText analyzes already decoded trace text.
func (r *Runner) RunText(name, text string) (*Outcome, error) {
	start := time.Now()
	out := r.finish(name, r.parser.Parse(text), start)
	if !out.HasData() {
		return out, errors.Wrapf(errors.ErrNoData, "trace %s", name)
	}
	return out, nil
}

// RunFile analyzes the trace at path ("-" for stdin).
func (r *Runner) RunFile(path string) (*Outcome, error) {
	in, err := trace.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	return r.Run(DisplayName(path), in)
}

func (r *Runner) finish(name string, rs *trace.RecordSet, start time.Time) *Outcome {
	out := &Outcome{
		Name:   name,
		Stats:  rs.Stats(),
		Drops:  rs.Drops(),
		Events: rs.Events(),
	}

	if !rs.IsEmpty() {
		out.Result = r.analyzer.Analyze(rs.Events())
	}
	out.Duration = time.Since(start)

	log.Info("trace processed",
		"trace", name,
		"records", out.Stats.Records,
		"dropped", out.Stats.Dropped,
		"reset_line", out.Stats.ResetLine,
		"duration", out.Duration)

	return out
}

// FileResult is the outcome of one file in RunFiles.
type FileResult struct {
	Path    string
	Outcome *Outcome
	Err     error
}

// RunFiles analyzes paths with at most workers files in flight.
// Failures of single files are reported in their FileResult; the returned
// error is only set when ctx ends before all files were scheduled.
// Results keep the order of paths.
func (r *Runner) RunFiles(ctx context.Context, paths []string, workers int) ([]FileResult, error) {
	if workers <= 0 {
		workers = config.DefaultWorkers
	}

	results := make([]FileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = FileResult{Path: path, Err: err}
				return nil
			}
			out, err := r.RunFile(path)
			results[i] = FileResult{Path: path, Outcome: out, Err: err}
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for i := range results {
			if results[i].Path == "" {
				results[i] = FileResult{Path: paths[i], Err: err}
			}
		}
		return results, err
	}
	return results, nil
}

// DisplayName returns the name shown for a trace path.
func DisplayName(path string) string {
	if path == "-" {
		return "stdin"
	}
	return filepath.Base(path)
}

// Package shell provides an interactive prompt for exploring analyzed traces.
//
// On a terminal the prompt uses go-prompt with command completion; otherwise
// commands are read line by line, which keeps the shell scriptable:
//
//	echo "summary" | tracelens -shell disk.trace
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/export"
	"github.com/xtxerr/tracelens/internal/logging"
	"github.com/xtxerr/tracelens/internal/pipeline"
	"github.com/xtxerr/tracelens/internal/query"
	"github.com/xtxerr/tracelens/internal/report"
	"golang.org/x/term"
)

var log = logging.Component("shell")

type command struct {
	name string
	args string
	help string
	run  func(s *Shell, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"help", "", "show this help", (*Shell).cmdHelp},
		{"list", "", "list loaded traces", (*Shell).cmdList},
		{"load", "PATH", "analyze a trace file", (*Shell).cmdLoad},
		{"use", "NAME", "select a loaded trace", (*Shell).cmdUse},
		{"summary", "", "print the summary of the selected trace", (*Shell).cmdSummary},
		{"counts", "", "print read and write counts", (*Shell).cmdCounts},
		{"p99", "[QUANTILE]", "print inter-arrival percentiles", (*Shell).cmdP99},
		{"hist", "[N]", "print the first N histogram bins", (*Shell).cmdHist},
		{"scatter", "[N]", "print the first N scatter points per type", (*Shell).cmdScatter},
		{"drops", "", "print dropped line diagnostics", (*Shell).cmdDrops},
		{"export", "", "export the selected trace to Parquet", (*Shell).cmdExport},
		{"sql", "QUERY", "run SQL over exported traces (views: events, bins)", (*Shell).cmdSQL},
		{"exit", "", "leave the shell", (*Shell).cmdExit},
	}
}

// Config configures a Shell.
type Config struct {
	Runner    *pipeline.Runner
	ExportDir string
	Export    export.Options
	Prefix    string

	// MemoryLimit is passed to the SQL engine.
	MemoryLimit string
}

// Shell holds the loaded traces and the query service.
type Shell struct {
	cfg Config
	out io.Writer

	traces  map[string]*pipeline.Outcome
	current string
	query   *query.Service
	done    bool
}

// New creates a shell writing to out.
func New(cfg Config, out io.Writer) *Shell {
	if cfg.Prefix == "" {
		cfg.Prefix = "tracelens> "
	}
	return &Shell{
		cfg:    cfg,
		out:    out,
		traces: make(map[string]*pipeline.Outcome),
	}
}

// Add registers an analyzed trace and selects it.
func (s *Shell) Add(out *pipeline.Outcome) {
	s.traces[out.Name] = out
	s.current = out.Name
}

// Close releases the query service.
func (s *Shell) Close() error {
	if s.query != nil {
		return s.query.Close()
	}
	return nil
}

// Done reports whether exit was requested.
func (s *Shell) Done() bool {
	return s.done
}

// Execute runs one command line. Errors are printed, not returned.
func (s *Shell) Execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	name, rest, _ := strings.Cut(line, " ")
	for _, c := range commands {
		if c.name != name && !(name == "quit" && c.name == "exit") {
			continue
		}
		var args []string
		if c.name == "sql" {
			if q := strings.TrimSpace(rest); q != "" {
				args = []string{q}
			}
		} else {
			args = strings.Fields(rest)
		}
		if err := c.run(s, args); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			log.Debug("command failed", "command", name, "error", err)
		}
		return
	}
	fmt.Fprintf(s.out, "unknown command %q, try help\n", name)
}

// Complete suggests command names and loaded trace names.
func (s *Shell) Complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	word := d.GetWordBeforeCursor()

	if !strings.Contains(before, " ") {
		suggests := make([]prompt.Suggest, 0, len(commands))
		for _, c := range commands {
			suggests = append(suggests, prompt.Suggest{Text: c.name, Description: c.help})
		}
		return prompt.FilterHasPrefix(suggests, word, true)
	}

	if strings.HasPrefix(before, "use ") {
		var suggests []prompt.Suggest
		for _, name := range s.names() {
			suggests = append(suggests, prompt.Suggest{Text: name})
		}
		return prompt.FilterHasPrefix(suggests, word, false)
	}
	return nil
}

// Run reads commands from in until exit, EOF or ctx is done. A terminal
// gets the interactive prompt.
func (s *Shell) Run(ctx context.Context, in *os.File) error {
	if term.IsTerminal(int(in.Fd())) {
		p := prompt.New(
			s.Execute,
			s.Complete,
			prompt.OptionPrefix(s.cfg.Prefix),
			prompt.OptionTitle("tracelens"),
			prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
				return breakline && s.done
			}),
		)
		p.Run()
		return nil
	}
	return s.RunLines(ctx, in)
}

// RunLines executes one command per line of r.
func (s *Shell) RunLines(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for !s.done && sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Execute(sc.Text())
	}
	return sc.Err()
}

func (s *Shell) names() []string {
	names := make([]string, 0, len(s.traces))
	for name := range s.traces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Shell) selected() (*pipeline.Outcome, error) {
	out, ok := s.traces[s.current]
	if !ok {
		return nil, errors.Wrap(errors.ErrTraceNotFound, "no trace selected")
	}
	if !out.HasData() {
		return nil, errors.Wrapf(errors.ErrNoData, "trace %s", out.Name)
	}
	return out, nil
}

func intArg(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, errors.NewInvalidValue("count", args[0], "expected a non-negative integer")
	}
	return n, nil
}

// =============================================================================
// Commands
// =============================================================================

func (s *Shell) cmdHelp([]string) error {
	for _, c := range commands {
		usage := c.name
		if c.args != "" {
			usage += " " + c.args
		}
		fmt.Fprintf(s.out, "  %-18s %s\n", usage, c.help)
	}
	return nil
}

func (s *Shell) cmdList([]string) error {
	if len(s.traces) == 0 {
		fmt.Fprintln(s.out, "no traces loaded")
		return nil
	}
	for _, name := range s.names() {
		mark := " "
		if name == s.current {
			mark = "*"
		}
		out := s.traces[name]
		fmt.Fprintf(s.out, "%s %s (%d records, %d dropped)\n", mark, name, out.Stats.Records, out.Stats.Dropped)
	}
	return nil
}

func (s *Shell) cmdLoad(args []string) error {
	if len(args) != 1 {
		return errors.NewMissingField("path")
	}
	if s.cfg.Runner == nil {
		return errors.Wrap(errors.ErrInternal, "no pipeline configured")
	}

	out, err := s.cfg.Runner.RunFile(args[0])
	if err != nil && !errors.IsNoData(err) {
		return err
	}
	s.Add(out)
	if err != nil {
		fmt.Fprintf(s.out, "loaded %s: no valid trace data\n", out.Name)
		return nil
	}
	fmt.Fprintf(s.out, "loaded %s: %d records\n", out.Name, out.Stats.Records)
	return nil
}

func (s *Shell) cmdUse(args []string) error {
	if len(args) != 1 {
		return errors.NewMissingField("name")
	}
	if _, ok := s.traces[args[0]]; !ok {
		return errors.NewNotFound("trace", args[0])
	}
	s.current = args[0]
	return nil
}

func (s *Shell) cmdSummary([]string) error {
	out, ok := s.traces[s.current]
	if !ok {
		return errors.Wrap(errors.ErrTraceNotFound, "no trace selected")
	}
	return report.NewText(s.out, report.TextOptions{MaxBins: 20, Summary: true}).Consume(out.Name, out.Result)
}

func (s *Shell) cmdCounts([]string) error {
	out, err := s.selected()
	if err != nil {
		return err
	}
	c := out.Result.Counts
	fmt.Fprintf(s.out, "read=%d write=%d total=%d\n", c.Read, c.Write, c.Total())
	return nil
}

func (s *Shell) cmdP99(args []string) error {
	out, err := s.selected()
	if err != nil {
		return err
	}

	ia := out.Result.P99
	if len(args) > 0 {
		q, err := strconv.ParseFloat(args[0], 64)
		if err != nil || q <= 0 || q > 1 {
			return errors.NewInvalidValue("quantile", args[0], "must be in (0, 1]")
		}
		ia = analysis.InterArrivalPercentiles(out.Events, q)
	}
	fmt.Fprintf(s.out, "read:  %s\nwrite: %s\n", report.FormatMicros(ia.Read), report.FormatMicros(ia.Write))
	return nil
}

func (s *Shell) cmdHist(args []string) error {
	out, err := s.selected()
	if err != nil {
		return err
	}
	n, err := intArg(args, 20)
	if err != nil {
		return err
	}

	h := &out.Result.Histogram
	fmt.Fprintf(s.out, "bin size %d sectors, %d bins\n", h.BinSizeLBA, len(h.Bins))
	for i, b := range h.Bins {
		if i == n {
			fmt.Fprintf(s.out, "... %d more\n", len(h.Bins)-n)
			break
		}
		fmt.Fprintf(s.out, "%s read=%d write=%d\n", report.FormatBinRange(h, b), b.Read, b.Write)
	}
	return nil
}

func (s *Shell) cmdScatter(args []string) error {
	out, err := s.selected()
	if err != nil {
		return err
	}
	n, err := intArg(args, 10)
	if err != nil {
		return err
	}

	for _, series := range []struct {
		name   string
		points []analysis.Point
	}{{"read", out.Result.Scatter.Read}, {"write", out.Result.Scatter.Write}} {
		fmt.Fprintf(s.out, "%s: %d points\n", series.name, len(series.points))
		for i, p := range series.points {
			if i == n {
				break
			}
			fmt.Fprintf(s.out, "  %.3f ms  %s  %.1f KB\n", p.TimeMillis(), report.FormatOffset(p.Offset), p.SizeKB())
		}
	}
	return nil
}

func (s *Shell) cmdDrops([]string) error {
	out, ok := s.traces[s.current]
	if !ok {
		return errors.Wrap(errors.ErrTraceNotFound, "no trace selected")
	}
	fmt.Fprintf(s.out, "%d dropped lines\n", out.Stats.Dropped)
	for _, d := range out.Drops {
		fmt.Fprintf(s.out, "  line %d: %s: %q\n", d.Line, d.Reason, d.Text)
	}
	return nil
}

func (s *Shell) cmdExport([]string) error {
	out, err := s.selected()
	if err != nil {
		return err
	}
	if s.cfg.ExportDir == "" {
		return errors.NewMissingField("export dir")
	}

	files, err := export.Export(s.cfg.ExportDir, out.Name, out.Events, out.Result, s.cfg.Export)
	if err != nil {
		return err
	}
	if s.query != nil {
		if err := s.query.Refresh(context.Background()); err != nil {
			return err
		}
	}
	fmt.Fprintf(s.out, "exported %s and %s\n", files.Events, files.Bins)
	return nil
}

func (s *Shell) cmdSQL(args []string) error {
	if len(args) == 0 {
		return errors.NewMissingField("query")
	}
	if s.cfg.ExportDir == "" {
		return errors.NewMissingField("export dir")
	}

	if s.query == nil {
		svc, err := query.New(query.Config{Dir: s.cfg.ExportDir, MemoryLimit: s.cfg.MemoryLimit})
		if err != nil {
			return err
		}
		s.query = svc
	}

	cols, rows, err := s.query.ExecuteSQL(context.Background(), args[0])
	if err != nil {
		return err
	}

	return report.WriteRows(s.out, cols, rows)
}

func (s *Shell) cmdExit([]string) error {
	s.done = true
	return nil
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/export"
	"github.com/xtxerr/tracelens/internal/loader"
	"github.com/xtxerr/tracelens/internal/logging"
	"github.com/xtxerr/tracelens/internal/pipeline"
	"github.com/xtxerr/tracelens/internal/query"
	"github.com/xtxerr/tracelens/internal/report"
	"github.com/xtxerr/tracelens/internal/share"
	"github.com/xtxerr/tracelens/internal/shell"
	"github.com/xtxerr/tracelens/internal/validation"
	"github.com/xtxerr/tracelens/internal/wire"
)

var log = logging.Component("main")

// maxPrintedDrops bounds the dropped lines echoed per trace.
const maxPrintedDrops = 5

// documentWriter is implemented by the structured stream renderers.
type documentWriter interface {
	WriteDocument(doc *report.Document) error
}

type app struct {
	cfg    *loader.Config
	o      *options
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer

	format report.Format
	runner *pipeline.Runner
	stream report.Consumer
	html   *report.HTML
	client *share.Client

	outcomes []*pipeline.Outcome
	total    int
	failed   int
}

func newApp(cfg *loader.Config, o *options, stdin *os.File, stdout, stderr io.Writer) (*app, error) {
	if len(o.files) == 0 && o.fetch == "" && o.delete == "" && !o.shell {
		return nil, errors.NewMissingField("trace file")
	}

	format, err := report.ParseFormat(o.format)
	if err != nil {
		return nil, err
	}

	v := errors.NewValidationErrors()
	for _, f := range o.files {
		v.Add(validation.ValidateTraceFile(f))
	}
	if o.sql != "" && cfg.Export.Dir == "" {
		v.AddMissing("export dir (-export) for -sql")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	runner, err := pipeline.New(cfg.ToPipelineOptions())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		o:      o,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		format: format,
		runner: runner,
	}

	switch format {
	case report.FormatJSON:
		a.stream = report.NewJSON(stdout, false)
	case report.FormatProtobuf:
		a.stream = wire.NewWriter(stdout)
	default:
		a.stream = report.NewText(stdout, report.TextOptions{MaxBins: 20, Summary: true})
	}
	if o.html != "" {
		a.html = report.NewHTML(o.html)
	}
	return a, nil
}

func (a *app) close() {
	if err := report.Flush(a.stream); err != nil {
		log.Warn("flush output", "error", err)
	}
}

func (a *app) run(ctx context.Context) error {
	if a.o.delete != "" {
		if err := a.deleteShared(ctx); err != nil {
			return err
		}
	}

	if a.o.fetch != "" {
		a.total++
		name, out, err := a.fetchShared(ctx)
		a.handle(ctx, name, "", out, err)
	}

	if len(a.o.files) > 0 {
		results, err := a.runner.RunFiles(ctx, a.o.files, a.cfg.Workers)
		for _, r := range results {
			a.total++
			a.handle(ctx, pipeline.DisplayName(r.Path), r.Path, r.Outcome, r.Err)
		}
		if err != nil {
			return err
		}
	}

	if err := report.Flush(a.stream); err != nil {
		return err
	}

	if a.o.sql != "" {
		if err := a.runSQL(ctx); err != nil {
			return err
		}
	}

	if a.o.shell {
		if err := a.runShell(ctx); err != nil {
			return err
		}
	}

	if a.failed > 0 {
		return fmt.Errorf("%d of %d traces failed", a.failed, a.total)
	}
	return nil
}

// handle presents one outcome. Hard failures and traces without data remove
// a previously written chart page.
func (a *app) handle(ctx context.Context, name, path string, out *pipeline.Outcome, err error) {
	if err != nil && !errors.IsNoData(err) {
		a.failed++
		log.Error("trace failed", "trace", name, "error", err)
		fmt.Fprintf(a.stderr, "tracelens: %s: %v\n", name, err)
		a.removeStalePage(name)
		if dw, ok := a.stream.(documentWriter); ok {
			if werr := dw.WriteDocument(report.NewErrorDocument(name, err)); werr != nil {
				log.Warn("write error document", "trace", name, "error", werr)
			}
		}
		return
	}

	a.outcomes = append(a.outcomes, out)
	a.reportDrops(out)

	if !out.HasData() && a.format != report.FormatText {
		fmt.Fprintf(a.stderr, "tracelens: %s: no valid trace data\n", name)
	}

	consumers := report.Multi{a.stream}
	if a.html != nil {
		consumers = append(consumers, a.html)
	}
	if cerr := consumers.Consume(name, out.Result); cerr != nil {
		a.failed++
		fmt.Fprintf(a.stderr, "tracelens: %s: %v\n", name, cerr)
		return
	}

	if !out.HasData() {
		return
	}

	if a.cfg.Export.Dir != "" {
		if err := a.export(out); err != nil {
			a.failed++
			fmt.Fprintf(a.stderr, "tracelens: %s: %v\n", name, err)
		}
	}
	if a.o.shareURL != "" && path != "" {
		if err := a.upload(ctx, path); err != nil {
			a.failed++
			fmt.Fprintf(a.stderr, "tracelens: %s: share: %v\n", name, err)
		}
	}
}

func (a *app) reportDrops(out *pipeline.Outcome) {
	if out.Stats.Dropped == 0 {
		return
	}
	fmt.Fprintf(a.stderr, "tracelens: %s: %d malformed lines dropped\n", out.Name, out.Stats.Dropped)
	for i, d := range out.Drops {
		if i == maxPrintedDrops {
			fmt.Fprintf(a.stderr, "  ...\n")
			break
		}
		fmt.Fprintf(a.stderr, "  line %d: %s\n", d.Line, d.Reason)
	}
}

func (a *app) removeStalePage(name string) {
	if a.html == nil {
		return
	}
	if err := a.html.Consume(name, nil); err != nil {
		log.Warn("remove stale chart page", "trace", name, "error", err)
	}
}

// notice prints a status line where it does not corrupt structured output.
func (a *app) notice(format string, args ...interface{}) {
	w := a.stdout
	if a.format != report.FormatText {
		w = a.stderr
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// =============================================================================
// Export and SQL
// =============================================================================

func (a *app) export(out *pipeline.Outcome) error {
	files, err := export.Export(a.cfg.Export.Dir, out.Name, out.Events, out.Result, a.cfg.ToExportOptions())
	if err != nil {
		return err
	}
	log.Info("trace exported", "trace", out.Name, "events", files.Events, "bins", files.Bins)
	return nil
}

func (a *app) runSQL(ctx context.Context) error {
	svc, err := query.New(a.cfg.ToQueryConfig(a.cfg.Export.Dir))
	if err != nil {
		return err
	}
	defer svc.Close()

	cols, rows, err := svc.ExecuteSQL(ctx, a.o.sql)
	if err != nil {
		return err
	}
	return report.WriteRows(a.stdout, cols, rows)
}

func (a *app) runShell(ctx context.Context) error {
	sh := shell.New(shell.Config{
		Runner:      a.runner,
		ExportDir:   a.cfg.Export.Dir,
		Export:      a.cfg.ToExportOptions(),
		MemoryLimit: a.cfg.Export.MemoryLimit,
	}, a.stdout)
	defer sh.Close()

	for _, out := range a.outcomes {
		sh.Add(out)
	}
	return sh.Run(ctx, a.stdin)
}

// =============================================================================
// Sharing
// =============================================================================

func (a *app) shareClient() (*share.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := share.New(a.cfg.ToShareConfig())
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

func (a *app) upload(ctx context.Context, path string) error {
	if path == "-" {
		log.Warn("stdin cannot be shared", "trace", path)
		return nil
	}
	c, err := a.shareClient()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Join(errors.ErrRead, err)
	}
	defer f.Close()

	up, err := c.Upload(ctx, pipeline.DisplayName(path), f)
	if err != nil {
		return err
	}

	link := up.ShortURL
	if a.cfg.Share.PageURL != "" {
		if link, err = share.Link(a.cfg.Share.PageURL, up.ShortKey); err != nil {
			return err
		}
	}
	a.notice("shared %s: %s", up.FileName, link)
	return nil
}

func (a *app) fetchShared(ctx context.Context) (string, *pipeline.Outcome, error) {
	key, err := share.KeyFromLink(a.o.fetch)
	if err != nil {
		return a.o.fetch, nil, err
	}
	c, err := a.shareClient()
	if err != nil {
		return key, nil, err
	}

	d, err := c.Download(ctx, key)
	if err != nil {
		return key, nil, err
	}
	name := validation.EnsureTraceExtension(validation.SanitizeFileName(d.FileName))

	out, err := a.runner.Run(name, bytes.NewReader(d.Data))
	return name, out, err
}

func (a *app) deleteShared(ctx context.Context) error {
	key, err := share.KeyFromLink(a.o.delete)
	if err != nil {
		return err
	}
	c, err := a.shareClient()
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, key); err != nil {
		return err
	}
	a.notice("deleted %s", key)
	return nil
}

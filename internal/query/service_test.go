package query

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/export"
	"github.com/xtxerr/tracelens/internal/trace"
)

func exportTrace(t *testing.T, dir, name string, n int) *analysis.Result {
	t.Helper()

	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d 0 %d 8 %d\n", i*1000, i*128, i%3)
	}
	events := trace.Parse(b.String())
	res := analysis.Analyze(events, analysis.DefaultConfig())

	if _, err := export.Export(dir, name, events, res, export.DefaultOptions()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	return res
}

func TestService_New(t *testing.T) {
	svc, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	if svc.HasView(EventsView) || svc.HasView(BinsView) {
		t.Error("empty directory must not create views")
	}
	if _, err := svc.Traces(context.Background()); !errors.IsNotFound(err) {
		t.Errorf("expected not found without views, got %v", err)
	}
}

func TestService_ExecuteSQL(t *testing.T) {
	svc, err := New(Config{Dir: t.TempDir(), MemoryLimit: "256MB"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()

	// Simple query
	cols, results, err := svc.ExecuteSQL(ctx, "SELECT 1 AS value")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if len(cols) != 1 || cols[0] != "value" {
		t.Errorf("unexpected columns %v", cols)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	if _, _, err := svc.ExecuteSQL(ctx, "SELEC nonsense"); err == nil {
		t.Error("expected syntax error")
	}

	stats := svc.Stats()
	if stats.QueriesExecuted != 1 {
		t.Errorf("expected 1 query executed, got %d", stats.QueriesExecuted)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
}

func TestService_QueriesOverExport(t *testing.T) {
	dir := t.TempDir()
	a := exportTrace(t, dir, "a.trace", 300)
	exportTrace(t, dir, "b.trace", 30)

	svc, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()

	traces, err := svc.Traces(ctx)
	if err != nil {
		t.Fatalf("Traces: %v", err)
	}
	if len(traces) != 2 || traces[0].Trace != "a.trace" || traces[1].Trace != "b.trace" {
		t.Fatalf("unexpected traces %+v", traces)
	}
	if traces[0].Records != 300 || traces[0].LastNs != 299000 {
		t.Errorf("unexpected summary %+v", traces[0])
	}

	c, err := svc.Counts(ctx, "a.trace")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c != a.Counts {
		t.Errorf("SQL counts %+v, analysis counts %+v", c, a.Counts)
	}

	h, err := svc.Histogram(ctx, "a.trace")
	if err != nil {
		t.Fatalf("Histogram: %v", err)
	}
	if h.BinSizeLBA != a.Histogram.BinSizeLBA || len(h.Bins) != len(a.Histogram.Bins) {
		t.Fatalf("unexpected histogram %d/%d bins", len(h.Bins), len(a.Histogram.Bins))
	}
	for i := range h.Bins {
		if h.Bins[i] != a.Histogram.Bins[i] {
			t.Errorf("bin %d: %+v vs %+v", i, h.Bins[i], a.Histogram.Bins[i])
		}
	}
}

func TestService_Refresh(t *testing.T) {
	dir := t.TempDir()
	svc, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	exportTrace(t, dir, "late.trace", 10)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !svc.HasView(EventsView) || !svc.HasView(BinsView) {
		t.Fatal("expected views after refresh")
	}

	_, rows, err := svc.ExecuteSQL(context.Background(), "SELECT COUNT(*) AS n FROM events")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if n, ok := rows[0]["n"].(int64); !ok || n != 10 {
		t.Errorf("expected 10 rows, got %v", rows[0]["n"])
	}
}

func TestService_Closed(t *testing.T) {
	svc, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	ctx := context.Background()
	if _, _, err := svc.ExecuteSQL(ctx, "SELECT 1"); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("ExecuteSQL: expected ErrClosed, got %v", err)
	}
	if _, err := svc.Traces(ctx); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("Traces: expected ErrClosed, got %v", err)
	}
	if err := svc.Refresh(ctx); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("Refresh: expected ErrClosed, got %v", err)
	}
}

func TestQuote(t *testing.T) {
	if got := quote("it's"); got != "it''s" {
		t.Errorf("unexpected %q", got)
	}
}

package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/report"
	"github.com/xtxerr/tracelens/internal/trace"
)

func sampleResult() *analysis.Result {
	return analysis.Analyze(trace.Parse("100 0 0 8 1\n200 0 16 8 0\n50000100 0 0 8 1\n"), analysis.DefaultConfig())
}

func TestStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.Consume("a.trace", sampleResult()); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := w.Consume("empty.trace", nil); err != nil {
		t.Fatalf("Consume empty: %v", err)
	}
	if err := w.Write(NewError("bad.trace", errors.ErrDecode)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReader(&buf)

	doc, err := r.ReadDocument()
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if doc.Status != report.StatusOK || doc.Name != "a.trace" {
		t.Errorf("unexpected doc %+v", doc)
	}
	if doc.Result.Counts.Read != 2 || len(doc.Result.Histogram.Bins) != 1 {
		t.Errorf("unexpected result %+v", doc.Result)
	}
	if doc.Result.P99.Read == nil || *doc.Result.P99.Read != 50000 {
		t.Errorf("unexpected P99 %+v", doc.Result.P99)
	}
	if doc.Result.P99.Write != nil {
		t.Error("unavailable P99 must survive as nil")
	}

	doc, err = r.ReadDocument()
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if doc.Status != report.StatusNoData || doc.Result != nil {
		t.Errorf("unexpected no-data doc %+v", doc)
	}

	doc, err = r.ReadDocument()
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if doc.Status != report.StatusError || !strings.Contains(doc.Error, "decode") {
		t.Errorf("unexpected error doc %+v", doc)
	}

	if _, err := r.Read(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReader_MaxSize(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).Consume("a.trace", sampleResult()); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	r := NewReader(&buf)
	r.SetMaxSize(8)
	if _, err := r.Read(); !errors.Is(err, errors.ErrDecode) {
		t.Errorf("expected ErrDecode for oversized message, got %v", err)
	}
}

func TestNewErrorf(t *testing.T) {
	doc, err := Decode(NewErrorf("x", "bad %d", 7))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.Error != "bad 7" {
		t.Errorf("unexpected error %q", doc.Error)
	}
}

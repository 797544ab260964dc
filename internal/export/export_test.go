package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/trace"
)

func sampleEvents(n int) []trace.IoEvent {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d %d %d 8 %d\n", i*1000, i%3, i*64, i%2)
	}
	return trace.Parse(b.String())
}

func TestExport_RoundTrip(t *testing.T) {
	for _, ct := range []CompressionType{CompressionNone, CompressionSnappy, CompressionZstd, CompressionLZ4, CompressionGzip} {
		t.Run(ct.String(), func(t *testing.T) {
			dir := t.TempDir()
			events := sampleEvents(250)
			res := analysis.Analyze(events, analysis.DefaultConfig())

			opts := DefaultOptions()
			opts.Compression = ct
			opts.RowGroupSize = 100

			files, err := Export(dir, "disk.trace.gz", events, res, opts)
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			if files.Events != filepath.Join(dir, "disk"+EventsSuffix) {
				t.Errorf("unexpected events path %s", files.Events)
			}

			er, err := NewEventReader(files.Events)
			if err != nil {
				t.Fatalf("NewEventReader: %v", err)
			}
			defer er.Close()

			if er.NumRows() != 250 {
				t.Errorf("expected 250 rows, got %d", er.NumRows())
			}
			got, err := er.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			for i := range events {
				if got[i] != events[i] {
					t.Fatalf("event %d: got %+v, want %+v", i, got[i], events[i])
				}
			}

			br, err := NewBinReader(files.Bins)
			if err != nil {
				t.Fatalf("NewBinReader: %v", err)
			}
			defer br.Close()

			h, err := br.ReadHistogram()
			if err != nil {
				t.Fatalf("ReadHistogram: %v", err)
			}
			if h.BinSizeLBA != res.Histogram.BinSizeLBA {
				t.Errorf("bin size %d, want %d", h.BinSizeLBA, res.Histogram.BinSizeLBA)
			}
			if len(h.Bins) != len(res.Histogram.Bins) {
				t.Fatalf("bins %d, want %d", len(h.Bins), len(res.Histogram.Bins))
			}
			if h.Totals() != res.Counts {
				t.Errorf("bin totals %+v, counts %+v", h.Totals(), res.Counts)
			}
		})
	}
}

func TestEventReader_Chunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.events.parquet")
	w, err := NewEventWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewEventWriter: %v", err)
	}
	events := sampleEvents(10)
	w.Write("x", events[:4])
	w.Write("x", events[4:])
	if w.RowCount() != 10 {
		t.Errorf("expected 10 rows, got %d", w.RowCount())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write("x", events); err != ErrWriterClosed {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}

	r, err := NewEventReader(path)
	if err != nil {
		t.Fatalf("NewEventReader: %v", err)
	}
	defer r.Close()

	var rows []EventRow
	for {
		chunk, err := r.Read(3)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		rows = append(rows, chunk...)
		if len(rows) > 10 {
			t.Fatal("read past the end")
		}
	}
	if len(rows) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Seq != int64(i) {
			t.Errorf("row %d has seq %d", i, row.Seq)
		}
	}
	if rows[1].Op != "read" || rows[0].Op != "write" {
		t.Errorf("unexpected ops %q %q", rows[0].Op, rows[1].Op)
	}
}

func TestExport_Empty(t *testing.T) {
	dir := t.TempDir()
	files, err := Export(dir, "empty.trace", nil, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	for _, p := range []string{files.Events, files.Bins} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"":       CompressionNone,
		"none":   CompressionNone,
		"snappy": CompressionSnappy,
		"lz4":    CompressionLZ4,
		"gzip":   CompressionGzip,
		"bogus":  CompressionZstd,
	}
	for in, want := range tests {
		if got := ParseCompressionType(in); got != want {
			t.Errorf("ParseCompressionType(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"a.trace":          "a",
		"/x/y/b.trace.zst": "b",
		"c":                "c",
		".trace":           "trace",
		"dir/d.trace.lz4":  "d",
		"stdin":            "stdin",
	}
	for in, want := range tests {
		if got := baseName(in); got != want {
			t.Errorf("baseName(%q) = %q, want %q", in, got, want)
		}
	}
}

package report

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/xtxerr/tracelens/internal/analysis"
)

// TextOptions controls the text renderer.
type TextOptions struct {
	// MaxBins limits the printed histogram rows, 0 prints all.
	MaxBins int

	// Summary prints the approximate distributions when available.
	Summary bool
}

// Text writes a human readable summary.
type Text struct {
	w    *bufio.Writer
	opts TextOptions
}

// NewText creates a text renderer writing to w.
func NewText(w io.Writer, opts TextOptions) *Text {
	return &Text{w: bufio.NewWriter(w), opts: opts}
}

// Consume implements Consumer.
func (t *Text) Consume(name string, res *analysis.Result) error {
	w := t.w
	fmt.Fprintf(w, "== %s ==\n", PageTitle(name))

	if res.IsEmpty() {
		fmt.Fprintln(w, "no valid trace data")
		return t.Flush()
	}

	c := res.Counts
	fmt.Fprintf(w, "records:   %d\n", res.Records)
	fmt.Fprintf(w, "reads:     %d\n", c.Read)
	fmt.Fprintf(w, "writes:    %d\n", c.Write)
	fmt.Fprintf(w, "read pct:  %.1f%%\n", c.ReadRatio()*100)

	q := math.Round(res.P99.Quantile*1e5) / 1e3
	fmt.Fprintf(w, "p%g read inter-arrival:  %s\n", q, FormatMicros(res.P99.Read))
	fmt.Fprintf(w, "p%g write inter-arrival: %s\n", q, FormatMicros(res.P99.Write))

	h := res.Histogram
	fmt.Fprintf(w, "histogram: %d bins of %d sectors, max offset %s\n",
		len(h.Bins), h.BinSizeLBA, FormatOffset(h.MaxOffsetLBA))

	bins := h.Bins
	if t.opts.MaxBins > 0 && len(bins) > t.opts.MaxBins {
		bins = bins[:t.opts.MaxBins]
	}
	for _, b := range bins {
		fmt.Fprintf(w, "  %-12s read=%-8d write=%d\n", FormatOffset(b.Start), b.Read, b.Write)
	}
	if hidden := len(h.Bins) - len(bins); hidden > 0 {
		fmt.Fprintf(w, "  ... %d more bins\n", hidden)
	}

	if t.opts.Summary && res.Summary != nil {
		writeOp(w, "read", res.Summary.Read)
		writeOp(w, "write", res.Summary.Write)
	}

	return t.Flush()
}

// Flush writes buffered output.
func (t *Text) Flush() error {
	return t.w.Flush()
}

func writeOp(w io.Writer, op string, s analysis.OpSummary) {
	writeDist(w, op+" inter-arrival (us)", s.InterArrivalUs)
	writeDist(w, op+" size (sectors)", s.SizeSectors)
}

func writeDist(w io.Writer, label string, d analysis.DistributionStats) {
	if d.Count == 0 || !d.HasPercentiles() {
		fmt.Fprintf(w, "%s: n=%d\n", label, d.Count)
		return
	}
	fmt.Fprintf(w, "%s: n=%d min=%.3f avg=%.3f max=%.3f p50=%.3f p90=%.3f p95=%.3f p99=%.3f\n",
		label, d.Count, d.Min, d.Avg, d.Max, *d.P50, *d.P90, *d.P95, *d.P99)
}

// WriteRows prints a query result as tab separated lines with a header and
// a row count.
func WriteRows(w io.Writer, cols []string, rows []map[string]interface{}) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, strings.Join(cols, "\t"))
	vals := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			vals[i] = fmt.Sprint(row[c])
		}
		fmt.Fprintln(bw, strings.Join(vals, "\t"))
	}
	fmt.Fprintf(bw, "(%d rows)\n", len(rows))
	return bw.Flush()
}

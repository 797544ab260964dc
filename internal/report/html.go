package report

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/errors"
)

const (
	readColor  = "#3366CC"
	writeColor = "#DC3912"
)

func initOpts() charts.GlobalOpts {
	return charts.WithInitializationOpts(opts.Initialization{
		Theme: types.ThemeRoma,
		Width: "1200px",
	})
}

// BuildPage assembles the chart page of a result: read/write pie, offset
// over time scatter and one offset histogram per request type.
func BuildPage(name string, res *analysis.Result) *components.Page {
	page := components.NewPage()
	page.PageTitle = PageTitle(name)

	if res.IsEmpty() {
		return page
	}

	page.AddCharts(
		ratioPie(res),
		offsetScatter(res),
		offsetBar("Read IO Offset Distribution", "read IOs", readColor, &res.Histogram, func(b analysis.Bin) int64 { return b.Read }),
		offsetBar("Write IO Offset Distribution", "write IOs", writeColor, &res.Histogram, func(b analysis.Bin) int64 { return b.Write }),
	)
	return page
}

func ratioPie(res *analysis.Result) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		initOpts(),
		charts.WithTitleOpts(opts.Title{
			Title:    "Read/Write IO Ratio",
			Subtitle: "P99 inter-arrival: read " + FormatMicros(res.P99.Read) + ", write " + FormatMicros(res.P99.Write),
			Left:     "center",
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:      opts.Bool(true),
			Trigger:   "item",
			Formatter: "{a} <br/>{b} : {c} ({d}%)",
		}),
	)
	pie.AddSeries("IO type", []opts.PieData{
		{Name: "Read", Value: res.Counts.Read, ItemStyle: &opts.ItemStyle{Color: readColor}},
		{Name: "Write", Value: res.Counts.Write, ItemStyle: &opts.ItemStyle{Color: writeColor}},
	})
	return pie
}

func scatterData(points []analysis.Point) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(points))
	for _, p := range points {
		data = append(data, opts.ScatterData{
			Value:      []interface{}{p.Time, p.Offset, p.Size},
			SymbolSize: 1,
		})
	}
	return data
}

func offsetScatter(res *analysis.Result) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		initOpts(),
		charts.WithTitleOpts(opts.Title{Title: "Offset vs. Time", Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (ns)", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "offset (LBA)", Type: "value"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	scatter.AddSeries("Read", scatterData(res.Scatter.Read),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: readColor}))
	scatter.AddSeries("Write", scatterData(res.Scatter.Write),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: writeColor}))
	return scatter
}

func offsetBar(title, series, color string, h *analysis.Histogram, count func(analysis.Bin) int64) *charts.Bar {
	labels := make([]string, 0, len(h.Bins))
	data := make([]opts.BarData, 0, len(h.Bins))
	for _, b := range h.Bins {
		labels = append(labels, FormatOffset(b.Start))
		data = append(data, opts.BarData{Name: FormatBinRange(h, b), Value: count(b)})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts(),
		charts.WithTitleOpts(opts.Title{Title: title, Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item", Formatter: "{b}<br/>{a}: {c}"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "offset start", Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Name: series, Type: "value"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	bar.SetXAxis(labels).
		AddSeries(series, data, charts.WithItemStyleOpts(opts.ItemStyle{Color: color}))
	return bar
}

// HTML writes a chart page per result into a directory or a single file.
type HTML struct {
	path  string
	isDir bool
}

// NewHTML creates an HTML renderer. If path is a directory, each trace is
// written to <dir>/<name>.html; otherwise every result overwrites path.
func NewHTML(path string) *HTML {
	st, err := os.Stat(path)
	return &HTML{path: path, isDir: err == nil && st.IsDir()}
}

// Target returns the file written for name.
func (h *HTML) Target(name string) string {
	if !h.isDir {
		return h.path
	}
	return filepath.Join(h.path, filepath.Base(PageTitle(name))+".html")
}

// Consume implements Consumer. An empty result removes a previously
// written page so no stale chart is left behind.
func (h *HTML) Consume(name string, res *analysis.Result) error {
	target := h.Target(name)
	if res.IsEmpty() {
		return RemovePage(target)
	}
	return WritePage(target, name, res)
}

// RenderPage writes the chart page of res to w.
func RenderPage(w io.Writer, name string, res *analysis.Result) error {
	return BuildPage(name, res).Render(w)
}

// WritePage renders the chart page into path atomically.
func WritePage(path, name string, res *analysis.Result) error {
	var buf bytes.Buffer
	if err := RenderPage(&buf, name, res); err != nil {
		return errors.Wrap(err, "render chart page")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename %s", tmp)
	}

	log.Info("chart page written", "path", path, "trace", name)
	return nil
}

// RemovePage deletes a chart page at path. A missing page is not an error.
func RemovePage(path string) error {
	err := os.Remove(path)
	if err == nil {
		log.Info("stale chart page removed", "path", path)
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(err, "remove %s", path)
}

// Package export writes trace records and histogram bins to Parquet files.
//
// Every trace becomes two files in the export directory:
//
//	<name>.events.parquet  one row per record, in input order
//	<name>.bins.parquet    one row per histogram bin
//
// The files are the input of the query package.
package export

import (
	"path/filepath"
	"strings"

	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/logging"
	"github.com/xtxerr/tracelens/internal/trace"
)

var log = logging.Component("export")

// File name suffixes of an export.
const (
	EventsSuffix = ".events.parquet"
	BinsSuffix   = ".bins.parquet"
)

// Files are the paths written for one trace.
type Files struct {
	Events string
	Bins   string
}

// PathsFor returns the export paths of trace name in dir.
func PathsFor(dir, name string) Files {
	base := baseName(name)
	return Files{
		Events: filepath.Join(dir, base+EventsSuffix),
		Bins:   filepath.Join(dir, base+BinsSuffix),
	}
}

// baseName strips directories and the trace and compression extensions.
func baseName(name string) string {
	base := filepath.Base(name)
	for _, ext := range []string{".gz", ".zst", ".lz4", ".trace"} {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "trace"
	}
	return base
}

// Export writes the records and histogram of one trace into dir.
func Export(dir, name string, events []trace.IoEvent, res *analysis.Result, opts Options) (Files, error) {
	files := PathsFor(dir, name)

	ew, err := NewEventWriter(files.Events, opts)
	if err != nil {
		return Files{}, errors.Wrap(errors.Join(errors.ErrStorage, err), "export events")
	}
	if err := ew.Write(name, events); err != nil {
		ew.Close()
		return Files{}, errors.Wrap(errors.Join(errors.ErrStorage, err), "export events")
	}
	if err := ew.Close(); err != nil {
		return Files{}, errors.Wrap(errors.Join(errors.ErrStorage, err), "export events")
	}

	bw, err := NewBinWriter(files.Bins, opts)
	if err != nil {
		return Files{}, errors.Wrap(errors.Join(errors.ErrStorage, err), "export bins")
	}
	if res != nil {
		if err := bw.Write(name, &res.Histogram); err != nil {
			bw.Close()
			return Files{}, errors.Wrap(errors.Join(errors.ErrStorage, err), "export bins")
		}
	}
	if err := bw.Close(); err != nil {
		return Files{}, errors.Wrap(errors.Join(errors.ErrStorage, err), "export bins")
	}

	log.Info("trace exported",
		"trace", name,
		"events", ew.RowCount(),
		"bins", bw.RowCount(),
		"compression", opts.Compression.String(),
		"dir", dir)

	return files, nil
}

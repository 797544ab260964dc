package export

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/trace"
)

// fileReader reads rows of type T from a Parquet file.
type fileReader[T any] struct {
	file   *os.File
	reader *parquet.GenericReader[T]
	path   string
}

func newFileReader[T any](path string) (*fileReader[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[T](f)

	return &fileReader[T]{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// read reads up to n rows. It returns io.EOF once the file is exhausted.
func (r *fileReader[T]) read(n int) ([]T, error) {
	rows := make([]T, n)
	count, err := r.reader.Read(rows)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}
	return rows[:count], nil
}

// readAll reads every remaining row.
func (r *fileReader[T]) readAll() ([]T, error) {
	rows := make([]T, r.reader.NumRows())
	total := 0
	for total < len(rows) {
		count, err := r.reader.Read(rows[total:])
		total += count
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if count == 0 {
			break
		}
	}
	return rows[:total], nil
}

// NumRows returns the total number of rows in the file.
func (r *fileReader[T]) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *fileReader[T]) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *fileReader[T]) Path() string {
	return r.path
}

// EventReader reads trace records from a Parquet file.
type EventReader struct {
	*fileReader[EventRow]
}

// NewEventReader creates a new record Parquet reader.
func NewEventReader(path string) (*EventReader, error) {
	fr, err := newFileReader[EventRow](path)
	if err != nil {
		return nil, err
	}
	return &EventReader{fileReader: fr}, nil
}

// Read reads up to n rows.
func (r *EventReader) Read(n int) ([]EventRow, error) {
	return r.read(n)
}

// ReadAll reads all records in file order.
func (r *EventReader) ReadAll() ([]trace.IoEvent, error) {
	rows, err := r.readAll()
	if err != nil {
		return nil, err
	}
	events := make([]trace.IoEvent, len(rows))
	for i := range rows {
		events[i] = RowToEvent(&rows[i])
	}
	return events, nil
}

// BinReader reads histogram bins from a Parquet file.
type BinReader struct {
	*fileReader[BinRow]
}

// NewBinReader creates a new histogram Parquet reader.
func NewBinReader(path string) (*BinReader, error) {
	fr, err := newFileReader[BinRow](path)
	if err != nil {
		return nil, err
	}
	return &BinReader{fileReader: fr}, nil
}

// ReadAll reads all bins as rows.
func (r *BinReader) ReadAll() ([]BinRow, error) {
	return r.readAll()
}

// ReadHistogram rebuilds the histogram of a single-trace bin file.
func (r *BinReader) ReadHistogram() (analysis.Histogram, error) {
	rows, err := r.readAll()
	if err != nil {
		return analysis.Histogram{}, err
	}

	h := analysis.Histogram{Bins: make([]analysis.Bin, 0, len(rows))}
	for i := range rows {
		h.BinSizeLBA = rows[i].BinSizeLBA
		h.Bins = append(h.Bins, RowToBin(&rows[i]))
	}
	return h, nil
}

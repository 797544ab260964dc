package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/trace"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")

// fileWriter writes rows of type T to a Parquet file.
type fileWriter[T any] struct {
	mu           sync.Mutex
	path         string
	file         *os.File
	writer       *parquet.GenericWriter[T]
	rowGroupSize int
	pending      int
	rowCount     int64
	closed       bool
}

func newFileWriter[T any](path string, opts Options) (*fileWriter[T], error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	return &fileWriter[T]{
		path:         path,
		file:         f,
		writer:       parquet.NewGenericWriter[T](f, opts.writerOptions()...),
		rowGroupSize: opts.RowGroupSize,
	}, nil
}

func (w *fileWriter[T]) write(rows []T) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	for len(rows) > 0 {
		chunk := rows
		if w.rowGroupSize > 0 && w.pending+len(chunk) > w.rowGroupSize {
			chunk = rows[:w.rowGroupSize-w.pending]
		}

		n, err := w.writer.Write(chunk)
		if err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		w.rowCount += int64(n)
		w.pending += n
		rows = rows[len(chunk):]

		if w.rowGroupSize > 0 && w.pending >= w.rowGroupSize {
			if err := w.writer.Flush(); err != nil {
				return fmt.Errorf("flush row group: %w", err)
			}
			w.pending = 0
		}
	}
	return nil
}

// Close closes the writer.
func (w *fileWriter[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *fileWriter[T]) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *fileWriter[T]) Path() string {
	return w.path
}

// EventWriter writes trace records to a Parquet file.
type EventWriter struct {
	*fileWriter[EventRow]
	seq int
}

// NewEventWriter creates a new record Parquet writer.
func NewEventWriter(path string, opts Options) (*EventWriter, error) {
	fw, err := newFileWriter[EventRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &EventWriter{fileWriter: fw}, nil
}

// Write appends records of trace name. Sequence numbers continue across calls.
func (w *EventWriter) Write(name string, events []trace.IoEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]EventRow, len(events))
	for i := range events {
		rows[i] = EventToRow(name, w.seq+i, &events[i])
	}
	if err := w.write(rows); err != nil {
		return err
	}
	w.seq += len(events)
	return nil
}

// BinWriter writes histogram bins to a Parquet file.
type BinWriter struct {
	*fileWriter[BinRow]
}

// NewBinWriter creates a new histogram Parquet writer.
func NewBinWriter(path string, opts Options) (*BinWriter, error) {
	fw, err := newFileWriter[BinRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &BinWriter{fileWriter: fw}, nil
}

// Write appends the bins of a histogram.
func (w *BinWriter) Write(name string, h *analysis.Histogram) error {
	if len(h.Bins) == 0 {
		return nil
	}

	rows := make([]BinRow, len(h.Bins))
	for i, b := range h.Bins {
		rows[i] = BinToRow(name, h, b)
	}
	return w.write(rows)
}

package export

import (
	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/trace"
)

// EventRow represents a trace record in Parquet format.
type EventRow struct {
	Trace       string `parquet:"trace,zstd"`
	Seq         int64  `parquet:"seq"`
	TimeNs      int64  `parquet:"time_ns"`
	DeviceID    int64  `parquet:"device_id"`
	OffsetLBA   int64  `parquet:"offset_lba"`
	SizeSectors int64  `parquet:"size_sectors"`
	RWFlag      int64  `parquet:"rw_flag"`
	Op          string `parquet:"op,zstd"`
}

// BinRow represents a histogram bin in Parquet format.
type BinRow struct {
	Trace      string `parquet:"trace,zstd"`
	BinStart   int64  `parquet:"bin_start"`
	BinEnd     int64  `parquet:"bin_end"`
	BinSizeLBA int64  `parquet:"bin_size_lba"`
	Reads      int64  `parquet:"reads"`
	Writes     int64  `parquet:"writes"`
}

// EventToRow converts a record to an EventRow. seq is its input position.
func EventToRow(name string, seq int, e *trace.IoEvent) EventRow {
	return EventRow{
		Trace:       name,
		Seq:         int64(seq),
		TimeNs:      e.Time,
		DeviceID:    e.DeviceID,
		OffsetLBA:   e.Offset,
		SizeSectors: e.Size,
		RWFlag:      e.RWFlag,
		Op:          trace.FlagName(e.RWFlag),
	}
}

// RowToEvent converts an EventRow to a record.
func RowToEvent(r *EventRow) trace.IoEvent {
	return trace.IoEvent{
		Time:     r.TimeNs,
		DeviceID: r.DeviceID,
		Offset:   r.OffsetLBA,
		Size:     r.SizeSectors,
		RWFlag:   r.RWFlag,
	}
}

// BinToRow converts a histogram bin to a BinRow.
func BinToRow(name string, h *analysis.Histogram, b analysis.Bin) BinRow {
	start, end := h.BinRange(b)
	return BinRow{
		Trace:      name,
		BinStart:   start,
		BinEnd:     end,
		BinSizeLBA: h.BinSizeLBA,
		Reads:      b.Read,
		Writes:     b.Write,
	}
}

// RowToBin converts a BinRow to a histogram bin.
func RowToBin(r *BinRow) analysis.Bin {
	return analysis.Bin{Start: r.BinStart, Read: r.Reads, Write: r.Writes}
}

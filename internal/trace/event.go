package trace

import (
	"time"

	"github.com/xtxerr/tracelens/config"
)

// Flag values of the rw column.
const (
	FlagWrite int64 = 0
	FlagRead  int64 = 1
)

// SectorSize is the byte size of one LBA unit.
const SectorSize = config.SectorSize

// IoEvent is one request of a storage trace.
// Time is in nanoseconds as recorded, Offset is an LBA and Size is in sectors.
type IoEvent struct {
	Time     int64
	DeviceID int64
	Offset   int64
	Size     int64
	RWFlag   int64
}

// IsRead reports whether the event is a read.
func (e IoEvent) IsRead() bool {
	return e.RWFlag == FlagRead
}

// IsWrite reports whether the event is a write.
func (e IoEvent) IsWrite() bool {
	return e.RWFlag == FlagWrite
}

// Bytes returns the request size in bytes.
func (e IoEvent) Bytes() int64 {
	return e.Size * SectorSize
}

// OffsetBytes returns the request offset in bytes.
func (e IoEvent) OffsetBytes() int64 {
	return e.Offset * SectorSize
}

// Timestamp returns Time as a duration since the trace epoch.
func (e IoEvent) Timestamp() time.Duration {
	return time.Duration(e.Time)
}

// FlagName returns "read", "write" or "other".
func FlagName(flag int64) string {
	switch flag {
	case FlagRead:
		return "read"
	case FlagWrite:
		return "write"
	default:
		return "other"
	}
}

// LineError describes a dropped trace line.
type LineError struct {
	Line   int    // 1-based line number in the input
	Reason string
	Text   string
}

// ParseStats summarizes a parse. Counters only cover lines after the last
// reset marker.
type ParseStats struct {
	// Lines is the number of lines considered.
	Lines int
	// Records is the number of records produced.
	Records int
	// Skipped counts blank and comment lines.
	Skipped int
	// Dropped counts malformed data lines.
	Dropped int
	// ResetLine is the 1-based line of the last reset marker, 0 if none.
	ResetLine int
	// Resets is the number of reset markers seen in the whole input.
	Resets int
}

// RecordSet is the ordered, read-only result of one parse.
type RecordSet struct {
	events []IoEvent
	stats  ParseStats
	drops  []LineError
}

// Events returns the parsed records in input order.
// The returned slice must not be modified.
func (rs *RecordSet) Events() []IoEvent {
	if rs == nil {
		return nil
	}
	return rs.events
}

// Len returns the number of records.
func (rs *RecordSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.events)
}

// IsEmpty returns true if no record was parsed.
func (rs *RecordSet) IsEmpty() bool {
	return rs.Len() == 0
}

// Stats returns the parse counters.
func (rs *RecordSet) Stats() ParseStats {
	if rs == nil {
		return ParseStats{}
	}
	return rs.stats
}

// Drops returns diagnostics for dropped lines, capped at MaxReportedDrops.
func (rs *RecordSet) Drops() []LineError {
	if rs == nil {
		return nil
	}
	return rs.drops
}

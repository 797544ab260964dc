package analysis

import "github.com/xtxerr/tracelens/internal/trace"

// Counts is the number of reads and writes of a trace.
// Records with any other flag count as neither.
type Counts struct {
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

// Total returns Read + Write.
func (c Counts) Total() int64 {
	return c.Read + c.Write
}

// ReadRatio returns the share of reads among reads and writes, 0 if none.
func (c Counts) ReadRatio() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Read) / float64(c.Total())
}

// CountReadWrite counts reads and writes.
func CountReadWrite(events []trace.IoEvent) Counts {
	var c Counts
	for _, e := range events {
		switch e.RWFlag {
		case trace.FlagRead:
			c.Read++
		case trace.FlagWrite:
			c.Write++
		}
	}
	return c
}

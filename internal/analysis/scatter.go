package analysis

import "github.com/xtxerr/tracelens/internal/trace"

// Point is one scatter sample: raw time (ns), offset (LBA) and size (sectors).
type Point struct {
	Time   int64 `json:"time"`
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

// TimeMillis returns the point time in milliseconds.
func (p Point) TimeMillis() float64 {
	return float64(p.Time) / 1e6
}

// SizeKB returns the request size in KiB.
func (p Point) SizeKB() float64 {
	return float64(p.Size*trace.SectorSize) / 1024
}

// Scatter holds the read and write points of a trace in input order.
type Scatter struct {
	Read  []Point `json:"read"`
	Write []Point `json:"write"`
}

// ScatterSeries splits events into read and write points.
// Order is preserved and duplicates are kept.
func ScatterSeries(events []trace.IoEvent) Scatter {
	s := Scatter{
		Read:  []Point{},
		Write: []Point{},
	}
	for _, e := range events {
		p := Point{Time: e.Time, Offset: e.Offset, Size: e.Size}
		switch e.RWFlag {
		case trace.FlagRead:
			s.Read = append(s.Read, p)
		case trace.FlagWrite:
			s.Write = append(s.Write, p)
		}
	}
	return s
}

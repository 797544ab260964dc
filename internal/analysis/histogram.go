package analysis

import (
	"cmp"
	"slices"

	"github.com/xtxerr/tracelens/internal/trace"
)

// Bin counts the reads and writes whose offset falls into
// [Start, Start+BinSizeLBA).
type Bin struct {
	Start int64 `json:"start"`
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

// Histogram is the sparse offset distribution of a trace.
// Bins are sorted by Start and only present if they counted a request.
type Histogram struct {
	BinSizeLBA   int64 `json:"bin_size_lba"`
	MaxOffsetLBA int64 `json:"max_offset_lba"`
	Bins         []Bin `json:"bins"`
}

// BinRange returns the first and last LBA covered by b.
func (h *Histogram) BinRange(b Bin) (start, end int64) {
	return b.Start, b.Start + h.BinSizeLBA - 1
}

// Totals returns the read and write counts summed over all bins.
func (h *Histogram) Totals() Counts {
	var c Counts
	for _, b := range h.Bins {
		c.Read += b.Read
		c.Write += b.Write
	}
	return c
}

// OffsetHistogram bins events by offset. The bin size is chosen by table
// from the largest offset of any record. Records that are neither reads nor
// writes widen the range but are not counted.
func OffsetHistogram(events []trace.IoEvent, table BinTable) Histogram {
	var maxOffset int64
	for _, e := range events {
		if e.Offset > maxOffset {
			maxOffset = e.Offset
		}
	}

	size := table.BinSize(maxOffset)
	h := Histogram{
		BinSizeLBA:   size,
		MaxOffsetLBA: maxOffset,
		Bins:         []Bin{},
	}

	index := make(map[int64]int)
	for _, e := range events {
		if e.RWFlag != trace.FlagRead && e.RWFlag != trace.FlagWrite {
			continue
		}

		start := floorDiv(e.Offset, size) * size
		i, ok := index[start]
		if !ok {
			i = len(h.Bins)
			index[start] = i
			h.Bins = append(h.Bins, Bin{Start: start})
		}

		if e.RWFlag == trace.FlagRead {
			h.Bins[i].Read++
		} else {
			h.Bins[i].Write++
		}
	}

	slices.SortFunc(h.Bins, func(a, b Bin) int {
		return cmp.Compare(a.Start, b.Start)
	})

	return h
}

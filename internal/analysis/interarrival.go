package analysis

import (
	"math"
	"slices"

	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/trace"
)

// InterArrival holds a percentile of the time between consecutive requests
// of the same type, in microseconds. It measures arrival spacing, not service
// latency. A nil value means fewer than two requests of that type.
type InterArrival struct {
	Quantile float64  `json:"quantile"`
	Read     *float64 `json:"read"`
	Write    *float64 `json:"write"`
}

// Get returns the value for flag, nil for unknown flags.
func (ia InterArrival) Get(flag int64) *float64 {
	switch flag {
	case trace.FlagRead:
		return ia.Read
	case trace.FlagWrite:
		return ia.Write
	default:
		return nil
	}
}

// P99InterArrival returns the 99th percentile inter-arrival time per type.
func P99InterArrival(events []trace.IoEvent) InterArrival {
	return InterArrivalPercentiles(events, config.DefaultP99Quantile)
}

// InterArrivalPercentiles returns quantile q of the inter-arrival times of
// reads and writes.
func InterArrivalPercentiles(events []trace.IoEvent, q float64) InterArrival {
	return InterArrival{
		Quantile: q,
		Read:     InterArrivalPercentile(events, trace.FlagRead, q),
		Write:    InterArrivalPercentile(events, trace.FlagWrite, q),
	}
}

// InterArrivalPercentile returns quantile q of the gaps between consecutive
// requests with flag, ordered by time. The value is the gap at index
// floor(q*(n-1)) of the sorted gaps, converted from nanoseconds to
// microseconds and rounded to three decimals.
func InterArrivalPercentile(events []trace.IoEvent, flag int64, q float64) *float64 {
	gaps := interArrivals(events, flag)
	if len(gaps) == 0 {
		return nil
	}
	slices.Sort(gaps)

	idx := int(math.Floor(q * float64(len(gaps)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(gaps) {
		idx = len(gaps) - 1
	}

	v := roundMicros(gaps[idx])
	return &v
}

// interArrivals returns the gaps in nanoseconds between time-ordered
// requests with flag. The result is nil for fewer than two requests.
// Gaps are unsigned: the span between any two int64 times fits in uint64.
func interArrivals(events []trace.IoEvent, flag int64) []uint64 {
	var times []int64
	for _, e := range events {
		if e.RWFlag == flag {
			times = append(times, e.Time)
		}
	}
	if len(times) < 2 {
		return nil
	}
	slices.Sort(times)

	gaps := make([]uint64, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps[i-1] = uint64(times[i]) - uint64(times[i-1])
	}
	return gaps
}

// roundMicros converts integral nanoseconds to microseconds; the result
// carries at most three decimals.
func roundMicros(ns uint64) float64 {
	return float64(ns) / 1000
}

package analysis

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/xtxerr/tracelens/internal/trace"
)

// Distribution holds running statistics of one value stream with
// approximate percentiles from a DDSketch.
type Distribution struct {
	mu sync.Mutex

	count int64
	sum   float64
	min   float64
	max   float64

	sketch *ddsketch.DDSketch
}

// NewDistribution creates a Distribution whose percentiles have the given
// relative accuracy.
func NewDistribution(accuracy float64) (*Distribution, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, err
	}
	return &Distribution{
		min:    math.MaxFloat64,
		max:    -math.MaxFloat64,
		sketch: sketch,
	}, nil
}

// Add adds a value.
func (d *Distribution) Add(value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.count++
	d.sum += value
	if value < d.min {
		d.min = value
	}
	if value > d.max {
		d.max = value
	}

	// Values outside the indexable range are counted but not sketched.
	_ = d.sketch.Add(value)
}

// Count returns the number of values added.
func (d *Distribution) Count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Merge folds other into d.
func (d *Distribution) Merge(other *Distribution) error {
	if other == nil || other == d {
		return nil
	}

	other.mu.Lock()
	defer other.mu.Unlock()
	if other.count == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.count += other.count
	d.sum += other.sum
	if other.min < d.min {
		d.min = other.min
	}
	if other.max > d.max {
		d.max = other.max
	}
	return d.sketch.MergeWith(other.sketch)
}

// Stats returns the current statistics.
func (d *Distribution) Stats() DistributionStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := DistributionStats{Count: d.count}
	if d.count == 0 {
		return s
	}

	s.Sum = d.sum
	s.Min = d.min
	s.Max = d.max
	s.Avg = d.sum / float64(d.count)

	p50, err50 := d.sketch.GetValueAtQuantile(0.50)
	p90, err90 := d.sketch.GetValueAtQuantile(0.90)
	p95, err95 := d.sketch.GetValueAtQuantile(0.95)
	p99, err99 := d.sketch.GetValueAtQuantile(0.99)
	if err50 == nil && err90 == nil && err95 == nil && err99 == nil {
		s.SetPercentiles(p50, p90, p95, p99)
	}
	return s
}

// DistributionStats summarizes a Distribution.
type DistributionStats struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`

	// Percentiles (nil if no values)
	P50 *float64 `json:"p50,omitempty"`
	P90 *float64 `json:"p90,omitempty"`
	P95 *float64 `json:"p95,omitempty"`
	P99 *float64 `json:"p99,omitempty"`
}

// HasPercentiles returns true if percentile data is available.
func (s *DistributionStats) HasPercentiles() bool {
	return s.P50 != nil
}

// SetPercentiles sets all percentile values.
func (s *DistributionStats) SetPercentiles(p50, p90, p95, p99 float64) {
	s.P50 = &p50
	s.P90 = &p90
	s.P95 = &p95
	s.P99 = &p99
}

// OpSummary describes the requests of one type.
type OpSummary struct {
	// InterArrivalUs is the gap between consecutive requests in microseconds.
	InterArrivalUs DistributionStats `json:"inter_arrival_us"`

	// SizeSectors is the request size in sectors.
	SizeSectors DistributionStats `json:"size_sectors"`
}

// Summary holds approximate distributions per request type.
type Summary struct {
	Accuracy float64   `json:"accuracy"`
	Read     OpSummary `json:"read"`
	Write    OpSummary `json:"write"`
}

// Summarize computes approximate distributions of inter-arrival times and
// request sizes for reads and writes.
func Summarize(events []trace.IoEvent, accuracy float64) (*Summary, error) {
	read, err := summarizeOp(events, trace.FlagRead, accuracy)
	if err != nil {
		return nil, err
	}
	write, err := summarizeOp(events, trace.FlagWrite, accuracy)
	if err != nil {
		return nil, err
	}
	return &Summary{Accuracy: accuracy, Read: read, Write: write}, nil
}

func summarizeOp(events []trace.IoEvent, flag int64, accuracy float64) (OpSummary, error) {
	gaps, err := NewDistribution(accuracy)
	if err != nil {
		return OpSummary{}, err
	}
	sizes, err := NewDistribution(accuracy)
	if err != nil {
		return OpSummary{}, err
	}

	for _, e := range events {
		if e.RWFlag == flag {
			sizes.Add(float64(e.Size))
		}
	}
	for _, g := range interArrivals(events, flag) {
		gaps.Add(float64(g) / 1000)
	}

	return OpSummary{
		InterArrivalUs: gaps.Stats(),
		SizeSectors:    sizes.Stats(),
	}, nil
}

package analysis

import (
	"fmt"

	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/errors"
)

const bytesPerMB = 1024 * 1024

// BinTier maps an offset range to a fixed bin size.
type BinTier struct {
	// BelowMB is the exclusive upper bound of the maximum offset in MiB.
	BelowMB float64 `yaml:"below_mb" json:"below_mb"`

	// SizeLBA is the bin size in sectors.
	SizeLBA int64 `yaml:"size_lba" json:"size_lba"`
}

// BinTable chooses the histogram bin size from the largest offset of a trace.
// The table only affects presentation; any positive sizes are valid.
type BinTable struct {
	// DefaultSizeLBA is used for empty traces and as the lower bound of
	// adaptive bins.
	DefaultSizeLBA int64 `yaml:"default_bin_lba" json:"default_bin_lba"`

	// TargetBins is the bin count aimed for below AdaptiveBelowMB.
	TargetBins int64 `yaml:"target_bins" json:"target_bins"`

	// AdaptiveBelowMB is the offset range (MiB) using adaptive bins.
	AdaptiveBelowMB float64 `yaml:"adaptive_below_mb" json:"adaptive_below_mb"`

	// Tiers are checked in order once the range exceeds AdaptiveBelowMB.
	Tiers []BinTier `yaml:"tiers" json:"tiers"`

	// FallbackSizeLBA is used past the last tier.
	FallbackSizeLBA int64 `yaml:"fallback_bin_lba" json:"fallback_bin_lba"`
}

// DefaultBinTable returns the 64 sector / 400 bins / 4, 16, 32 MiB table.
func DefaultBinTable() BinTable {
	return BinTable{
		DefaultSizeLBA:  config.DefaultBinSizeLBA,
		TargetBins:      config.DefaultTargetBins,
		AdaptiveBelowMB: config.DefaultAdaptiveBelowMB,
		Tiers: []BinTier{
			{BelowMB: 1024, SizeLBA: (4 * bytesPerMB) / config.SectorSize},
			{BelowMB: 10240, SizeLBA: (16 * bytesPerMB) / config.SectorSize},
		},
		FallbackSizeLBA: config.DefaultFallbackBinLBA,
	}
}

// Validate checks the table for errors.
func (t *BinTable) Validate() error {
	v := errors.NewValidationErrors()

	if t.DefaultSizeLBA <= 0 {
		v.AddField("default_bin_lba", "must be positive")
	}
	if t.TargetBins <= 0 {
		v.AddField("target_bins", "must be positive")
	}
	if t.AdaptiveBelowMB < 0 {
		v.AddField("adaptive_below_mb", "must not be negative")
	}
	if t.FallbackSizeLBA <= 0 {
		v.AddField("fallback_bin_lba", "must be positive")
	}

	prev := t.AdaptiveBelowMB
	for i, tier := range t.Tiers {
		if tier.SizeLBA <= 0 {
			v.AddField(fmt.Sprintf("tiers[%d].size_lba", i), "must be positive")
		}
		if tier.BelowMB <= prev {
			v.AddField(fmt.Sprintf("tiers[%d].below_mb", i), "must increase")
		}
		prev = tier.BelowMB
	}

	return v.Err()
}

// BinSize returns the bin size in sectors for a trace whose largest offset
// is maxOffsetLBA.
func (t *BinTable) BinSize(maxOffsetLBA int64) int64 {
	if maxOffsetLBA <= 0 {
		return t.DefaultSizeLBA
	}

	maxMB := float64(maxOffsetLBA) * config.SectorSize / bytesPerMB
	if maxMB < t.AdaptiveBelowMB {
		step := t.TargetBins * t.DefaultSizeLBA
		size := ceilDiv(maxOffsetLBA, step) * t.DefaultSizeLBA
		if size < t.DefaultSizeLBA {
			return t.DefaultSizeLBA
		}
		return size
	}

	for _, tier := range t.Tiers {
		if maxMB < tier.BelowMB {
			return tier.SizeLBA
		}
	}
	return t.FallbackSizeLBA
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// floorDiv rounds toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

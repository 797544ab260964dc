package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/analysis"
)

const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
	terabyte = gigabyte * 1024
)

// NotAvailable is printed for an inter-arrival percentile with fewer than
// two requests.
const NotAvailable = "N/A (insufficient data)"

// FormatLBA renders an LBA as a byte size in MB, GB or TB.
func FormatLBA(lba, sectorSize int64, precision int) string {
	bytes := float64(lba) * float64(sectorSize)
	if bytes == 0 {
		return fmt.Sprintf("%.*f MB", precision, 0.0)
	}

	abs := math.Abs(bytes)
	switch {
	case abs >= terabyte:
		return fmt.Sprintf("%.*f TB", precision, bytes/terabyte)
	case abs >= gigabyte:
		return fmt.Sprintf("%.*f GB", precision, bytes/gigabyte)
	default:
		return fmt.Sprintf("%.*f MB", precision, bytes/megabyte)
	}
}

// FormatOffset renders an LBA with the default sector size and precision.
func FormatOffset(lba int64) string {
	return FormatLBA(lba, config.SectorSize, 1)
}

// FormatMicros renders an inter-arrival value as "12.345 µs".
func FormatMicros(v *float64) string {
	if v == nil {
		return NotAvailable
	}
	return fmt.Sprintf("%.3f µs", *v)
}

// FormatBinRange renders the LBA range of a histogram bin.
func FormatBinRange(h *analysis.Histogram, b analysis.Bin) string {
	start, end := h.BinRange(b)
	return fmt.Sprintf("LBA %d - %d (%s - %s)", start, end, FormatOffset(start), FormatOffset(end+1))
}

// PageTitle returns name, or the default title for an empty name.
func PageTitle(name string) string {
	if strings.TrimSpace(name) == "" {
		return config.DefaultPageTitle
	}
	return name
}

package exporters

import (
	"fmt"
	"math"
)

var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB"}

// FormatBytes renders n with 1024-based units, e.g. "512 B" or "1.5 GiB".
// Anything beyond TiB is expressed in PiB.
func FormatBytes(n int64) string {
	value := float64(n)
	for _, unit := range byteUnits {
		if math.Abs(value) < 1024 {
			if unit == "B" {
				return fmt.Sprintf("%d %s", n, unit)
			}
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1f PiB", value)
}

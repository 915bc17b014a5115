// Package safe holds clamped conversions and guarded file helpers.
package safe

import (
	"math"
)

// Uint64ToInt64 converts val to int64, clamping to math.MaxInt64.
// The boolean reports whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// Package mathutil holds the small numeric helpers shared by the scorers.
package mathutil

import (
	"math"
	"sort"

	"golang.org/x/exp/constraints"
)

// Clamp01 bounds v to [0, 1]. NaN maps to 0.
func Clamp01[T constraints.Float](v T) T {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Round rounds v half away from zero to the given number of decimal places.
// Negative places leave v unchanged.
func Round[T constraints.Float](v T, places int) T {
	if places < 0 {
		return v
	}
	p := math.Pow(10, float64(places))
	return T(math.Round(float64(v)*p) / p)
}

// Ratio returns min(num/den, 1) and saturates to 1 when den is not positive
// but num is. A zero numerator always scores 0.
func Ratio(num, den float64) float64 {
	if num <= 0 {
		return 0
	}
	if den <= 0 {
		return 1
	}
	return Clamp01(num / den)
}

// Median returns the median of values, or 0 for an empty slice.
// values is sorted in place.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sort.Float64s(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

package types

import "math"

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Clamp01 bounds v to the unit interval
func Clamp01(v float64) float64 {
	return Clamp(v, 0.0, 1.0)
}

// Round4 rounds v to 4 decimal places. All reported scores use this
// precision so responses are reproducible across backends.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// SafeMean averages values, returning def for an empty slice
func SafeMean(values []float64, def float64) float64 {
	if len(values) == 0 {
		return def
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

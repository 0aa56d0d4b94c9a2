package indicators

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// LogReturns returns ln(p[i]/p[i-1]) for consecutive prices. Non-positive
// prices make the series meaningless and yield nil.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i] <= 0 || prices[i-1] <= 0 {
			return nil
		}
		out[i-1] = math.Log(prices[i] / prices[i-1])
	}
	return out
}

// RealizedVol is the sample standard deviation of log returns scaled by
// sqrt(periodsPerYear). It returns 0 when fewer than two returns exist.
func RealizedVol(closes []float64, periodsPerYear float64) float64 {
	r := LogReturns(closes)
	if len(r) < 2 {
		return 0
	}
	sd := stat.StdDev(r, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd * math.Sqrt(periodsPerYear)
}

// Correlation is the Pearson correlation of the log returns of two price
// series, aligned on their most recent common tail. Degenerate inputs
// (too short, zero variance) report ok=false.
func Correlation(a, b []float64) (float64, bool) {
	ra, rb := LogReturns(a), LogReturns(b)
	n := min(len(ra), len(rb))
	if n < 3 {
		return 0, false
	}
	ra, rb = ra[len(ra)-n:], rb[len(rb)-n:]
	c := stat.Correlation(ra, rb, nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0, false
	}
	return c, true
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

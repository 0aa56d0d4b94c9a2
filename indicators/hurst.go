package indicators

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	hurstMinChunk = 10
	hurstMaxChunk = 50
	hurstStep     = 2
)

// Hurst estimates the Hurst exponent of a price series by rescaled-range
// analysis of its log returns. Chunk sizes run from 10 up to
// min(len(returns)/2, 50) in steps of 2; the exponent is the slope of
// log(mean R/S) against log(size), clamped to [0,1].
//
// ok is false when fewer than three chunk sizes produce a usable R/S value;
// the returned value is then 0.5.
func Hurst(prices []float64) (h float64, ok bool) {
	returns := LogReturns(prices)
	maxK := min(len(returns)/2, hurstMaxChunk)

	var logSizes, logRS []float64
	for size := hurstMinChunk; size <= maxK; size += hurstStep {
		chunks := len(returns) / size
		if chunks < 1 {
			continue
		}

		var sum float64
		var n int
		for i := 0; i < chunks; i++ {
			if rs, ok := rescaledRange(returns[i*size : (i+1)*size]); ok {
				sum += rs
				n++
			}
		}
		if n == 0 {
			continue
		}
		logSizes = append(logSizes, math.Log(float64(size)))
		logRS = append(logRS, math.Log(sum/float64(n)))
	}

	if len(logSizes) < 3 {
		return 0.5, false
	}

	_, slope := stat.LinearRegression(logSizes, logRS, nil, false)
	if math.IsNaN(slope) {
		return 0.5, false
	}
	return clamp(slope, 0, 1), true
}

func rescaledRange(chunk []float64) (float64, bool) {
	mean := stat.Mean(chunk, nil)

	var cum, lo, hi float64
	for _, x := range chunk {
		cum += x - mean
		lo = math.Min(lo, cum)
		hi = math.Max(hi, cum)
	}

	s := stat.StdDev(chunk, nil)
	if !(s > 1e-12) {
		return 0, false
	}
	return (hi - lo) / s, true
}

// Package indicators provides the technical and statistical measures used by
// regime classification and position sizing.
package indicators

import "github.com/rustyeddy/tradeguard/market"

// Indicator computes a single streaming value from candles.
// It is deterministic and safe to use in live and paper trading.
type Indicator interface {
	// Name returns a stable identifier like "ADX(14)" or "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next *closed* candle and updates internal state.
	Update(c market.Candle)

	// Ready reports whether Float64() is meaningful (warmup completed).
	Ready() bool

	Float64() float64
}

// Run feeds every candle through ind and returns the final value.
func Run(ind Indicator, candles []market.Candle) (float64, bool) {
	ind.Reset()
	for _, c := range candles {
		ind.Update(c)
	}
	return ind.Float64(), ind.Ready()
}

package risk

import (
	"math"

	"github.com/rustyeddy/tradeguard/indicators"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
)

// KellyFraction returns the half-Kelly fraction f = 0.5*(p*b - q)/b from the
// most recent lookback outcomes, clamped to [0, fmax]. ok is false when the
// history cannot support an estimate (too few trades, no wins, no losses or
// a non-positive payoff ratio).
func KellyFraction(history []portfolio.TradeOutcome, lookback, minTrades int, fmax float64) (f float64, ok bool) {
	if len(history) > lookback {
		history = history[len(history)-lookback:]
	}
	if len(history) < minTrades {
		return 0, false
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, t := range history {
		switch {
		case t.PnL > 0:
			wins++
			winSum += t.PnL
		case t.PnL < 0:
			losses++
			lossSum += -t.PnL
		}
	}
	if wins == 0 || losses == 0 {
		return 0, false
	}

	b := (winSum / float64(wins)) / (lossSum / float64(losses))
	if !(b > 0) || math.IsInf(b, 0) {
		return 0, false
	}
	p := float64(wins) / float64(len(history))
	q := 1 - p

	return clamp(0.5*(p*b-q)/b, 0, fmax), true
}

// VolScale is target/realized, capped at maxScale. A market with no
// measurable volatility gets the cap.
func VolScale(realized, target, maxScale float64) float64 {
	if !(realized > 0) {
		return maxScale
	}
	return math.Min(target/realized, maxScale)
}

// CorrScale returns (1 - avg) when the average correlation with held symbols
// exceeds threshold, and 1 otherwise.
func CorrScale(avg float64, n int, threshold float64) float64 {
	if n == 0 || avg <= threshold {
		return 1
	}
	return clamp(1-avg, 0, 1)
}

// StopPrice places the protective stop mult*ATR away from entry, or
// fallback*entry when no ATR is available.
func StopPrice(side market.Side, entry float64, bars []market.Candle, atrPeriod int, mult, fallback float64) float64 {
	dist := entry * fallback
	if atr, ready := indicators.Run(indicators.NewATR(atrPeriod), bars); ready && atr > 0 {
		dist = mult * atr
	}
	stop := entry - side.Sign()*dist
	return math.Max(stop, 0)
}

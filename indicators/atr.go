package indicators

import (
	"fmt"

	"github.com/rustyeddy/tradeguard/market"
)

// ATR is a streaming Average True Range indicator with Wilder smoothing.
type ATR struct {
	period      int
	atr         float64
	count       int
	warmupSum   float64
	prevCandle  market.Candle
	hasPrevious bool
}

func NewATR(period int) *ATR {
	if period <= 0 {
		panic("ATR period must be > 0")
	}
	return &ATR{period: period}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR(%d)", a.period)
}

// Warmup needs period+1 candles because TR requires a previous candle.
func (a *ATR) Warmup() int {
	return a.period + 1
}

func (a *ATR) Reset() {
	*a = ATR{period: a.period}
}

func (a *ATR) Update(c market.Candle) {
	if !a.hasPrevious {
		a.prevCandle = c
		a.hasPrevious = true
		return
	}

	tr := trueRange(c, a.prevCandle)

	if a.count < a.period {
		a.warmupSum += tr
		a.count++
		if a.count == a.period {
			a.atr = a.warmupSum / float64(a.period)
		}
	} else {
		a.atr = (a.atr*float64(a.period-1) + tr) / float64(a.period)
	}

	a.prevCandle = c
}

func (a *ATR) Ready() bool {
	return a.count >= a.period
}

func (a *ATR) Float64() float64 {
	if !a.Ready() {
		return 0
	}
	return a.atr
}

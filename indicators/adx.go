package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/tradeguard/market"
)

// ADX computes the Average Directional Index (Wilder) over candle OHLC.
//
// Readiness / warmup:
//   - N periods build the initial smoothed TR/+DM/-DM
//   - N DX values seed the initial ADX (average of first N DX)
//
// Practically that is about 2N periods plus the first candle; Warmup()
// reports 2N.
type ADX struct {
	n    int
	name string

	prev    market.Candle
	hasPrev bool
	ready   bool
	adx     float64
	plusDI  float64
	minusDI float64
	lastDX  float64
	periods int

	// initial accumulation for first N periods
	sumTR      float64
	sumPlusDM  float64
	sumMinusDM float64

	// Wilder smoothed values after initialization
	smTR      float64
	smPlusDM  float64
	smMinusDM float64

	dxSum   float64
	dxCount int
}

func NewADX(period int) *ADX {
	if period <= 0 {
		panic("ADX period must be > 0")
	}
	return &ADX{
		n:    period,
		name: fmt.Sprintf("ADX(%d)", period),
	}
}

func (a *ADX) Name() string     { return a.name }
func (a *ADX) Warmup() int      { return 2 * a.n }
func (a *ADX) Ready() bool      { return a.ready }
func (a *ADX) Float64() float64 { return a.adx }

func (a *ADX) Reset() {
	*a = ADX{
		n:    a.n,
		name: a.name,
	}
}

// Update consumes the next closed candle.
func (a *ADX) Update(c market.Candle) {
	if !a.hasPrev {
		a.prev = c
		a.hasPrev = true
		return
	}

	tr := trueRange(c, a.prev)

	upMove := c.High - a.prev.High
	downMove := a.prev.Low - c.Low

	var plusDM, minusDM float64
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}

	a.periods++

	if a.periods <= a.n {
		a.sumTR += tr
		a.sumPlusDM += plusDM
		a.sumMinusDM += minusDM

		if a.periods == a.n {
			a.smTR = a.sumTR
			a.smPlusDM = a.sumPlusDM
			a.smMinusDM = a.sumMinusDM

			a.plusDI, a.minusDI = di(a.smPlusDM, a.smMinusDM, a.smTR)
			a.lastDX = dx(a.plusDI, a.minusDI)

			a.dxSum = a.lastDX
			a.dxCount = 1
		}

		a.prev = c
		return
	}

	// smoothed = prior_smoothed - (prior_smoothed / N) + current
	nf := float64(a.n)
	a.smTR = a.smTR - (a.smTR / nf) + tr
	a.smPlusDM = a.smPlusDM - (a.smPlusDM / nf) + plusDM
	a.smMinusDM = a.smMinusDM - (a.smMinusDM / nf) + minusDM

	a.plusDI, a.minusDI = di(a.smPlusDM, a.smMinusDM, a.smTR)
	dxVal := dx(a.plusDI, a.minusDI)
	a.lastDX = dxVal

	if !a.ready {
		a.dxSum += dxVal
		a.dxCount++
		if a.dxCount >= a.n {
			a.adx = a.dxSum / nf
			a.ready = true
		}
	} else {
		a.adx = (a.adx*(nf-1.0) + dxVal) / nf
	}

	a.prev = c
}

func (a *ADX) PlusDI() float64  { return a.plusDI }
func (a *ADX) MinusDI() float64 { return a.minusDI }
func (a *ADX) DX() float64      { return a.lastDX }

func di(smPlusDM, smMinusDM, smTR float64) (plusDI, minusDI float64) {
	if smTR <= 0 {
		return 0, 0
	}
	plusDI = 100.0 * (smPlusDM / smTR)
	minusDI = 100.0 * (smMinusDM / smTR)
	return plusDI, minusDI
}

func dx(plusDI, minusDI float64) float64 {
	den := plusDI + minusDI
	if den <= 0 {
		return 0
	}
	return 100.0 * (math.Abs(plusDI-minusDI) / den)
}

func trueRange(current, previous market.Candle) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)
	return math.Max(highLow, math.Max(highClose, lowClose))
}

package indicators

import (
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closeCandles(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = mkCandle(i, c, c+1, c-1, c)
	}
	return out
}

func TestSimpleMA(t *testing.T) {
	t.Parallel()

	candles := closeCandles(102, 105, 106, 108, 110)

	ma := NewSMA(3)
	assert.Equal(t, "SMA(3)", ma.Name())
	assert.Equal(t, 3, ma.Warmup())
	assert.False(t, ma.Ready())
	assert.Equal(t, 0.0, ma.Float64())

	ma.Update(candles[0])
	ma.Update(candles[1])
	assert.False(t, ma.Ready())

	ma.Update(candles[2])
	require.True(t, ma.Ready())
	assert.InDelta(t, (102.0+105+106)/3, ma.Float64(), 1e-9)

	ma.Update(candles[3])
	ma.Update(candles[4])
	assert.InDelta(t, (106.0+108+110)/3, ma.Float64(), 1e-9)

	ma.Reset()
	assert.False(t, ma.Ready())
	assert.Equal(t, 0.0, ma.Float64())
}

func TestExponentialMA(t *testing.T) {
	t.Parallel()

	candles := closeCandles(102, 105, 106, 108)

	ema := NewEMA(3)
	assert.Equal(t, "EMA(3)", ema.Name())
	for _, c := range candles[:2] {
		ema.Update(c)
	}
	assert.False(t, ema.Ready())

	ema.Update(candles[2])
	require.True(t, ema.Ready())
	seed := (102.0 + 105 + 106) / 3
	assert.InDelta(t, seed, ema.Float64(), 1e-9)

	// multiplier 2/(3+1)
	ema.Update(candles[3])
	assert.InDelta(t, (108-seed)*0.5+seed, ema.Float64(), 1e-9)
}

func TestMovingAveragesMatchTalib(t *testing.T) {
	t.Parallel()

	closes := []float64{102, 105, 106, 108, 110, 111, 113, 114, 116, 118, 117, 115, 119, 121}
	candles := closeCandles(closes...)

	for _, period := range []int{2, 5, 9} {
		ema, ok := Run(NewEMA(period), candles)
		require.True(t, ok)
		want := talib.Ema(closes, period)
		assert.InDelta(t, want[len(want)-1], ema, 1e-9, "EMA(%d)", period)

		sma, ok := Run(NewSMA(period), candles)
		require.True(t, ok)
		want = talib.Sma(closes, period)
		assert.InDelta(t, want[len(want)-1], sma, 1e-9, "SMA(%d)", period)
	}
}

func TestMovingAveragesSatisfyIndicator(t *testing.T) {
	t.Parallel()

	candles := closeCandles(102, 105, 106, 108, 110)
	for _, ind := range []Indicator{NewSMA(3), NewEMA(3), NewATR(2), NewADX(2)} {
		assert.False(t, ind.Ready(), ind.Name())
		for _, c := range candles {
			ind.Update(c)
		}
		assert.True(t, ind.Ready(), ind.Name())
		ind.Reset()
		assert.False(t, ind.Ready(), ind.Name())
	}
}

package strategy

import (
	"testing"
	"time"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/regime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func windowOf(t *testing.T, closes ...float64) *market.PriceWindow {
	t.Helper()
	w := market.NewPriceWindow("BTCUSDT", "1h", 500)
	for i, c := range closes {
		require.NoError(t, w.Append(market.Candle{
			Time: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c,
		}))
	}
	return w
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func mustNew(t *testing.T, name string, p Params) Strategy {
	t.Helper()
	s, err := New(name, p)
	require.NoError(t, err)
	require.Equal(t, name, s.ID())
	return s
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"bollinger_reversion", "ema_trend", "macd_momentum", "rsi_reversion"}, Names())

	_, err := New("does_not_exist", nil)
	assert.Error(t, err)

	_, err = New("ema_trend", Params{"fast": 30, "slow": 10})
	assert.Error(t, err)

	assert.Panics(t, func() { Register("ema_trend", nil) })
}

func TestAffinityWeight(t *testing.T) {
	t.Parallel()

	a := Affinity{
		Home:     []regime.Label{regime.MeanReverting},
		Disabled: []regime.Label{regime.TrendingStrong},
		Reduced:  0.3,
	}
	assert.Equal(t, 1.0, a.Weight(regime.MeanReverting))
	assert.Equal(t, 0.0, a.Weight(regime.TrendingStrong))
	assert.Equal(t, 0.3, a.Weight(regime.RandomWalk))
}

func TestEMATrend(t *testing.T) {
	t.Parallel()

	s := mustNew(t, "ema_trend", nil)

	up := s.Signal("BTCUSDT", windowOf(t, ramp(60, 100, 1)...))
	assert.Equal(t, market.Long, up.Direction)
	assert.Greater(t, up.Strength, 0.0)
	assert.LessOrEqual(t, up.Strength, 1.0)
	assert.Equal(t, "BTCUSDT", up.Symbol)

	down := s.Signal("BTCUSDT", windowOf(t, ramp(60, 200, -1)...))
	assert.Equal(t, market.Short, down.Direction)

	warm := s.Signal("BTCUSDT", windowOf(t, ramp(10, 100, 1)...))
	assert.Equal(t, market.Flat, warm.Direction)
	assert.Equal(t, 0.0, warm.Strength)
}

func TestMACDMomentum(t *testing.T) {
	t.Parallel()

	s := mustNew(t, "macd_momentum", nil)

	closes := make([]float64, 80)
	p := 100.0
	for i := range closes {
		closes[i] = p
		p *= 1.01
	}
	assert.Equal(t, market.Long, s.Signal("BTCUSDT", windowOf(t, closes...)).Direction)
	assert.Equal(t, market.Flat, s.Signal("BTCUSDT", windowOf(t, closes[:20]...)).Direction)
}

func TestBollingerReversion(t *testing.T) {
	t.Parallel()

	s := mustNew(t, "bollinger_reversion", nil)

	closes := append(ramp(30, 100, 0), 90)
	sig := s.Signal("ETHUSDT", windowOf(t, closes...))
	assert.Equal(t, market.Long, sig.Direction)
	assert.GreaterOrEqual(t, sig.Strength, 0.5)

	closes = append(ramp(30, 100, 0), 110)
	assert.Equal(t, market.Short, s.Signal("ETHUSDT", windowOf(t, closes...)).Direction)

	flat := s.Signal("ETHUSDT", windowOf(t, ramp(30, 100, 0)...))
	assert.Equal(t, market.Flat, flat.Direction)
}

func TestRSIReversion(t *testing.T) {
	t.Parallel()

	s := mustNew(t, "rsi_reversion", nil)

	falling := s.Signal("ETHUSDT", windowOf(t, ramp(40, 200, -1)...))
	assert.Equal(t, market.Long, falling.Direction)
	assert.InDelta(t, 1.0, falling.Strength, 1e-9)

	rising := s.Signal("ETHUSDT", windowOf(t, ramp(40, 100, 1)...))
	assert.Equal(t, market.Short, rising.Direction)
	assert.InDelta(t, 1.0, rising.Strength, 1e-9)
}

package strategy

import (
	"fmt"
	"math"

	"github.com/rustyeddy/tradeguard/indicators"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/regime"
)

// EMATrend follows the spread between a fast and a slow EMA. Strength grows
// with the spread relative to price and saturates at FullSpread.
type EMATrend struct {
	Fast       int
	Slow       int
	FullSpread float64
}

func init() {
	Register("ema_trend", func(p Params) (Strategy, error) {
		s := &EMATrend{
			Fast:       p.Int("fast", 12),
			Slow:       p.Int("slow", 26),
			FullSpread: p.Float("full_spread", 0.01),
		}
		if s.Fast < 2 || s.Slow <= s.Fast || s.FullSpread <= 0 {
			return nil, fmt.Errorf("ema_trend: need 2 <= fast < slow and full_spread > 0")
		}
		return s, nil
	})
}

func (s *EMATrend) ID() string { return "ema_trend" }

func (s *EMATrend) Affinity() Affinity {
	return Affinity{
		Home:     []regime.Label{regime.TrendingStrong, regime.TrendingWeak},
		Disabled: []regime.Label{regime.MeanReverting},
		Reduced:  0.2,
	}
}

func (s *EMATrend) Signal(symbol string, w *market.PriceWindow) Signal {
	if w.Len() < s.Slow+1 {
		return Hold(s.ID(), symbol, "warmup")
	}
	candles := w.Candles()
	fast, _ := indicators.Run(indicators.NewEMA(s.Fast), candles)
	slow, _ := indicators.Run(indicators.NewEMA(s.Slow), candles)
	if slow <= 0 {
		return Hold(s.ID(), symbol, "no price")
	}

	spread := (fast - slow) / slow
	return newSignal(s.ID(), symbol, sign(spread), math.Abs(spread)/s.FullSpread,
		fmt.Sprintf("ema%d/ema%d spread %.4f", s.Fast, s.Slow, spread))
}

package strategy

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/regime"
)

// MACDMomentum trades the sign of the MACD histogram.
type MACDMomentum struct {
	Fast, Slow, SignalPeriod int
	// FullHist is the histogram size, as a fraction of price, that counts as
	// full strength.
	FullHist float64
}

func init() {
	Register("macd_momentum", func(p Params) (Strategy, error) {
		s := &MACDMomentum{
			Fast:         p.Int("fast", 12),
			Slow:         p.Int("slow", 26),
			SignalPeriod: p.Int("signal", 9),
			FullHist:     p.Float("full_hist", 0.002),
		}
		if s.Fast < 2 || s.Slow <= s.Fast || s.SignalPeriod < 1 || s.FullHist <= 0 {
			return nil, fmt.Errorf("macd_momentum: invalid periods")
		}
		return s, nil
	})
}

func (s *MACDMomentum) ID() string { return "macd_momentum" }

func (s *MACDMomentum) Affinity() Affinity {
	return Affinity{
		Home:     []regime.Label{regime.TrendingStrong, regime.TrendingWeak},
		Disabled: []regime.Label{regime.MeanReverting},
		Reduced:  0.3,
	}
}

func (s *MACDMomentum) Signal(symbol string, w *market.PriceWindow) Signal {
	if w.Len() < s.Slow+s.SignalPeriod+1 {
		return Hold(s.ID(), symbol, "warmup")
	}
	closes := w.Closes()
	_, _, hist := talib.Macd(closes, s.Fast, s.Slow, s.SignalPeriod)
	h := last(hist)
	px := last(closes)

	return newSignal(s.ID(), symbol, sign(h), math.Abs(h)/(px*s.FullHist),
		fmt.Sprintf("macd hist %.6f", h))
}

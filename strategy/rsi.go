package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/regime"
)

// RSIReversion buys oversold and sells overbought readings.
type RSIReversion struct {
	Period     int
	Oversold   float64
	Overbought float64
}

func init() {
	Register("rsi_reversion", func(p Params) (Strategy, error) {
		s := &RSIReversion{
			Period:     p.Int("period", 14),
			Oversold:   p.Float("oversold", 30),
			Overbought: p.Float("overbought", 70),
		}
		if s.Period < 2 || s.Oversold <= 0 || s.Overbought >= 100 || s.Oversold >= s.Overbought {
			return nil, fmt.Errorf("rsi_reversion: need period >= 2 and 0 < oversold < overbought < 100")
		}
		return s, nil
	})
}

func (s *RSIReversion) ID() string { return "rsi_reversion" }

func (s *RSIReversion) Affinity() Affinity {
	return Affinity{
		Home:     []regime.Label{regime.MeanReverting},
		Disabled: []regime.Label{regime.TrendingStrong},
		Reduced:  0.3,
	}
}

func (s *RSIReversion) Signal(symbol string, w *market.PriceWindow) Signal {
	if w.Len() < s.Period+1 {
		return Hold(s.ID(), symbol, "warmup")
	}
	rsi := last(talib.Rsi(w.Closes(), s.Period))
	reason := fmt.Sprintf("rsi %.1f", rsi)

	switch {
	case rsi < s.Oversold:
		return newSignal(s.ID(), symbol, market.Long, (s.Oversold-rsi)/s.Oversold, reason)
	case rsi > s.Overbought:
		return newSignal(s.ID(), symbol, market.Short, (rsi-s.Overbought)/(100-s.Overbought), reason)
	default:
		return Hold(s.ID(), symbol, reason)
	}
}

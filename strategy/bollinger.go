package strategy

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/regime"
)

// BollingerReversion fades closes outside the Bollinger bands. Strength is
// the distance of %B from the band midpoint: 0.5 at a band edge, 1 half a
// band width beyond it.
type BollingerReversion struct {
	Period int
	K      float64
}

func init() {
	Register("bollinger_reversion", func(p Params) (Strategy, error) {
		s := &BollingerReversion{
			Period: p.Int("period", 20),
			K:      p.Float("k", 2),
		}
		if s.Period < 2 || s.K <= 0 {
			return nil, fmt.Errorf("bollinger_reversion: need period >= 2 and k > 0")
		}
		return s, nil
	})
}

func (s *BollingerReversion) ID() string { return "bollinger_reversion" }

func (s *BollingerReversion) Affinity() Affinity {
	return Affinity{
		Home:     []regime.Label{regime.MeanReverting},
		Disabled: []regime.Label{regime.TrendingStrong},
		Reduced:  0.3,
	}
}

func (s *BollingerReversion) Signal(symbol string, w *market.PriceWindow) Signal {
	if w.Len() < s.Period {
		return Hold(s.ID(), symbol, "warmup")
	}
	closes := w.Closes()
	upper, _, lower := talib.BBands(closes, s.Period, s.K, s.K, talib.SMA)
	up, lo, px := last(upper), last(lower), last(closes)
	if up-lo <= 0 {
		return Hold(s.ID(), symbol, "flat bands")
	}

	pb := (px - lo) / (up - lo)
	reason := fmt.Sprintf("%%b %.3f", pb)
	switch {
	case pb < 0:
		return newSignal(s.ID(), symbol, market.Long, math.Abs(pb-0.5), reason)
	case pb > 1:
		return newSignal(s.ID(), symbol, market.Short, math.Abs(pb-0.5), reason)
	default:
		return Hold(s.ID(), symbol, reason)
	}
}

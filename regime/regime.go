// Package regime classifies the market state of a symbol from its recent
// bars using the Hurst exponent and Wilder's ADX.
package regime

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rustyeddy/tradeguard/indicators"
	"github.com/rustyeddy/tradeguard/market"
)

// ErrInsufficientData is returned when the window holds fewer bars than the
// classifier needs. No label is produced; see OrFallback.
var ErrInsufficientData = errors.New("insufficient data")

// Label is the market regime of a symbol for one cycle.
type Label int

const (
	RandomWalk Label = iota
	TrendingStrong
	TrendingWeak
	MeanReverting
)

var Labels = []Label{TrendingStrong, TrendingWeak, MeanReverting, RandomWalk}

func (l Label) String() string {
	switch l {
	case TrendingStrong:
		return "TRENDING_STRONG"
	case TrendingWeak:
		return "TRENDING_WEAK"
	case MeanReverting:
		return "MEAN_REVERTING"
	default:
		return "RANDOM_WALK"
	}
}

func ParseLabel(s string) (Label, error) {
	for _, l := range Labels {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return RandomWalk, fmt.Errorf("unknown regime %q", s)
}

func (l Label) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Label) UnmarshalText(b []byte) error {
	v, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Config holds the classifier thresholds.
type Config struct {
	Window          int     `json:"window" yaml:"window"`
	ADXPeriod       int     `json:"adx_period" yaml:"adx_period"`
	HurstTrend      float64 `json:"hurst_trend" yaml:"hurst_trend"`
	HurstMeanRevert float64 `json:"hurst_mean_revert" yaml:"hurst_mean_revert"`
	ADXTrend        float64 `json:"adx_trend" yaml:"adx_trend"`
}

func DefaultConfig() Config {
	return Config{
		Window:          100,
		ADXPeriod:       14,
		HurstTrend:      0.6,
		HurstMeanRevert: 0.4,
		ADXTrend:        25,
	}
}

func (c Config) Validate() error {
	if c.ADXPeriod <= 0 {
		return fmt.Errorf("regime.adx_period must be positive")
	}
	if c.Window < 2*c.ADXPeriod+1 {
		return fmt.Errorf("regime.window must be at least %d for adx_period %d", 2*c.ADXPeriod+1, c.ADXPeriod)
	}
	if c.HurstMeanRevert <= 0 || c.HurstTrend >= 1 || c.HurstMeanRevert >= c.HurstTrend {
		return fmt.Errorf("regime hurst thresholds must satisfy 0 < hurst_mean_revert < hurst_trend < 1")
	}
	if c.ADXTrend <= 0 {
		return fmt.Errorf("regime.adx_trend must be positive")
	}
	return nil
}

// Classification is the classifier output for one window.
type Classification struct {
	Label      Label
	Hurst      float64
	ADX        float64
	Confidence float64
}

type Classifier struct {
	cfg Config
}

func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify labels the last Window bars of w. It is a pure function of the
// window contents.
func (c *Classifier) Classify(w *market.PriceWindow) (Classification, error) {
	if w.Len() < c.cfg.Window {
		return Classification{}, fmt.Errorf("%s: have %d bars, need %d: %w",
			w.Symbol, w.Len(), c.cfg.Window, ErrInsufficientData)
	}

	bars := w.Tail(c.cfg.Window)
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	h, ok := indicators.Hurst(closes)
	if !ok {
		return Classification{}, fmt.Errorf("%s: hurst undefined over window: %w", w.Symbol, ErrInsufficientData)
	}
	a, ready := indicators.Run(indicators.NewADX(c.cfg.ADXPeriod), bars)
	if !ready {
		return Classification{}, fmt.Errorf("%s: adx not ready: %w", w.Symbol, ErrInsufficientData)
	}

	label := c.Label(h, a)
	return Classification{
		Label:      label,
		Hurst:      h,
		ADX:        a,
		Confidence: c.confidence(label, h, a),
	}, nil
}

// Label applies the threshold rules in precedence order.
func (c *Classifier) Label(hurst, adx float64) Label {
	switch {
	case hurst > c.cfg.HurstTrend && adx > c.cfg.ADXTrend:
		return TrendingStrong
	case hurst > c.cfg.HurstTrend:
		return TrendingWeak
	case hurst < c.cfg.HurstMeanRevert:
		return MeanReverting
	default:
		return RandomWalk
	}
}

// confidence measures how deep inside its zone a reading sits.
func (c *Classifier) confidence(l Label, h, a float64) float64 {
	const hurstSpan = 0.15
	switch l {
	case TrendingStrong:
		return clamp01(0.5*(h-c.cfg.HurstTrend)/hurstSpan + 0.5*(a-c.cfg.ADXTrend)/c.cfg.ADXTrend)
	case TrendingWeak:
		return clamp01((h - c.cfg.HurstTrend) / hurstSpan)
	case MeanReverting:
		return clamp01((c.cfg.HurstMeanRevert - h) / hurstSpan)
	default:
		mid := (c.cfg.HurstTrend + c.cfg.HurstMeanRevert) / 2
		half := (c.cfg.HurstTrend - c.cfg.HurstMeanRevert) / 2
		return clamp01(1 - math.Abs(h-mid)/half)
	}
}

// OrFallback resolves a classifier result into the label a caller should act
// on: the classified label, or RandomWalk when data was insufficient.
func OrFallback(c Classification, err error) Label {
	if err != nil {
		return RandomWalk
	}
	return c.Label
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

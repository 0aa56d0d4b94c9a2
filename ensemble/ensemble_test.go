package ensemble

import (
	"testing"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/regime"
	"github.com/rustyeddy/tradeguard/strategy"
	"github.com/stretchr/testify/assert"
)

func affinities() map[string]strategy.Affinity {
	trend := strategy.Affinity{Home: []regime.Label{regime.TrendingStrong}, Reduced: 0.5}
	return map[string]strategy.Affinity{
		"a": trend,
		"b": trend,
		"c": {Home: []regime.Label{regime.TrendingStrong}, Disabled: []regime.Label{regime.MeanReverting}, Reduced: 0.5},
	}
}

func sig(id string, dir market.Direction, strength float64) strategy.Signal {
	return strategy.Signal{StrategyID: id, Symbol: "BTCUSDT", Direction: dir, Strength: strength}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig(), affinities())

	tests := []struct {
		name    string
		label   regime.Label
		signals []strategy.Signal
		dir     market.Direction
		hold    HoldReason
		conf    float64
	}{
		{
			name:    "unanimous long",
			label:   regime.TrendingStrong,
			signals: []strategy.Signal{sig("a", market.Long, 0.9), sig("b", market.Long, 0.8), sig("c", market.Long, 0.7)},
			dir:     market.Long,
			conf:    0.8,
		},
		{
			name:    "single voter lacks consensus",
			label:   regime.TrendingStrong,
			signals: []strategy.Signal{sig("a", market.Long, 0.9), sig("b", market.Flat, 0), sig("c", market.Flat, 0)},
			hold:    HoldNoConsensus,
			conf:    0.9,
		},
		{
			name:    "exact tie holds",
			label:   regime.TrendingStrong,
			signals: []strategy.Signal{sig("a", market.Long, 0.8), sig("b", market.Short, 0.8)},
			hold:    HoldTie,
		},
		{
			name:    "low confidence",
			label:   regime.TrendingStrong,
			signals: []strategy.Signal{sig("a", market.Long, 0.5), sig("b", market.Long, 0.5)},
			hold:    HoldLowConfidence,
			conf:    0.5,
		},
		{
			name:    "threshold is exclusive",
			label:   regime.TrendingStrong,
			signals: []strategy.Signal{sig("a", market.Long, 0.6), sig("b", market.Long, 0.6)},
			hold:    HoldLowConfidence,
			conf:    0.6,
		},
		{
			name:    "disabled strategy is ignored",
			label:   regime.MeanReverting,
			signals: []strategy.Signal{sig("a", market.Short, 0.9), sig("b", market.Short, 0.9), sig("c", market.Long, 1)},
			dir:     market.Short,
			conf:    0.9,
		},
		{
			name:    "no signals",
			label:   regime.RandomWalk,
			signals: nil,
			hold:    HoldNoSignals,
		},
		{
			name:    "opposing minority still counts in denominator",
			label:   regime.TrendingStrong,
			signals: []strategy.Signal{sig("a", market.Long, 1), sig("b", market.Long, 1), sig("c", market.Short, 1)},
			hold:    HoldLowConfidence,
			conf:    1.0 / 3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Aggregate("BTCUSDT", tt.signals, tt.label)
			assert.Equal(t, tt.dir, d.Direction)
			assert.Equal(t, tt.hold, d.Hold)
			assert.InDelta(t, tt.conf, d.Confidence, 1e-9)
			assert.Equal(t, tt.label, d.Regime)
			assert.Equal(t, "BTCUSDT", d.Symbol)
		})
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig(), affinities())
	s1 := []strategy.Signal{sig("a", market.Long, 0.9), sig("b", market.Long, 0.7), sig("c", market.Short, 0.1)}
	s2 := []strategy.Signal{s1[2], s1[0], s1[1]}

	assert.Equal(t, e.Aggregate("X", s1, regime.TrendingStrong), e.Aggregate("X", s2, regime.TrendingStrong))
}

func TestTwoStrategyPolicy(t *testing.T) {
	t.Parallel()

	one := []strategy.Signal{sig("a", market.Long, 0.9)}
	two := []strategy.Signal{sig("a", market.Long, 0.9), sig("b", market.Long, 0.9)}

	abs := New(DefaultConfig(), affinities())
	assert.Equal(t, HoldNoConsensus, abs.Aggregate("X", one, regime.TrendingStrong).Hold)
	assert.Equal(t, market.Long, abs.Aggregate("X", two, regime.TrendingStrong).Direction)

	cfg := DefaultConfig()
	cfg.Mode = Proportional
	prop := New(cfg, affinities())
	// 2-of-3 scaled to a single voter requires one agreeing signal.
	assert.Equal(t, market.Long, prop.Aggregate("X", one, regime.TrendingStrong).Direction)
	// Two voters need ceil(4/3) = 2 agreeing.
	split := []strategy.Signal{sig("a", market.Long, 1), sig("b", market.Short, 0.1)}
	assert.Equal(t, HoldNoConsensus, prop.Aggregate("X", split, regime.TrendingStrong).Hold)
}

func TestDefaultWeightForUnknownStrategy(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig(), affinities())
	assert.Equal(t, 0.3, e.Weight("mystery", regime.TrendingStrong))
	assert.Equal(t, 0.5, e.Weight("a", regime.RandomWalk))
	assert.Equal(t, 0.0, e.Weight("c", regime.MeanReverting))
}

func TestFromStrategiesOverrides(t *testing.T) {
	t.Parallel()

	s, err := strategy.New("rsi_reversion", nil)
	if !assert.NoError(t, err) {
		return
	}
	e := FromStrategies(DefaultConfig(), []strategy.Strategy{s}, map[string]strategy.Affinity{
		"rsi_reversion": {Home: []regime.Label{regime.RandomWalk}},
	})
	assert.Equal(t, 1.0, e.Weight("rsi_reversion", regime.RandomWalk))
	assert.Equal(t, 0.0, e.Weight("rsi_reversion", regime.MeanReverting))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Mode = "majority"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinAgree = 0
	assert.Error(t, cfg.Validate())
}

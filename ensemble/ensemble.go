// Package ensemble combines per-strategy signals into one regime-weighted
// directive per symbol.
package ensemble

import (
	"fmt"
	"math"
	"sort"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/regime"
	"github.com/rustyeddy/tradeguard/strategy"
)

// ConsensusMode selects how the agreement requirement scales with the
// number of strategies that actually voted.
type ConsensusMode string

const (
	// Absolute requires at least MinAgree agreeing signals, however many voted.
	Absolute ConsensusMode = "absolute"
	// Proportional requires ceil(MinAgree/OutOf * voters) agreeing signals.
	Proportional ConsensusMode = "proportional"
)

// HoldReason explains why a directive is flat.
type HoldReason string

const (
	HoldNone          HoldReason = ""
	HoldNoSignals     HoldReason = "no_signals"
	HoldTie           HoldReason = "tie"
	HoldNoConsensus   HoldReason = "no_consensus"
	HoldLowConfidence HoldReason = "low_confidence"
)

const tieEpsilon = 1e-9

type Config struct {
	Mode                ConsensusMode `json:"consensus_mode" yaml:"consensus_mode"`
	MinAgree            int           `json:"min_agree" yaml:"min_agree"`
	OutOf               int           `json:"out_of" yaml:"out_of"`
	ConfidenceThreshold float64       `json:"confidence_threshold" yaml:"confidence_threshold"`
	// DefaultWeight applies to strategies with no affinity entry.
	DefaultWeight float64 `json:"default_weight" yaml:"default_weight"`
}

func DefaultConfig() Config {
	return Config{
		Mode:                Absolute,
		MinAgree:            2,
		OutOf:               3,
		ConfidenceThreshold: 0.6,
		DefaultWeight:       0.3,
	}
}

func (c Config) Validate() error {
	if c.Mode != Absolute && c.Mode != Proportional {
		return fmt.Errorf("ensemble.consensus_mode must be %q or %q", Absolute, Proportional)
	}
	if c.MinAgree < 1 {
		return fmt.Errorf("ensemble.min_agree must be at least 1")
	}
	if c.Mode == Proportional && c.OutOf < c.MinAgree {
		return fmt.Errorf("ensemble.out_of must be >= min_agree")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 1 {
		return fmt.Errorf("ensemble.confidence_threshold must be in [0,1)")
	}
	if c.DefaultWeight < 0 || c.DefaultWeight > 1 {
		return fmt.Errorf("ensemble.default_weight must be in [0,1]")
	}
	return nil
}

// Directive is the aggregated, immutable output for one symbol and cycle.
type Directive struct {
	Symbol     string
	Direction  market.Direction
	Confidence float64
	Vote       float64
	Regime     regime.Label
	// Agreeing counts non-zero signals sharing the vote's sign; Voters
	// counts all weighted non-zero signals.
	Agreeing int
	Voters   int
	Hold     HoldReason
}

func (d Directive) Actionable() bool { return d.Direction != market.Flat }

// Ensemble aggregates signals using per-strategy regime affinities.
type Ensemble struct {
	cfg        Config
	affinities map[string]strategy.Affinity
}

// New builds an ensemble. Affinities are keyed by strategy ID.
func New(cfg Config, affinities map[string]strategy.Affinity) *Ensemble {
	m := make(map[string]strategy.Affinity, len(affinities))
	for k, v := range affinities {
		m[k] = v
	}
	return &Ensemble{cfg: cfg, affinities: m}
}

// FromStrategies builds an ensemble from each strategy's declared affinity,
// with overrides taking precedence.
func FromStrategies(cfg Config, strats []strategy.Strategy, overrides map[string]strategy.Affinity) *Ensemble {
	m := make(map[string]strategy.Affinity, len(strats))
	for _, s := range strats {
		m[s.ID()] = s.Affinity()
	}
	for k, v := range overrides {
		m[k] = v
	}
	return New(cfg, m)
}

// Weight returns the effective weight of a strategy in a regime.
func (e *Ensemble) Weight(strategyID string, l regime.Label) float64 {
	a, ok := e.affinities[strategyID]
	if !ok {
		return e.cfg.DefaultWeight
	}
	return a.Weight(l)
}

// Aggregate combines signals for symbol under the given regime label.
func (e *Ensemble) Aggregate(symbol string, signals []strategy.Signal, label regime.Label) Directive {
	d := Directive{Symbol: symbol, Regime: label}

	// Deterministic summation order regardless of caller ordering.
	sorted := make([]strategy.Signal, len(signals))
	copy(sorted, signals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StrategyID < sorted[j].StrategyID })

	var num, den float64
	votes := make([]market.Direction, 0, len(sorted))
	for _, s := range sorted {
		if s.Direction == market.Flat || s.Strength <= 0 {
			continue
		}
		w := e.Weight(s.StrategyID, label)
		if w <= 0 {
			continue
		}
		num += w * float64(s.Direction) * s.Strength
		den += w
		votes = append(votes, s.Direction)
	}
	d.Voters = len(votes)

	if den == 0 {
		d.Hold = HoldNoSignals
		return d
	}

	d.Vote = num / den
	d.Confidence = math.Min(1, math.Abs(d.Vote))
	if math.Abs(d.Vote) < tieEpsilon {
		d.Confidence = 0
		d.Hold = HoldTie
		return d
	}

	want := market.Long
	if d.Vote < 0 {
		want = market.Short
	}
	for _, v := range votes {
		if v == want {
			d.Agreeing++
		}
	}

	if d.Agreeing < e.required(d.Voters) {
		d.Hold = HoldNoConsensus
		return d
	}
	if d.Confidence <= e.cfg.ConfidenceThreshold {
		d.Hold = HoldLowConfidence
		return d
	}

	d.Direction = want
	return d
}

func (e *Ensemble) required(voters int) int {
	if e.cfg.Mode == Proportional {
		need := (e.cfg.MinAgree*voters + e.cfg.OutOf - 1) / e.cfg.OutOf
		return max(need, 1)
	}
	return e.cfg.MinAgree
}

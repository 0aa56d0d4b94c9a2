// Package strategy defines the signal producers fed into the ensemble and a
// registry of the built-in implementations.
package strategy

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/regime"
)

// Signal is one strategy's opinion on a symbol for the current bar.
type Signal struct {
	StrategyID string
	Symbol     string
	Direction  market.Direction
	Strength   float64
	Reason     string
}

// Hold returns a flat signal.
func Hold(id, symbol, reason string) Signal {
	return Signal{StrategyID: id, Symbol: symbol, Direction: market.Flat, Reason: reason}
}

func newSignal(id, symbol string, dir market.Direction, strength float64, reason string) Signal {
	strength = math.Max(0, math.Min(1, strength))
	if dir == market.Flat || strength == 0 {
		return Hold(id, symbol, reason)
	}
	return Signal{StrategyID: id, Symbol: symbol, Direction: dir, Strength: strength, Reason: reason}
}

// Strategy produces a signal from a price window. Implementations must be
// deterministic functions of the window and their own parameters.
type Strategy interface {
	ID() string
	Affinity() Affinity
	Signal(symbol string, w *market.PriceWindow) Signal
}

// Affinity describes how much a strategy is trusted in each regime.
type Affinity struct {
	Home     []regime.Label `json:"home" yaml:"home"`
	Disabled []regime.Label `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Reduced  float64        `json:"reduced" yaml:"reduced"`
}

// Weight is 1 in a home regime, 0 in a disabled one and Reduced otherwise.
func (a Affinity) Weight(l regime.Label) float64 {
	if slices.Contains(a.Disabled, l) {
		return 0
	}
	if slices.Contains(a.Home, l) {
		return 1
	}
	return a.Reduced
}

// Params are the numeric tuning knobs of a strategy.
type Params map[string]float64

func (p Params) Float(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

func (p Params) Int(name string, def int) int {
	if v, ok := p[name]; ok {
		return int(v)
	}
	return def
}

type Factory func(Params) (Strategy, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a strategy available by name. It panics on duplicates.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic("strategy: Register called twice for " + name)
	}
	registry[name] = f
}

// New builds the named strategy.
func New(name string, p Params) (Strategy, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(p)
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func last(xs []float64) float64 {
	return xs[len(xs)-1]
}

func sign(x float64) market.Direction {
	switch {
	case x > 0:
		return market.Long
	case x < 0:
		return market.Short
	default:
		return market.Flat
	}
}

package risk

import (
	"sort"

	"github.com/rustyeddy/tradeguard/indicators"
)

// Correlations is a symmetric matrix of return correlations between symbols.
type Correlations map[string]map[string]float64

// NewCorrelations computes pairwise correlations from each symbol's closes,
// using at most lookback prices per series. Pairs without enough data are
// omitted.
func NewCorrelations(closes map[string][]float64, lookback int) Correlations {
	syms := make([]string, 0, len(closes))
	for s := range closes {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	m := make(Correlations, len(syms))
	for i, a := range syms {
		for _, b := range syms[i+1:] {
			c, ok := indicators.Correlation(tail(closes[a], lookback), tail(closes[b], lookback))
			if !ok {
				continue
			}
			m.set(a, b, c)
		}
	}
	return m
}

func (m Correlations) set(a, b string, c float64) {
	if m[a] == nil {
		m[a] = make(map[string]float64)
	}
	if m[b] == nil {
		m[b] = make(map[string]float64)
	}
	m[a][b] = c
	m[b][a] = c
}

func (m Correlations) Get(a, b string) (float64, bool) {
	c, ok := m[a][b]
	return c, ok
}

// Average is the mean correlation of symbol with each of others that has a
// known value. n counts the pairs used.
func (m Correlations) Average(symbol string, others []string) (avg float64, n int) {
	var sum float64
	for _, o := range others {
		if o == symbol {
			continue
		}
		if c, ok := m.Get(symbol, o); ok {
			sum += c
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

func tail(xs []float64, n int) []float64 {
	if n > 0 && len(xs) > n {
		return xs[len(xs)-n:]
	}
	return xs
}

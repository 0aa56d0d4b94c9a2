package market

import (
	"errors"
	"fmt"
)

var ErrOutOfOrder = errors.New("candle out of order")

// PriceWindow is a bounded, append-only sliding window of bars for one
// (symbol, timeframe). It is not safe for concurrent use; each window is
// owned by a single per-symbol task.
type PriceWindow struct {
	Symbol    string
	Timeframe string

	capacity int
	candles  []Candle
}

func NewPriceWindow(symbol, timeframe string, capacity int) *PriceWindow {
	if capacity <= 0 {
		panic("price window capacity must be > 0")
	}
	return &PriceWindow{
		Symbol:    symbol,
		Timeframe: timeframe,
		capacity:  capacity,
		candles:   make([]Candle, 0, capacity),
	}
}

// Append adds a closed bar, evicting the oldest when the window is full.
// Bars must arrive in strictly increasing time order.
func (w *PriceWindow) Append(c Candle) error {
	if n := len(w.candles); n > 0 && !c.Time.After(w.candles[n-1].Time) {
		return fmt.Errorf("%s %s at %s: %w", w.Symbol, w.Timeframe, c.Time.Format("2006-01-02T15:04:05Z07:00"), ErrOutOfOrder)
	}
	if len(w.candles) == w.capacity {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:len(w.candles)-1]
	}
	w.candles = append(w.candles, c)
	return nil
}

func (w *PriceWindow) Len() int      { return len(w.candles) }
func (w *PriceWindow) Capacity() int { return w.capacity }

// Candles returns a copy of the bars, oldest first.
func (w *PriceWindow) Candles() []Candle {
	out := make([]Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Tail returns a copy of the most recent n bars (or fewer if not available).
func (w *PriceWindow) Tail(n int) []Candle {
	if n > len(w.candles) {
		n = len(w.candles)
	}
	out := make([]Candle, n)
	copy(out, w.candles[len(w.candles)-n:])
	return out
}

// Last returns the most recent bar.
func (w *PriceWindow) Last() (Candle, bool) {
	if len(w.candles) == 0 {
		return Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}

func (w *PriceWindow) Closes() []float64 { return w.series(func(c Candle) float64 { return c.Close }) }
func (w *PriceWindow) Highs() []float64  { return w.series(func(c Candle) float64 { return c.High }) }
func (w *PriceWindow) Lows() []float64   { return w.series(func(c Candle) float64 { return c.Low }) }

func (w *PriceWindow) series(f func(Candle) float64) []float64 {
	out := make([]float64, len(w.candles))
	for i, c := range w.candles {
		out[i] = f(c)
	}
	return out
}

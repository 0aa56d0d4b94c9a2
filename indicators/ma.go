package indicators

import (
	"fmt"

	"github.com/rustyeddy/tradeguard/market"
)

// SimpleMA is a streaming simple moving average of closes.
type SimpleMA struct {
	period int
	closes []float64
	sum    float64
}

// NewSMA creates a simple moving average over period closes.
func NewSMA(period int) *SimpleMA {
	return &SimpleMA{period: period, closes: make([]float64, 0, period)}
}

func (m *SimpleMA) Name() string { return fmt.Sprintf("SMA(%d)", m.period) }
func (m *SimpleMA) Warmup() int  { return m.period }

func (m *SimpleMA) Reset() {
	m.closes = m.closes[:0]
	m.sum = 0
}

func (m *SimpleMA) Update(c market.Candle) {
	m.closes = append(m.closes, c.Close)
	m.sum += c.Close
	if len(m.closes) > m.period {
		m.sum -= m.closes[0]
		m.closes = m.closes[1:]
	}
}

func (m *SimpleMA) Ready() bool { return m.period > 0 && len(m.closes) >= m.period }

func (m *SimpleMA) Float64() float64 {
	if !m.Ready() {
		return 0
	}
	return m.sum / float64(m.period)
}

// ExponentialMA is a streaming exponential moving average of closes. It is
// seeded with the simple average of the first period closes.
type ExponentialMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

// NewEMA creates an exponential moving average with smoothing 2/(period+1).
func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ExponentialMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }
func (e *ExponentialMA) Warmup() int  { return e.period }

func (e *ExponentialMA) Reset() {
	e.ema = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *ExponentialMA) Update(c market.Candle) {
	if e.count < e.period {
		e.warmupSum += c.Close
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (c.Close-e.ema)*e.multiplier + e.ema
}

func (e *ExponentialMA) Ready() bool { return e.period > 0 && e.count >= e.period }

func (e *ExponentialMA) Float64() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}

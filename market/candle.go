package market

import "time"

// Candle represents one closed OHLCV bar.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Valid reports whether the bar has a timestamp and internally consistent prices.
func (c Candle) Valid() bool {
	if c.Time.IsZero() {
		return false
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	return c.High >= c.Low && c.High >= c.Open && c.High >= c.Close &&
		c.Low <= c.Open && c.Low <= c.Close
}

// Direction is the sign of a trading opinion: -1 short, 0 flat, +1 long.
type Direction int

const (
	Short Direction = -1
	Flat  Direction = 0
	Long  Direction = 1
)

func (d Direction) String() string {
	switch {
	case d > 0:
		return "LONG"
	case d < 0:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Side returns the order side that opens a position in direction d.
func (d Direction) Side() Side {
	if d < 0 {
		return Sell
	}
	return Buy
}

// Side is an order side.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for Buy and -1 for Sell.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

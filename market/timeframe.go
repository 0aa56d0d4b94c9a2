package market

import (
	"fmt"
	"time"
)

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe maps an exchange interval string like "1h" to its bar
// duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	d, ok := timeframes[tf]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
	return d, nil
}

// PeriodsPerYear is the number of bars of duration d in a 365-day year.
func PeriodsPerYear(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(365*24*time.Hour) / float64(d)
}
